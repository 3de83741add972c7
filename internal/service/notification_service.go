package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/notify"
)

// NotificationService renders and sends ticket notifications.
type NotificationService struct {
	sender notify.Sender
	logger *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(sender notify.Sender, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = notify.NewLogSender(logger)
	}
	return &NotificationService{sender: sender, logger: logger}
}

// NotifyAssignee tells the assignee about a newly assigned ticket.
func (n *NotificationService) NotifyAssignee(ctx context.Context, assignee *domain.User, ticket *domain.Ticket) error {
	body := fmt.Sprintf("A new ticket is assigned to you: %s\n\nDescription: %s\n\nPriority: %s\nStatus: %s",
		ticket.Title, ticket.Description, priorityLabel(ticket.Priority), ticket.Status)
	if err := n.sender.Send(ctx, assignee.Email, "Ticket Assigned", body); err != nil {
		return fmt.Errorf("notify assignee %s: %w", assignee.ID, err)
	}
	n.logger.Info("assignee notified", zap.String("ticket_id", ticket.ID), zap.String("user_id", assignee.ID))
	return nil
}

// NotifyStatusChange tells the ticket creator that their ticket moved on.
func (n *NotificationService) NotifyStatusChange(ctx context.Context, creator *domain.User, ticket *domain.Ticket, oldStatus, newStatus domain.TicketStatus) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket: %q (ID: %s)\n", ticket.Title, ticket.ID)
	fmt.Fprintf(&b, "Old Status: %s\n", oldStatus)
	fmt.Fprintf(&b, "New Status: %s\n", newStatus)
	fmt.Fprintf(&b, "Description: %s\n", ticket.Description)
	fmt.Fprintf(&b, "Priority: %s\n", priorityLabel(ticket.Priority))

	subject := fmt.Sprintf("Ticket status changed: %s", ticket.Title)
	if err := n.sender.Send(ctx, creator.Email, subject, b.String()); err != nil {
		return fmt.Errorf("notify creator %s: %w", creator.ID, err)
	}
	n.logger.Info("creator notified of status change",
		zap.String("ticket_id", ticket.ID),
		zap.String("user_id", creator.ID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)))
	return nil
}

func priorityLabel(p domain.TicketPriority) string {
	if p == "" {
		return "N/A"
	}
	return string(p)
}
