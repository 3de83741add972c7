package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/workflow"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

const skipReason = "Status change not from IN_PROGRESS to another status"

// StatusChanged tells a ticket's creator when work on it stops being in
// progress.
type StatusChanged struct {
	deps Dependencies
}

// Handle runs the status-changed steps.
func (w *StatusChanged) Handle(ctx context.Context, rc *workflow.RunContext) (workflow.Result, error) {
	event := rc.Event()
	var payload events.TicketStatusChangedPayload
	if err := event.Decode(&payload); err != nil {
		return workflow.Result{}, workflow.TerminalWrap("malformed status change event", err)
	}
	if !domain.TriggersStatusChanged(payload.OldStatus, payload.NewStatus) {
		return workflow.Result{Success: true, Skipped: true, Reason: skipReason}, nil
	}
	logger := rc.Logger().With(zap.String("ticket_id", event.TicketID))

	ticket, err := workflow.Step(ctx, rc, "fetch-ticket", func(ctx context.Context) (*domain.Ticket, error) {
		t, err := w.deps.Tickets.GetByID(ctx, event.TicketID)
		return t, stepError("ticket not found for status change notification", err)
	})
	if err != nil {
		return workflow.Result{}, err
	}

	creator, err := workflow.Step(ctx, rc, "fetch-creator", func(ctx context.Context) (*domain.User, error) {
		if ticket.CreatedBy == "" {
			return nil, nil
		}
		user, err := w.deps.Users.GetByID(ctx, ticket.CreatedBy)
		if apperrors.IsNotFound(err) {
			logger.Warn("ticket creator not found", zap.String("creator_id", ticket.CreatedBy))
			return nil, nil
		}
		return user, err
	})
	if err != nil {
		return workflow.Result{}, err
	}

	if _, err := workflow.Step(ctx, rc, "notify-creator", func(ctx context.Context) (bool, error) {
		if creator == nil {
			logger.Info("no creator to notify")
			return false, nil
		}
		if err := w.deps.Notifications.NotifyStatusChange(ctx, creator, ticket, payload.OldStatus, payload.NewStatus); err != nil {
			return false, err
		}
		return true, nil
	}); err != nil {
		return workflow.Result{}, err
	}

	return workflow.Result{
		Success: true,
		Message: fmt.Sprintf("Ticket %s status changed from %s to %s. Creator processing for notification.",
			event.TicketID, payload.OldStatus, payload.NewStatus),
	}, nil
}
