package worker

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/classifier"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/workflow"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// TicketCreated triages a new ticket: classify it, record the result, pick
// an assignee and tell them.
type TicketCreated struct {
	deps Dependencies
}

// triage is the outcome of apply-classification.
type triage struct {
	Status domain.TicketStatus `json:"status"`
	Skills []string            `json:"skills"`
}

// Handle runs the ticket-created steps.
func (w *TicketCreated) Handle(ctx context.Context, rc *workflow.RunContext) (workflow.Result, error) {
	ticketID := rc.Event().TicketID
	logger := rc.Logger().With(zap.String("ticket_id", ticketID))

	ticket, err := workflow.Step(ctx, rc, "fetch-ticket", func(ctx context.Context) (*domain.Ticket, error) {
		t, err := w.deps.Tickets.GetByID(ctx, ticketID)
		return t, stepError("ticket not found", err)
	})
	if err != nil {
		return workflow.Result{}, err
	}

	status, err := workflow.Step(ctx, rc, "update-status-todo", func(ctx context.Context) (domain.TicketStatus, error) {
		current, err := w.deps.Tickets.GetByID(ctx, ticketID)
		if err != nil {
			return "", stepError("ticket not found", err)
		}
		if !domain.CanAdvance(current.Status, domain.TicketStatusTodo) {
			return current.Status, nil
		}
		todo := domain.TicketStatusTodo
		updated, err := w.deps.TicketService.Transition(ctx, service.TransitionInput{
			TicketID: ticketID,
			From:     current.Status,
			Update:   domain.TicketUpdate{Status: &todo},
			ActorID:  events.SystemActor,
			EventID:  rc.EventID("update-status-todo"),
		})
		if err != nil {
			return "", stepError("status update rejected", err)
		}
		return updated.Status, nil
	})
	if err != nil {
		return workflow.Result{}, err
	}

	classification, err := workflow.Step(ctx, rc, "ai-classify", func(ctx context.Context) (*classifier.Classification, error) {
		return w.deps.Classifier.Classify(ctx, ticket.Title, ticket.Description), nil
	})
	if err != nil {
		return workflow.Result{}, err
	}

	applied, err := workflow.Step(ctx, rc, "apply-classification", func(ctx context.Context) (triage, error) {
		if classification == nil {
			logger.Info("no classification, leaving ticket fields unchanged")
			return triage{Status: status, Skills: []string{}}, nil
		}
		priority := domain.NormalizePriority(classification.Priority)
		notes := strings.TrimSpace(classification.HelpfulNotes)
		if notes == "" {
			notes = domain.DefaultHelpfulNotes
		}
		skills := cleanSkills(classification.RelatedSkills)
		inProgress := domain.TicketStatusInProgress
		updated, err := w.deps.TicketService.Transition(ctx, service.TransitionInput{
			TicketID: ticketID,
			From:     status,
			Update: domain.TicketUpdate{
				Status:        &inProgress,
				Priority:      &priority,
				HelpfulNotes:  &notes,
				RelatedSkills: skills,
				SetSkills:     true,
			},
			ActorID: events.SystemActor,
			EventID: rc.EventID("apply-classification"),
		})
		if err != nil {
			return triage{}, stepError("classification update rejected", err)
		}
		return triage{Status: updated.Status, Skills: skills}, nil
	})
	if err != nil {
		return workflow.Result{}, err
	}

	assignee, err := workflow.Step(ctx, rc, "assign", func(ctx context.Context) (*domain.User, error) {
		user, err := w.deps.Assignment.Resolve(ctx, applied.Skills)
		if err != nil {
			return nil, err
		}
		update := domain.TicketUpdate{SetAssignee: true}
		if user != nil {
			update.AssignedTo = &user.ID
		}
		assigned := domain.TicketStatusAssigned
		update.Status = &assigned
		if _, err := w.deps.TicketService.Transition(ctx, service.TransitionInput{
			TicketID: ticketID,
			From:     applied.Status,
			Update:   update,
			ActorID:  events.SystemActor,
			EventID:  rc.EventID("assign"),
		}); err != nil {
			return nil, stepError("assignment rejected", err)
		}
		return user, nil
	})
	if err != nil {
		return workflow.Result{}, err
	}

	if _, err := workflow.Step(ctx, rc, "notify-assignee", func(ctx context.Context) (bool, error) {
		if assignee == nil {
			logger.Warn("ticket left unassigned, no notification sent")
			return false, nil
		}
		current, err := w.deps.Tickets.GetByID(ctx, ticketID)
		if apperrors.IsNotFound(err) {
			logger.Warn("ticket disappeared before notification")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := w.deps.Notifications.NotifyAssignee(ctx, assignee, current); err != nil {
			return false, err
		}
		return true, nil
	}); err != nil {
		return workflow.Result{}, err
	}

	return workflow.Result{Success: true}, nil
}

func cleanSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, skill := range skills {
		if skill = strings.TrimSpace(skill); skill != "" {
			out = append(out, skill)
		}
	}
	return out
}
