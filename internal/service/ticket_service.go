package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// TicketService owns ticket mutations and the events they emit.
type TicketService struct {
	tickets   repository.TicketRepository
	publisher events.Publisher
	logger    *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Publisher  events.Publisher
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
}

// TicketPatch is an external partial update. Nil fields are left untouched.
type TicketPatch struct {
	Status        *string
	Priority      *string
	HelpfulNotes  *string
	RelatedSkills *[]string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Statuses []domain.TicketStatus
	Limit    int
	Offset   int
}

// TransitionInput moves a ticket forward from a workflow step. From is the
// status the step observed; it is used as the old status when a retried step
// finds the transition already applied. EventID makes the emitted event
// idempotent across retries.
type TransitionInput struct {
	TicketID string
	From     domain.TicketStatus
	Update   domain.TicketUpdate
	ActorID  string
	EventID  string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{tickets: deps.TicketRepo, publisher: deps.Publisher, logger: logger}
}

// CreateTicket stores a NEW ticket and emits ticket.created.
func (s *TicketService) CreateTicket(ctx context.Context, creatorID string, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description required", nil)
	}

	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusNew,
		RelatedSkills: []string{},
		CreatedBy:     creatorID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	err := s.publish(ctx, "", events.EventTicketCreated, ticket.ID, events.TicketCreatedPayload{
		Title:       ticket.Title,
		Description: ticket.Description,
		CreatedBy:   creatorID,
	})
	if err != nil {
		s.logger.Error("ticket stored but triage not started", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

// GetTicket returns one ticket.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// ListTickets returns tickets newest first.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.List(ctx, repository.TicketFilter{
		Statuses: filter.Statuses,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// UpdateTicket applies an external partial update. Leaving IN_PROGRESS emits
// ticket.status_changed attributed to actorID.
func (s *TicketService) UpdateTicket(ctx context.Context, actorID, id string, patch TicketPatch) (*domain.Ticket, error) {
	current, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	var update domain.TicketUpdate
	if patch.Status != nil {
		next, ok := domain.ParseStatus(strings.ToUpper(strings.TrimSpace(*patch.Status)))
		if !ok {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": *patch.Status})
		}
		if next != current.Status {
			if !domain.CanSetExternally(current.Status, next) {
				return nil, apperrors.NewValidationError("status transition not allowed", map[string]any{
					"from": current.Status,
					"to":   next,
				})
			}
			update.Status = &next
		}
	}
	if patch.Priority != nil {
		priority, ok := domain.ParsePriority(*patch.Priority)
		if !ok {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": *patch.Priority})
		}
		update.Priority = &priority
	}
	if patch.HelpfulNotes != nil {
		notes := strings.TrimSpace(*patch.HelpfulNotes)
		update.HelpfulNotes = &notes
	}
	if patch.RelatedSkills != nil {
		update.RelatedSkills = cleanSkills(*patch.RelatedSkills)
		update.SetSkills = true
	}

	updated, err := s.tickets.Update(ctx, id, update)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if update.Status != nil && domain.TriggersStatusChanged(current.Status, *update.Status) {
		if err := s.publishStatusChanged(ctx, "", updated.ID, current.Status, *update.Status, actorID); err != nil {
			s.logger.Error("status change stored but event not published", zap.String("ticket_id", id), zap.Error(err))
			return nil, apperrors.NewInternalError(err)
		}
	}
	return updated, nil
}

// Transition applies a forward status change made by a workflow step and
// emits ticket.status_changed when it leaves IN_PROGRESS.
func (s *TicketService) Transition(ctx context.Context, input TransitionInput) (*domain.Ticket, error) {
	if input.Update.Status == nil {
		return nil, apperrors.NewValidationError("transition requires a status", nil)
	}
	next := *input.Update.Status

	current, err := s.tickets.GetByID(ctx, input.TicketID)
	if err != nil {
		return nil, err
	}

	old := current.Status
	update := input.Update
	switch {
	case current.Status == next:
		old = input.From
		update.Status = nil
	case !domain.CanAdvance(current.Status, next):
		return nil, apperrors.NewConflict("ticket cannot move backwards", map[string]any{
			"ticket_id": input.TicketID,
			"from":      current.Status,
			"to":        next,
		})
	}

	updated, err := s.tickets.Update(ctx, input.TicketID, update)
	if err != nil {
		return nil, err
	}
	if old != "" && domain.TriggersStatusChanged(old, next) {
		if err := s.publishStatusChanged(ctx, input.EventID, updated.ID, old, next, input.ActorID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *TicketService) publishStatusChanged(ctx context.Context, eventID, ticketID string, old, next domain.TicketStatus, actorID string) error {
	return s.publish(ctx, eventID, events.EventTicketStatusChanged, ticketID, events.TicketStatusChangedPayload{
		OldStatus: old,
		NewStatus: next,
		ActorID:   actorID,
	})
}

func (s *TicketService) publish(ctx context.Context, eventID string, eventType events.EventType, ticketID string, payload any) error {
	if s.publisher == nil {
		return nil
	}
	event, err := events.New(eventID, eventType, ticketID, payload)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	s.logger.Info("event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(eventType)),
		zap.String("ticket_id", ticketID))
	return nil
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
