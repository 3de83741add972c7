package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/classifier"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/notify"
	"github.com/spec-kit/ticket-triage/internal/repository"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

type harness struct {
	engine  *workflow.Engine
	store   *workflow.MemoryStore
	tickets *repository.MemoryTicketRepository
	users   *repository.MemoryUserRepository
	service *service.TicketService
	sender  *notify.RecordingSender
	events  *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, event events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newHarness(t *testing.T, cls classifier.Classifier, users ...domain.User) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		store:   workflow.NewMemoryStore(),
		tickets: repository.NewMemoryTicketRepository(),
		users:   repository.NewMemoryUserRepository(users...),
		sender:  &notify.RecordingSender{},
		events:  &eventLog{},
	}
	dispatcher := events.NewInMemoryDispatcher(logger)
	dispatcher.Subscribe(events.EventTicketCreated, h.events.record)
	dispatcher.Subscribe(events.EventTicketStatusChanged, h.events.record)

	h.service = service.NewTicketService(service.TicketDependencies{TicketRepo: h.tickets, Publisher: dispatcher, Logger: logger})
	h.engine = workflow.NewEngine(workflow.EngineDependencies{Store: h.store, Logger: logger})
	require.NoError(t, Register(h.engine, Dependencies{
		Tickets:       h.tickets,
		Users:         h.users,
		TicketService: h.service,
		Assignment:    service.NewAssignmentService(service.AssignmentDependencies{UserRepo: h.users, Logger: logger}),
		Notifications: service.NewNotificationService(h.sender, logger),
		Classifier:    cls,
		Retry:         workflow.RetryPolicy{Retries: 2, InitialBackoff: time.Millisecond},
		Logger:        logger,
	}))
	h.engine.Subscribe(dispatcher)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

func (h *harness) run(t *testing.T, workflowName string, ticketID string) *workflow.Run {
	t.Helper()
	h.engine.Wait()
	created := h.events.ofType(events.EventTicketCreated)
	for _, e := range created {
		if e.TicketID == ticketID {
			run, err := h.engine.Get(context.Background(), workflow.RunID(workflowName, e.ID))
			require.NoError(t, err)
			return run
		}
	}
	t.Fatalf("no ticket.created event for %s", ticketID)
	return nil
}

func staticClassifier(c *classifier.Classification) classifier.Func {
	return func(context.Context, string, string) *classifier.Classification { return c }
}

var (
	creator   = domain.User{ID: "u-1", Email: "creator@example.com", Role: domain.UserRoleUser}
	moderator = domain.User{ID: "m-1", Email: "mod@example.com", Role: domain.UserRoleModerator, Skills: []string{"Auth"}}
	admin     = domain.User{ID: "a-1", Email: "admin@example.com", Role: domain.UserRoleAdmin}
)

func TestTicketCreatedEndToEnd(t *testing.T) {
	h := newHarness(t, staticClassifier(&classifier.Classification{
		Priority:      "high",
		HelpfulNotes:  "Check the IdP redirect URL",
		RelatedSkills: []string{"auth"},
	}), creator, moderator, admin)

	ticket, err := h.service.CreateTicket(context.Background(), creator.ID, service.TicketCreateInput{
		Title:       "Cannot log in",
		Description: "SSO redirect loops",
	})
	require.NoError(t, err)

	run := h.run(t, TicketCreatedWorkflow, ticket.ID)
	assert.Equal(t, workflow.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.Success)
	for _, step := range []string{"fetch-ticket", "update-status-todo", "ai-classify", "apply-classification", "assign", "notify-assignee"} {
		require.Contains(t, run.Steps, step)
		assert.Equal(t, workflow.StepStatusSucceeded, run.Steps[step].Status, step)
	}

	stored, err := h.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, stored.Status)
	assert.Equal(t, domain.TicketPriorityHigh, stored.Priority)
	assert.Equal(t, "Check the IdP redirect URL", stored.HelpfulNotes)
	assert.Equal(t, []string{"auth"}, stored.RelatedSkills)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, moderator.ID, *stored.AssignedTo)

	changed := h.events.ofType(events.EventTicketStatusChanged)
	require.Len(t, changed, 1)
	var payload events.TicketStatusChangedPayload
	require.NoError(t, changed[0].Decode(&payload))
	assert.Equal(t, domain.TicketStatusInProgress, payload.OldStatus)
	assert.Equal(t, domain.TicketStatusAssigned, payload.NewStatus)
	assert.Equal(t, events.SystemActor, payload.ActorID)

	statusRun, err := h.engine.Get(context.Background(), workflow.RunID(StatusChangedWorkflow, changed[0].ID))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSucceeded, statusRun.Status)
	assert.Contains(t, statusRun.Result.Message, "status changed from IN_PROGRESS to ASSIGNED")

	messages := h.sender.Messages()
	require.Len(t, messages, 2)
	recipients := map[string]notify.Message{}
	for _, m := range messages {
		recipients[m.To] = m
	}
	require.Contains(t, recipients, moderator.Email)
	assert.Equal(t, "Ticket Assigned", recipients[moderator.Email].Subject)
	assert.Contains(t, recipients[moderator.Email].Body, "Priority: high")
	require.Contains(t, recipients, creator.Email)
	assert.Equal(t, "Ticket status changed: Cannot log in", recipients[creator.Email].Subject)
}

func TestTicketCreatedWithoutClassification(t *testing.T) {
	h := newHarness(t, classifier.Noop{}, creator, admin)

	ticket, err := h.service.CreateTicket(context.Background(), creator.ID, service.TicketCreateInput{Title: "Printer", Description: "jammed"})
	require.NoError(t, err)

	run := h.run(t, TicketCreatedWorkflow, ticket.ID)
	assert.Equal(t, workflow.RunStatusSucceeded, run.Status)

	stored, err := h.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, stored.Status)
	assert.Empty(t, stored.Priority)
	assert.Empty(t, stored.HelpfulNotes)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, admin.ID, *stored.AssignedTo)

	assert.Empty(t, h.events.ofType(events.EventTicketStatusChanged))
	require.Len(t, h.sender.Messages(), 1)
	assert.Equal(t, admin.Email, h.sender.Messages()[0].To)
}

func TestTicketCreatedDefaultsClassificationFields(t *testing.T) {
	h := newHarness(t, staticClassifier(&classifier.Classification{Priority: "urgent"}), creator)

	ticket, err := h.service.CreateTicket(context.Background(), creator.ID, service.TicketCreateInput{Title: "VPN", Description: "drops"})
	require.NoError(t, err)

	run := h.run(t, TicketCreatedWorkflow, ticket.ID)
	assert.Equal(t, workflow.RunStatusSucceeded, run.Status)

	stored, err := h.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityMedium, stored.Priority)
	assert.Equal(t, domain.DefaultHelpfulNotes, stored.HelpfulNotes)
	assert.Equal(t, []string{}, stored.RelatedSkills)
	assert.Nil(t, stored.AssignedTo)
	assert.Equal(t, domain.TicketStatusAssigned, stored.Status)

	messages := h.sender.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, creator.Email, messages[0].To)
}

func TestTicketCreatedMissingTicketFailsTerminally(t *testing.T) {
	h := newHarness(t, classifier.Noop{}, admin)

	event, err := events.New("evt-missing", events.EventTicketCreated, "does-not-exist", events.TicketCreatedPayload{Title: "x"})
	require.NoError(t, err)
	_, err = h.engine.Trigger(context.Background(), event)
	require.NoError(t, err)
	h.engine.Wait()

	run, err := h.engine.Get(context.Background(), workflow.RunID(TicketCreatedWorkflow, event.ID))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Attempt)
	require.NotNil(t, run.Result)
	assert.False(t, run.Result.Retriable)
	assert.Contains(t, run.Result.Error, "ticket not found")
}

func TestTicketCreatedRetriesNotificationOnly(t *testing.T) {
	var calls int
	var mu sync.Mutex
	cls := classifier.Func(func(context.Context, string, string) *classifier.Classification {
		mu.Lock()
		calls++
		mu.Unlock()
		return &classifier.Classification{Priority: "low", RelatedSkills: []string{"auth"}}
	})
	h := newHarness(t, cls, creator, moderator)
	h.sender.SetErr(errors.New("smtp unavailable"))

	ticket, err := h.service.CreateTicket(context.Background(), creator.ID, service.TicketCreateInput{Title: "Login", Description: "fails"})
	require.NoError(t, err)

	run := h.run(t, TicketCreatedWorkflow, ticket.ID)
	assert.Equal(t, workflow.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.Attempt)
	assert.True(t, run.Result.Retriable)
	assert.Equal(t, 3, run.Steps["notify-assignee"].Attempts)
	assert.Equal(t, 1, calls)
	assert.Len(t, h.events.ofType(events.EventTicketStatusChanged), 1)
}

func TestStatusChangedSkipsOtherTransitions(t *testing.T) {
	h := newHarness(t, classifier.Noop{}, creator)

	event, err := events.New("evt-skip", events.EventTicketStatusChanged, "t-1", events.TicketStatusChangedPayload{
		OldStatus: domain.TicketStatusTodo,
		NewStatus: domain.TicketStatusInProgress,
	})
	require.NoError(t, err)
	_, err = h.engine.Trigger(context.Background(), event)
	require.NoError(t, err)
	h.engine.Wait()

	run, err := h.engine.Get(context.Background(), workflow.RunID(StatusChangedWorkflow, event.ID))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSucceeded, run.Status)
	assert.True(t, run.Result.Skipped)
	assert.Equal(t, "Status change not from IN_PROGRESS to another status", run.Result.Reason)
	assert.Empty(t, run.Steps)
	assert.Empty(t, h.sender.Messages())
}

func TestStatusChangedMissingCreatorIsSoft(t *testing.T) {
	h := newHarness(t, classifier.Noop{})
	ticket := &domain.Ticket{Title: "Orphan", Description: "creator left", Status: domain.TicketStatusResolved, CreatedBy: "gone"}
	require.NoError(t, h.tickets.Create(context.Background(), ticket))

	event, err := events.New("evt-orphan", events.EventTicketStatusChanged, ticket.ID, events.TicketStatusChangedPayload{
		OldStatus: domain.TicketStatusInProgress,
		NewStatus: domain.TicketStatusResolved,
	})
	require.NoError(t, err)
	_, err = h.engine.Trigger(context.Background(), event)
	require.NoError(t, err)
	h.engine.Wait()

	run, err := h.engine.Get(context.Background(), workflow.RunID(StatusChangedWorkflow, event.ID))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSucceeded, run.Status)
	assert.Equal(t, workflow.StepStatusSucceeded, run.Steps["fetch-creator"].Status)
	assert.Empty(t, h.sender.Messages())
}

func TestStatusChangedMissingTicketIsTerminal(t *testing.T) {
	h := newHarness(t, classifier.Noop{}, creator)

	event, err := events.New("evt-gone", events.EventTicketStatusChanged, "missing", events.TicketStatusChangedPayload{
		OldStatus: domain.TicketStatusInProgress,
		NewStatus: domain.TicketStatusClosed,
	})
	require.NoError(t, err)
	_, err = h.engine.Trigger(context.Background(), event)
	require.NoError(t, err)
	h.engine.Wait()

	run, err := h.engine.Get(context.Background(), workflow.RunID(StatusChangedWorkflow, event.ID))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Attempt)
	assert.False(t, run.Result.Retriable)
}
