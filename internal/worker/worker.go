// Package worker holds the ticket triage workflows run by the workflow engine.
package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/classifier"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/repository"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/workflow"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// Workflow names double as run id prefixes.
const (
	TicketCreatedWorkflow = "on-ticket-created"
	StatusChangedWorkflow = "on-ticket-status-changed"
)

// Dependencies bundles what the workflows read and write.
type Dependencies struct {
	Tickets       repository.TicketRepository
	Users         repository.UserRepository
	TicketService *service.TicketService
	Assignment    *service.AssignmentService
	Notifications *service.NotificationService
	Classifier    classifier.Classifier
	Retry         workflow.RetryPolicy
	Logger        *zap.Logger
}

// Register adds both ticket workflows to the engine.
func Register(engine *workflow.Engine, deps Dependencies) error {
	if deps.Classifier == nil {
		deps.Classifier = classifier.Noop{Logger: deps.Logger}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	created := &TicketCreated{deps: deps}
	if err := engine.Register(workflow.Definition{
		Name:    TicketCreatedWorkflow,
		Trigger: events.EventTicketCreated,
		Retry:   deps.Retry,
		Handler: created.Handle,
	}); err != nil {
		return err
	}

	changed := &StatusChanged{deps: deps}
	return engine.Register(workflow.Definition{
		Name:    StatusChangedWorkflow,
		Trigger: events.EventTicketStatusChanged,
		Retry:   deps.Retry,
		Handler: changed.Handle,
	})
}

// stepError marks expected-absent entities and illegal transitions as
// terminal so the run is not retried.
func stepError(reason string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsNotFound(err) || apperrors.HasCode(err, apperrors.CodeConflict) {
		return workflow.TerminalWrap(reason, err)
	}
	return err
}
