package dto

import (
	"sort"
	"time"

	"github.com/spec-kit/ticket-triage/internal/workflow"
)

// StepResponse is one ledger entry.
type StepResponse struct {
	Name      string              `json:"name"`
	Status    workflow.StepStatus `json:"status"`
	Attempts  int                 `json:"attempts"`
	Error     string              `json:"error,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// RunResponse describes a workflow run and its ledger.
type RunResponse struct {
	ID        string             `json:"id"`
	Workflow  string             `json:"workflow"`
	EventID   string             `json:"eventId"`
	EventType string             `json:"eventType"`
	TicketID  string             `json:"ticketId"`
	Status    workflow.RunStatus `json:"status"`
	Attempt   int                `json:"attempt"`
	Result    *workflow.Result   `json:"result,omitempty"`
	Steps     []StepResponse     `json:"steps"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
	EndedAt   *time.Time         `json:"endedAt,omitempty"`
}

// NewRunResponse maps a run. Steps are ordered by when they last changed.
func NewRunResponse(run *workflow.Run) RunResponse {
	steps := make([]StepResponse, 0, len(run.Steps))
	for _, rec := range run.Steps {
		steps = append(steps, StepResponse{
			Name:      rec.Name,
			Status:    rec.Status,
			Attempts:  rec.Attempts,
			Error:     rec.Error,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].UpdatedAt.Equal(steps[j].UpdatedAt) {
			return steps[i].Name < steps[j].Name
		}
		return steps[i].UpdatedAt.Before(steps[j].UpdatedAt)
	})
	return RunResponse{
		ID:        run.ID,
		Workflow:  run.Workflow,
		EventID:   run.Event.ID,
		EventType: string(run.Event.Type),
		TicketID:  run.Event.TicketID,
		Status:    run.Status,
		Attempt:   run.Attempt,
		Result:    run.Result,
		Steps:     steps,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
		EndedAt:   run.EndedAt,
	}
}
