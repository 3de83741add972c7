package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spec-kit/ticket-triage/internal/events"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus is the ledger state of one named step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// StepRecord is one ledger entry.
type StepRecord struct {
	Name      string          `json:"name"`
	Status    StepStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Result is what a finished run reports.
type Result struct {
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Retriable bool   `json:"retriable"`
}

// Run is one execution of a workflow for one triggering event.
type Run struct {
	ID        string                 `json:"id"`
	Workflow  string                 `json:"workflow"`
	Event     events.Event           `json:"event"`
	Status    RunStatus              `json:"status"`
	Attempt   int                    `json:"attempt"`
	Steps     map[string]*StepRecord `json:"steps"`
	Result    *Result                `json:"result,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	EndedAt   *time.Time             `json:"ended_at,omitempty"`
}

// RunID derives the run id for a workflow triggered by an event, so
// re-delivering an event resumes the existing run.
func RunID(workflow, eventID string) string {
	return workflow + ":" + eventID
}

// Finished reports whether the run reached a final status.
func (r *Run) Finished() bool {
	return r.Status == RunStatusSucceeded || r.Status == RunStatusFailed
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Event.Payload = append(json.RawMessage(nil), r.Event.Payload...)
	out.Steps = make(map[string]*StepRecord, len(r.Steps))
	for name, rec := range r.Steps {
		cp := *rec
		cp.Result = append(json.RawMessage(nil), rec.Result...)
		out.Steps[name] = &cp
	}
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	if r.EndedAt != nil {
		ended := *r.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

// Store persists runs and their step ledgers.
type Store interface {
	// Create inserts a new run, returning ErrRunExists when the id is taken.
	Create(ctx context.Context, run *Run) error
	// Get returns the run with its ledger, or ErrRunNotFound.
	Get(ctx context.Context, id string) (*Run, error)
	// SaveStep upserts one ledger entry and moves the run's UpdatedAt
	// forward to the record's time.
	SaveStep(ctx context.Context, runID string, record StepRecord) error
	// Update persists status, attempt, result and timestamps. Ledger entries
	// are written by SaveStep only.
	Update(ctx context.Context, run *Run) error
	// ListIncomplete returns up to limit runs still in RunStatusRunning.
	ListIncomplete(ctx context.Context, limit int) ([]*Run, error)

	// Acquire takes the execution lease of a run for owner. It reports false
	// while a different owner holds an unexpired lease.
	Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error)
	// Renew extends a lease held by owner. It reports false once the lease
	// expired or passed to someone else.
	Renew(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error)
	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, runID, owner string) error
}
