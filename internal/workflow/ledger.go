package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

// RunContext is handed to a workflow handler for one attempt of a run.
// It is not safe for concurrent use: steps of a run execute sequentially.
type RunContext struct {
	run     *Run
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

// RunID returns the id of the executing run.
func (rc *RunContext) RunID() string { return rc.run.ID }

// Event returns the event that triggered the run.
func (rc *RunContext) Event() events.Event { return rc.run.Event }

// Attempt returns the 1-based attempt number.
func (rc *RunContext) Attempt() int { return rc.run.Attempt }

// Logger returns a logger annotated with the run id and workflow.
func (rc *RunContext) Logger() *zap.Logger { return rc.logger }

// EventID derives a stable id for an event emitted by the named step, so a
// retried step publishes the same event id.
func (rc *RunContext) EventID(step string) string {
	return rc.run.ID + "/" + step
}

// Step runs fn at most once per run under name. A step that already
// succeeded returns its memoized result without calling fn. On failure the
// error is recorded and returned, and the step is attempted again on the
// next attempt of the run. Results must be JSON-encodable.
func Step[T any](ctx context.Context, rc *RunContext, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if rec, ok := rc.run.Steps[name]; ok && rec.Status == StepStatusSucceeded {
		var out T
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &out); err != nil {
				return zero, fmt.Errorf("decode memoized step %s: %w", name, err)
			}
		}
		rc.logger.Debug("step replayed from ledger", zap.String("step", name))
		return out, nil
	}

	record := StepRecord{Name: name, Status: StepStatusPending}
	if prev, ok := rc.run.Steps[name]; ok {
		record.Attempts = prev.Attempts
	}
	record.Attempts++

	started := time.Now()
	out, err := fn(ctx)
	rc.metrics.RecordStep(rc.run.Workflow, name, err == nil, time.Since(started))
	record.UpdatedAt = time.Now().UTC()

	if err != nil {
		record.Error = err.Error()
		if IsTerminal(err) {
			record.Status = StepStatusFailed
		}
		if saveErr := rc.store.SaveStep(ctx, rc.run.ID, record); saveErr != nil {
			rc.logger.Warn("failed to record step failure", zap.String("step", name), zap.Error(saveErr))
		}
		rc.remember(record)
		rc.logger.Warn("step failed",
			zap.String("step", name),
			zap.Int("step_attempts", record.Attempts),
			zap.Bool("terminal", IsTerminal(err)),
			zap.Error(err))
		return zero, err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encode step %s result: %w", name, err)
	}
	record.Status = StepStatusSucceeded
	record.Result = raw
	if err := rc.store.SaveStep(ctx, rc.run.ID, record); err != nil {
		return zero, fmt.Errorf("record step %s: %w", name, err)
	}
	rc.remember(record)
	rc.logger.Debug("step succeeded", zap.String("step", name), zap.Duration("duration", time.Since(started)))
	return out, nil
}

func (rc *RunContext) remember(record StepRecord) {
	if rc.run.Steps == nil {
		rc.run.Steps = make(map[string]*StepRecord)
	}
	rc.run.Steps[record.Name] = &record
	if record.UpdatedAt.After(rc.run.UpdatedAt) {
		rc.run.UpdatedAt = record.UpdatedAt
	}
}
