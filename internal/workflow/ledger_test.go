package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
)

func newTestRunContext(t *testing.T, store Store) *RunContext {
	t.Helper()
	run := &Run{
		ID:       RunID("test-flow", "evt-1"),
		Workflow: "test-flow",
		Event:    events.Event{ID: "evt-1", Type: events.EventTicketCreated, TicketID: "t-1"},
		Status:   RunStatusRunning,
		Attempt:  1,
		Steps:    map[string]*StepRecord{},
	}
	require.NoError(t, store.Create(context.Background(), run))
	return &RunContext{run: run, store: store, logger: zap.NewNop()}
}

type ticketSnapshot struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestStepMemoizesResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rc := newTestRunContext(t, store)

	calls := 0
	fetch := func(ctx context.Context) (ticketSnapshot, error) {
		calls++
		return ticketSnapshot{ID: "t-1", Status: "TODO"}, nil
	}

	first, err := Step(ctx, rc, "fetch-ticket", fetch)
	require.NoError(t, err)
	second, err := Step(ctx, rc, "fetch-ticket", fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	stored, err := store.Get(ctx, rc.RunID())
	require.NoError(t, err)
	require.Contains(t, stored.Steps, "fetch-ticket")
	assert.Equal(t, StepStatusSucceeded, stored.Steps["fetch-ticket"].Status)
	assert.JSONEq(t, `{"id":"t-1","status":"TODO"}`, string(stored.Steps["fetch-ticket"].Result))
}

func TestStepReplaysFromPersistedLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rc := newTestRunContext(t, store)

	_, err := Step(ctx, rc, "assign", func(ctx context.Context) (string, error) {
		return "moderator-1", nil
	})
	require.NoError(t, err)

	// A later attempt loads the run from the store.
	reloaded, err := store.Get(ctx, rc.RunID())
	require.NoError(t, err)
	next := &RunContext{run: reloaded, store: store, logger: zap.NewNop()}

	got, err := Step(ctx, next, "assign", func(ctx context.Context) (string, error) {
		t.Fatal("memoized step must not run again")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "moderator-1", got)
}

func TestStepFailureIsRecordedAndRetried(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rc := newTestRunContext(t, store)
	boom := errors.New("smtp unavailable")

	_, err := Step(ctx, rc, "notify", func(ctx context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Get(ctx, rc.RunID())
	require.NoError(t, err)
	rec := stored.Steps["notify"]
	require.NotNil(t, rec)
	assert.Equal(t, StepStatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "smtp unavailable", rec.Error)

	ok, err := Step(ctx, rc, "notify", func(ctx context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, rc.run.Steps["notify"].Attempts)
}

func TestStepTerminalFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rc := newTestRunContext(t, store)

	_, err := Step(ctx, rc, "fetch-ticket", func(ctx context.Context) (*ticketSnapshot, error) {
		return nil, Terminal("ticket not found")
	})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	assert.Equal(t, StepStatusFailed, rc.run.Steps["fetch-ticket"].Status)
}

func TestStepNilPointerResultReplays(t *testing.T) {
	ctx := context.Background()
	rc := newTestRunContext(t, NewMemoryStore())

	calls := 0
	classify := func(ctx context.Context) (*ticketSnapshot, error) {
		calls++
		return nil, nil
	}
	first, err := Step(ctx, rc, "ai-classify", classify)
	require.NoError(t, err)
	second, err := Step(ctx, rc, "ai-classify", classify)
	require.NoError(t, err)

	assert.Nil(t, first)
	assert.Nil(t, second)
	assert.Equal(t, 1, calls)
}

func TestEventIDIsStablePerStep(t *testing.T) {
	rc := newTestRunContext(t, NewMemoryStore())
	assert.Equal(t, "test-flow:evt-1/assign", rc.EventID("assign"))
	assert.Equal(t, rc.EventID("assign"), rc.EventID("assign"))
}
