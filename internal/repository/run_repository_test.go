package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "triage-test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	return NewRunStore(client, RunStoreOptions{Prefix: prefix, Retention: time.Hour})
}

func newStoredRun(id string, created time.Time) *workflow.Run {
	return &workflow.Run{
		ID:        id,
		Workflow:  "on-ticket-created",
		Event:     events.Event{ID: "evt", Type: events.EventTicketCreated, TicketID: "t-1"},
		Status:    workflow.RunStatusRunning,
		Steps:     map[string]*workflow.StepRecord{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRunStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)
	run := newStoredRun("on-ticket-created:evt", time.Now().UTC())

	require.NoError(t, store.Create(ctx, run))
	assert.ErrorIs(t, store.Create(ctx, run), workflow.ErrRunExists)

	require.NoError(t, store.SaveStep(ctx, run.ID, workflow.StepRecord{
		Name:     "fetch-ticket",
		Status:   workflow.StepStatusSucceeded,
		Result:   []byte(`{"id":"t-1"}`),
		Attempts: 1,
	}))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Contains(t, got.Steps, "fetch-ticket")
	assert.JSONEq(t, `{"id":"t-1"}`, string(got.Steps["fetch-ticket"].Result))

	incomplete, err := store.ListIncomplete(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)

	now := time.Now().UTC()
	got.Status = workflow.RunStatusSucceeded
	got.Attempt = 1
	got.Result = &workflow.Result{Success: true}
	got.EndedAt = &now
	got.Steps = nil
	require.NoError(t, store.Update(ctx, got))

	final, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSucceeded, final.Status)
	assert.Contains(t, final.Steps, "fetch-ticket")

	incomplete, err = store.ListIncomplete(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func TestRunStoreMissingRun(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)

	_, err := store.Get(ctx, "absent")
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)
	assert.ErrorIs(t, store.SaveStep(ctx, "absent", workflow.StepRecord{Name: "x"}), workflow.ErrRunNotFound)
	assert.ErrorIs(t, store.Update(ctx, newStoredRun("absent", time.Now())), workflow.ErrRunNotFound)
}

func TestRunStoreListIncompleteOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.Create(ctx, newStoredRun("second", base.Add(time.Minute))))
	require.NoError(t, store.Create(ctx, newStoredRun("first", base)))
	require.NoError(t, store.Create(ctx, newStoredRun("third", base.Add(2*time.Minute))))

	runs, err := store.ListIncomplete(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "first", runs[0].ID)
	assert.Equal(t, "second", runs[1].ID)
}

func TestRunStoreCreateIndexesRun(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)
	run := newStoredRun("indexed", time.Now().UTC())
	run.Steps["fetch-ticket"] = &workflow.StepRecord{Name: "fetch-ticket", Status: workflow.StepStatusSucceeded, Result: []byte(`1`)}

	require.NoError(t, store.Create(ctx, run))
	assert.ErrorIs(t, store.Create(ctx, newStoredRun("indexed", time.Now().UTC())), workflow.ErrRunExists)

	score, err := store.client.ZScore(ctx, store.incompleteKey(), run.ID).Result()
	require.NoError(t, err)
	assert.Equal(t, float64(run.CreatedAt.UnixNano()), score)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Steps, "fetch-ticket")
}

func TestRunStoreSaveStepMovesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Create(ctx, newStoredRun("progress", created)))

	stepAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.SaveStep(ctx, "progress", workflow.StepRecord{Name: "fetch-ticket", UpdatedAt: stepAt}))

	got, err := store.Get(ctx, "progress")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(stepAt))
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestRunStoreLease(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)

	held, err := store.Acquire(ctx, "run-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = store.Acquire(ctx, "run-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)

	held, err = store.Acquire(ctx, "run-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, held, "owner may re-acquire")

	renewed, err := store.Renew(ctx, "run-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)

	require.NoError(t, store.Release(ctx, "run-1", "b"))
	held, _ = store.Acquire(ctx, "run-1", "b", time.Minute)
	assert.False(t, held, "release by a non-owner is ignored")

	require.NoError(t, store.Release(ctx, "run-1", "a"))
	held, err = store.Acquire(ctx, "run-1", "b", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, held)

	time.Sleep(100 * time.Millisecond)
	renewed, err = store.Renew(ctx, "run-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed, "expired lease cannot be renewed")
}
