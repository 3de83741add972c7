package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-triage/internal/workflow"
)

// RunStoreOptions tunes the Redis run store.
type RunStoreOptions struct {
	// Prefix namespaces every key. Defaults to "triage".
	Prefix string
	// Retention expires finished runs after this long. Zero keeps them forever.
	Retention time.Duration
}

// RunStore persists workflow runs in Redis. A run is a JSON string key, its
// ledger a hash of step name to JSON record, and unfinished runs are indexed
// in a sorted set scored by creation time. The execution lease is a string
// key holding the owner id with a millisecond expiry.
type RunStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ workflow.Store = (*RunStore)(nil)

// NewRunStore creates a Redis-backed workflow.Store.
func NewRunStore(client redis.UniversalClient, opts RunStoreOptions) *RunStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "triage"
	}
	return &RunStore{client: client, prefix: prefix, retention: opts.Retention}
}

func (s *RunStore) runKey(id string) string   { return s.prefix + ":run:" + id }
func (s *RunStore) stepsKey(id string) string { return s.prefix + ":run:" + id + ":steps" }
func (s *RunStore) leaseKey(id string) string { return s.prefix + ":run:" + id + ":lease" }
func (s *RunStore) incompleteKey() string     { return s.prefix + ":runs:incomplete" }

// KEYS[1] lease key, ARGV[1] owner, ARGV[2] ttl in milliseconds.
var renewLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// KEYS[1] lease key, ARGV[1] owner.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RunStore) Create(ctx context.Context, run *workflow.Run) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	steps := make(map[string]any, len(run.Steps))
	for _, rec := range run.Steps {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode step %s: %w", rec.Name, err)
		}
		steps[rec.Name] = raw
	}

	key := s.runKey(run.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return workflow.ErrRunExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if len(steps) > 0 {
				pipe.HSet(ctx, s.stepsKey(run.ID), steps)
			}
			if !run.Finished() {
				pipe.ZAdd(ctx, s.incompleteKey(), redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
			}
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, workflow.ErrRunExists), errors.Is(err, redis.TxFailedErr):
		return workflow.ErrRunExists
	case err != nil:
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*workflow.Run, error) {
	var (
		runCmd   *redis.StringCmd
		stepsCmd *redis.MapStringStringCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		runCmd = pipe.Get(ctx, s.runKey(id))
		stepsCmd = pipe.HGetAll(ctx, s.stepsKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load run: %w", err)
	}

	raw, err := runCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, workflow.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	var run workflow.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}

	run.Steps = make(map[string]*workflow.StepRecord)
	for name, val := range stepsCmd.Val() {
		var rec workflow.StepRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("decode step %s of run %s: %w", name, id, err)
		}
		run.Steps[name] = &rec
	}
	return &run, nil
}

func (s *RunStore) SaveStep(ctx context.Context, runID string, record workflow.StepRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode step %s: %w", record.Name, err)
	}

	key := s.runKey(runID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		head, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return workflow.ErrRunNotFound
		}
		if err != nil {
			return err
		}
		var run workflow.Run
		if err := json.Unmarshal(head, &run); err != nil {
			return fmt.Errorf("decode run %s: %w", runID, err)
		}
		if record.UpdatedAt.After(run.UpdatedAt) {
			run.UpdatedAt = record.UpdatedAt
		}
		data, err := encodeRun(&run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			pipe.HSet(ctx, s.stepsKey(runID), record.Name, raw)
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		return err
	case err != nil:
		return fmt.Errorf("save step %s: %w", record.Name, err)
	}
	return nil
}

func (s *RunStore) Update(ctx context.Context, run *workflow.Run) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}

	var setCmd *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetXX(ctx, s.runKey(run.ID), data, 0)
		if run.Finished() {
			pipe.ZRem(ctx, s.incompleteKey(), run.ID)
			if s.retention > 0 {
				pipe.Expire(ctx, s.runKey(run.ID), s.retention)
				pipe.Expire(ctx, s.stepsKey(run.ID), s.retention)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("update run: %w", err)
	}
	if !setCmd.Val() {
		return workflow.ErrRunNotFound
	}
	return nil
}

func (s *RunStore) ListIncomplete(ctx context.Context, limit int) ([]*workflow.Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.incompleteKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list incomplete runs: %w", err)
	}

	runs := make([]*workflow.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if errors.Is(err, workflow.ErrRunNotFound) {
			s.client.ZRem(ctx, s.incompleteKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if run.Finished() {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *RunStore) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	key := s.leaseKey(runID)
	acquired, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if acquired {
		return true, nil
	}
	// The owner may already hold it; refresh in that case.
	return s.Renew(ctx, runID, owner, ttl)
}

func (s *RunStore) Renew(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	n, err := renewLease.Run(ctx, s.client, []string{s.leaseKey(runID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return n == 1, nil
}

func (s *RunStore) Release(ctx context.Context, runID, owner string) error {
	if err := releaseLease.Run(ctx, s.client, []string{s.leaseKey(runID)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func encodeRun(run *workflow.Run) ([]byte, error) {
	head := *run
	head.Steps = nil
	data, err := json.Marshal(head)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return data, nil
}
