package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps runs in process memory. It is used when Redis is not
// configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	leases    map[string]lease
	retention time.Duration
	now       func() time.Time
}

type lease struct {
	owner   string
	expires time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithRetention drops finished runs once they ended more than d ago. Zero
// keeps them forever.
func WithRetention(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.retention = d }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		runs:   make(map[string]*Run),
		leases: make(map[string]lease),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if _, exists := s.runs[run.ID]; exists {
		return ErrRunExists
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok || s.expired(run) {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryStore) SaveStep(ctx context.Context, runID string, record StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || s.expired(run) {
		return ErrRunNotFound
	}
	if run.Steps == nil {
		run.Steps = make(map[string]*StepRecord)
	}
	cp := record
	cp.Result = append([]byte(nil), record.Result...)
	run.Steps[record.Name] = &cp
	if record.UpdatedAt.After(run.UpdatedAt) {
		run.UpdatedAt = record.UpdatedAt
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok || s.expired(stored) {
		return ErrRunNotFound
	}
	next := run.Clone()
	next.Steps = stored.Steps
	s.runs[run.ID] = next
	return nil
}

func (s *MemoryStore) ListIncomplete(ctx context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Run, 0)
	for _, run := range s.runs {
		if run.Status == RunStatusRunning {
			result = append(result, run.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if held, ok := s.leases[runID]; ok && held.owner != owner && now.Before(held.expires) {
		return false, nil
	}
	s.leases[runID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Renew(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	held, ok := s.leases[runID]
	if !ok || held.owner != owner || !now.Before(held.expires) {
		return false, nil
	}
	s.leases[runID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, runID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.leases[runID]; ok && held.owner == owner {
		delete(s.leases, runID)
	}
	return nil
}

func (s *MemoryStore) expired(run *Run) bool {
	if s.retention <= 0 || !run.Finished() || run.EndedAt == nil {
		return false
	}
	return s.now().Sub(*run.EndedAt) > s.retention
}

// prune must be called with mu held for writing.
func (s *MemoryStore) prune() {
	now := s.now()
	for id, run := range s.runs {
		if s.expired(run) {
			delete(s.runs, id)
		}
	}
	for id, held := range s.leases {
		if !now.Before(held.expires) {
			delete(s.leases, id)
		}
	}
}
