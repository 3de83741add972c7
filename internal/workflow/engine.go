package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

// Handler executes one attempt of a run. Returning a TerminalError stops the
// run; any other error is retried according to the definition's policy.
type Handler func(ctx context.Context, rc *RunContext) (Result, error)

// Definition declares a workflow and the event that starts it.
type Definition struct {
	Name    string
	Trigger events.EventType
	Retry   RetryPolicy
	Handler Handler
}

// EngineDependencies bundles engine collaborators.
type EngineDependencies struct {
	Store             Store
	Logger            *zap.Logger
	Metrics           *observability.Metrics
	MaxConcurrentRuns int
	// LeaseTTL bounds how long a run stays claimed by an engine that stopped
	// renewing it. Defaults to 30s.
	LeaseTTL time.Duration
}

const defaultLeaseTTL = 30 * time.Second

var errLeaseLost = errors.New("run lease lost")

// Engine creates runs for incoming events and drives them to completion,
// one goroutine per run. A run executes only while the engine holds its
// lease in the store, so engines sharing a store never run it concurrently.
type Engine struct {
	store    Store
	logger   *zap.Logger
	metrics  *observability.Metrics
	owner    string
	leaseTTL time.Duration

	mu       sync.Mutex
	defs     map[string]Definition
	triggers map[events.EventType][]string
	inflight map[string]struct{}
	closed   bool

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates the engine. A nil store falls back to memory.
func NewEngine(deps EngineDependencies) *Engine {
	store := deps.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := deps.MaxConcurrentRuns
	if limit <= 0 {
		limit = 16
	}
	leaseTTL := deps.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		logger:   logger,
		metrics:  deps.Metrics,
		owner:    uuid.NewString(),
		leaseTTL: leaseTTL,
		defs:     make(map[string]Definition),
		triggers: make(map[events.EventType][]string),
		inflight: make(map[string]struct{}),
		sem:      make(chan struct{}, limit),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a workflow definition.
func (e *Engine) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("workflow name is required")
	}
	if def.Trigger == "" {
		return fmt.Errorf("workflow %s: trigger event is required", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("workflow %s: handler is required", def.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.defs[def.Name]; exists {
		return fmt.Errorf("workflow already registered: %s", def.Name)
	}
	e.defs[def.Name] = def
	e.triggers[def.Trigger] = append(e.triggers[def.Trigger], def.Name)
	return nil
}

// Subscribe routes every registered trigger from the dispatcher into the engine.
func (e *Engine) Subscribe(dispatcher events.Dispatcher) {
	e.mu.Lock()
	triggers := make([]events.EventType, 0, len(e.triggers))
	for trigger := range e.triggers {
		triggers = append(triggers, trigger)
	}
	e.mu.Unlock()

	for _, trigger := range triggers {
		dispatcher.Subscribe(trigger, e.HandleEvent)
	}
}

// HandleEvent is an events.EventHandler that starts runs for event.
func (e *Engine) HandleEvent(ctx context.Context, event events.Event) error {
	_, err := e.Trigger(ctx, event)
	return err
}

// Trigger creates one run per workflow registered for the event type and
// starts them in the background. Re-delivered events resume the existing run
// instead of creating a new one. It returns the ids of the runs started.
func (e *Engine) Trigger(ctx context.Context, event events.Event) ([]string, error) {
	if event.ID == "" {
		return nil, errors.New("event id is required")
	}
	e.mu.Lock()
	names := append([]string(nil), e.triggers[event.Type]...)
	e.mu.Unlock()

	var (
		started []string
		errs    []error
	)
	for _, name := range names {
		now := time.Now().UTC()
		run := &Run{
			ID:        RunID(name, event.ID),
			Workflow:  name,
			Event:     event,
			Status:    RunStatusRunning,
			Steps:     map[string]*StepRecord{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := e.store.Create(ctx, run)
		switch {
		case errors.Is(err, ErrRunExists):
			existing, getErr := e.store.Get(ctx, run.ID)
			if getErr != nil {
				errs = append(errs, fmt.Errorf("load run %s: %w", run.ID, getErr))
				continue
			}
			if existing.Finished() {
				e.logger.Info("duplicate event for finished run ignored",
					zap.String("run_id", run.ID), zap.String("status", string(existing.Status)))
				continue
			}
		case err != nil:
			errs = append(errs, fmt.Errorf("create run %s: %w", run.ID, err))
			continue
		default:
			e.logger.Info("workflow run created",
				zap.String("run_id", run.ID),
				zap.String("workflow", name),
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID))
		}
		if e.spawn(run.ID) {
			started = append(started, run.ID)
		}
	}
	return started, errors.Join(errs...)
}

// Get returns a run by id.
func (e *Engine) Get(ctx context.Context, id string) (*Run, error) {
	return e.store.Get(ctx, id)
}

// Resume starts an unfinished run in the background.
func (e *Engine) Resume(ctx context.Context, id string) error {
	run, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.Finished() {
		return fmt.Errorf("run %s %s: %w", id, run.Status, ErrRunFinished)
	}
	if e.isInflight(id) {
		return ErrRunInFlight
	}
	if !e.spawn(id) {
		return ErrEngineClosed
	}
	return nil
}

// ResumeIncomplete restarts up to limit runs left running by a previous
// process. Runs updated within staleAfter are skipped.
func (e *Engine) ResumeIncomplete(ctx context.Context, limit int, staleAfter time.Duration) (int, error) {
	runs, err := e.store.ListIncomplete(ctx, limit)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-staleAfter)
	resumed := 0
	for _, run := range runs {
		if e.isInflight(run.ID) || run.UpdatedAt.After(cutoff) {
			continue
		}
		if e.spawn(run.ID) {
			resumed++
		}
	}
	if resumed > 0 {
		e.logger.Info("resumed incomplete runs", zap.Int("count", resumed))
	}
	return resumed, nil
}

// Execute drives a run synchronously until it finishes or ctx is done. It
// returns ErrRunInFlight while this or another engine is executing the run.
func (e *Engine) Execute(ctx context.Context, runID string) (*Run, error) {
	if !e.acquire(runID) {
		return nil, ErrRunInFlight
	}
	defer e.release(runID)

	held, err := e.store.Acquire(ctx, runID, e.owner, e.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	if !held {
		return nil, ErrRunInFlight
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	renewed := e.keepLease(runCtx, cancel, runID)
	defer func() {
		cancel(nil)
		<-renewed
		releaseCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer stop()
		if err := e.store.Release(releaseCtx, runID, e.owner); err != nil {
			e.logger.Warn("failed to release run lease", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return e.execute(runCtx, runID)
}

func (e *Engine) execute(ctx context.Context, runID string) (*Run, error) {
	run, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Finished() {
		return run, nil
	}
	def, ok := e.definition(run.Workflow)
	if !ok {
		return run, fmt.Errorf("no workflow registered as %q", run.Workflow)
	}
	logger := e.logger.With(zap.String("run_id", run.ID), zap.String("workflow", run.Workflow))

	for {
		if run.Attempt >= def.Retry.MaxAttempts() {
			err := e.finish(ctx, run, RunStatusFailed, &Result{Error: "retry attempts exhausted", Retriable: true}, logger)
			return run, err
		}
		run.Attempt++
		run.UpdatedAt = time.Now().UTC()
		if err := e.store.Update(ctx, run); err != nil {
			return run, fmt.Errorf("persist attempt: %w", err)
		}
		e.metrics.RecordAttempt(def.Name)

		result, err := e.attempt(ctx, def, run, logger)
		if err == nil {
			result := result
			return run, e.finish(ctx, run, RunStatusSucceeded, &result, logger)
		}
		if ctx.Err() != nil {
			if errors.Is(context.Cause(ctx), errLeaseLost) {
				logger.Warn("run lease lost; attempt abandoned", zap.Int("attempt", run.Attempt))
				return run, ErrRunInFlight
			}
			e.interrupted(ctx, run, logger)
			return run, ctx.Err()
		}

		switch def.Retry.Decide(err, run.Attempt) {
		case DecisionFail:
			return run, e.finish(ctx, run, RunStatusFailed, &Result{Error: err.Error(), Retriable: false}, logger)
		case DecisionExhausted:
			return run, e.finish(ctx, run, RunStatusFailed, &Result{Error: err.Error(), Retriable: true}, logger)
		}

		delay := def.Retry.Backoff(run.Attempt)
		e.metrics.RecordRetry(def.Name)
		logger.Warn("run attempt failed; retry scheduled",
			zap.Int("attempt", run.Attempt),
			zap.Int("max_attempts", def.Retry.MaxAttempts()),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			if errors.Is(context.Cause(ctx), errLeaseLost) {
				return run, ErrRunInFlight
			}
			return run, err
		}
	}
}

// Wait blocks until all background runs have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops accepting work, cancels running attempts and waits for
// their goroutines. Interrupted runs stay running and are resumed later.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) attempt(ctx context.Context, def Definition, run *Run, logger *zap.Logger) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("workflow handler panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	rc := &RunContext{
		run:     run,
		store:   e.store,
		logger:  logger.With(zap.Int("attempt", run.Attempt)),
		metrics: e.metrics,
	}
	return def.Handler(ctx, rc)
}

func (e *Engine) finish(ctx context.Context, run *Run, status RunStatus, result *Result, logger *zap.Logger) error {
	now := time.Now().UTC()
	run.Status = status
	run.Result = result
	run.UpdatedAt = now
	run.EndedAt = &now
	e.metrics.RecordRun(run.Workflow, string(status))
	if err := e.store.Update(ctx, run); err != nil {
		return fmt.Errorf("persist run result: %w", err)
	}
	if status == RunStatusSucceeded {
		logger.Info("workflow run succeeded", zap.Int("attempts", run.Attempt), zap.Bool("skipped", result.Skipped))
	} else {
		logger.Error("workflow run failed",
			zap.Int("attempts", run.Attempt),
			zap.Bool("retriable", result.Retriable),
			zap.String("error", result.Error))
	}
	return nil
}

// interrupted gives back the attempt consumed by a cancelled context.
func (e *Engine) interrupted(ctx context.Context, run *Run, logger *zap.Logger) {
	run.Attempt--
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.Update(saveCtx, run); err != nil {
		logger.Warn("failed to persist interrupted run", zap.Error(err))
	}
	logger.Warn("workflow run interrupted", zap.Error(ctx.Err()))
}

// keepLease renews the run lease until ctx is done and cancels ctx with
// errLeaseLost once the store reports the lease gone.
func (e *Engine) keepLease(ctx context.Context, cancel context.CancelCauseFunc, runID string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.leaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := e.store.Renew(ctx, runID, e.owner, e.leaseTTL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Warn("run lease renewal failed", zap.String("run_id", runID), zap.Error(err))
				continue
			}
			if !held {
				cancel(errLeaseLost)
				return
			}
		}
	}()
	return done
}

func (e *Engine) spawn(runID string) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		select {
		case e.sem <- struct{}{}:
		case <-e.ctx.Done():
			return
		}
		defer func() { <-e.sem }()

		if _, err := e.Execute(e.ctx, runID); err != nil {
			if errors.Is(err, ErrRunInFlight) || errors.Is(err, context.Canceled) {
				return
			}
			e.logger.Error("workflow run execution error", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return true
}

func (e *Engine) definition(name string) (Definition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.defs[name]
	return def, ok
}

func (e *Engine) acquire(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[runID]; busy {
		return false
	}
	e.inflight[runID] = struct{}{}
	return true
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, runID)
}

func (e *Engine) isInflight(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.inflight[runID]
	return busy
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
