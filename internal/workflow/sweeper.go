package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweeperConfig controls the periodic recovery of stalled runs.
type SweeperConfig struct {
	Schedule   string
	BatchSize  int
	StaleAfter time.Duration
}

// Sweeper periodically resumes runs that stopped making progress, such as
// runs interrupted by a crash or a lost retry timer.
type Sweeper struct {
	engine *Engine
	cfg    SweeperConfig
	cron   *cron.Cron
	logger *zap.Logger
}

// NewSweeper validates the schedule and prepares the cron job.
func NewSweeper(engine *Engine, cfg SweeperConfig, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	s := &Sweeper{
		engine: engine,
		cfg:    cfg,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger.With(zap.String("component", "run_sweeper")),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("run sweeper started", zap.String("schedule", s.cfg.Schedule))
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("run sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resumed, err := s.engine.ResumeIncomplete(ctx, s.cfg.BatchSize, s.cfg.StaleAfter)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	if resumed > 0 {
		s.logger.Info("sweep resumed stalled runs", zap.Int("count", resumed))
	}
}
