// Package app assembles the triage service from configuration. The API
// server and triagectl share it so both see the same stores and workflows.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/classifier"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/notify"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/persistence"
	"github.com/spec-kit/ticket-triage/internal/repository"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/worker"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

// Container holds the wired components.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Postgres *persistence.Postgres
	Redis    *persistence.Redis

	Tickets repository.TicketRepository
	Users   repository.UserRepository
	Runs    workflow.Store

	Dispatcher    events.Dispatcher
	TicketService *service.TicketService
	Tokens        *auth.TokenManager
	Engine        *workflow.Engine
}

// Build connects stores and registers the workflows. Without Postgres the
// ticket and user stores are in memory; without Redis so are workflow runs.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.NewMetrics(c.Registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.Postgres = pg

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			c.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	c.Redis = rdb

	if pg.Enabled() {
		c.Tickets = repository.NewTicketRepository(pg.PoolHandle())
		c.Users = repository.NewUserRepository(pg.PoolHandle())
	} else {
		c.Tickets = repository.NewMemoryTicketRepository()
		c.Users = repository.NewMemoryUserRepository()
	}
	if rdb.Enabled() {
		c.Runs = repository.NewRunStore(rdb.Client, repository.RunStoreOptions{Retention: cfg.Workflow.RunRetention()})
	} else {
		c.Runs = workflow.NewMemoryStore(workflow.WithRetention(cfg.Workflow.RunRetention()))
	}

	c.Dispatcher = events.NewInMemoryDispatcher(logger)
	c.TicketService = service.NewTicketService(service.TicketDependencies{
		TicketRepo: c.Tickets,
		Publisher:  c.Dispatcher,
		Logger:     logger,
	})
	c.Tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())

	sender, err := newSender(cfg.Notification, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Engine = workflow.NewEngine(workflow.EngineDependencies{
		Store:             c.Runs,
		Logger:            logger,
		Metrics:           c.Metrics,
		MaxConcurrentRuns: cfg.Workflow.MaxConcurrentRuns,
		LeaseTTL:          cfg.Workflow.RunLease(),
	})
	err = worker.Register(c.Engine, worker.Dependencies{
		Tickets:       c.Tickets,
		Users:         c.Users,
		TicketService: c.TicketService,
		Assignment:    service.NewAssignmentService(service.AssignmentDependencies{UserRepo: c.Users, Logger: logger}),
		Notifications: service.NewNotificationService(sender, logger),
		Classifier:    newClassifier(cfg.Classifier, logger),
		Retry: workflow.RetryPolicy{
			Retries:        cfg.Workflow.Retries,
			InitialBackoff: cfg.Workflow.InitialBackoff(),
			MaxBackoff:     cfg.Workflow.MaxBackoff(),
			Multiplier:     2,
		},
		Logger: logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("register workflows: %w", err)
	}
	c.Engine.Subscribe(c.Dispatcher)
	return c, nil
}

// Close releases store connections. Stop the engine first.
func (c *Container) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.Postgres != nil {
		c.Postgres.Close()
	}
}

func newClassifier(cfg config.ClassifierConfig, logger *zap.Logger) classifier.Classifier {
	if cfg.APIKey == "" {
		logger.Warn("CLASSIFIER_API_KEY not provided; tickets are triaged without classification")
		return classifier.Noop{Logger: logger}
	}
	return classifier.NewOpenAI(cfg.APIKey,
		classifier.WithBaseURL(cfg.BaseURL),
		classifier.WithModel(cfg.Model),
		classifier.WithTimeout(cfg.Timeout()),
		classifier.WithLogger(logger))
}

func newSender(cfg config.NotificationConfig, logger *zap.Logger) (notify.Sender, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not provided; notifications are logged only")
		return notify.NewLogSender(logger), nil
	}
	sender, err := notify.NewSMTPSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure smtp: %w", err)
	}
	return sender, nil
}
