package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-triage/internal/api/http"
	"github.com/spec-kit/ticket-triage/internal/api/http/handlers"
	"github.com/spec-kit/ticket-triage/internal/app"
	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build service", zap.Error(err))
	}
	defer container.Close()

	resumed, err := container.Engine.ResumeIncomplete(ctx, cfg.Workflow.SweepBatchSize, 0)
	if err != nil {
		logger.Error("failed to resume incomplete runs", zap.Error(err))
	} else {
		logger.Info("startup recovery finished", zap.Int("resumed", resumed))
	}

	sweeper, err := workflow.NewSweeper(container.Engine, workflow.SweeperConfig{
		Schedule:   cfg.Workflow.SweepSchedule,
		BatchSize:  cfg.Workflow.SweepBatchSize,
		StaleAfter: cfg.Workflow.StaleAfter(),
	}, logger)
	if err != nil {
		logger.Fatal("failed to configure sweeper", zap.Error(err))
	}
	sweeper.Start()

	fiberApp := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(fiberApp, logger, container.Metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, container.Postgres, container.Redis),
		Tickets:        handlers.NewTicketsHandler(container.TicketService),
		Runs:           handlers.NewRunsHandler(container.Engine),
		AuthMiddleware: auth.NewAuthMiddleware(container.Tokens, container.Users),
		Metrics:        promhttp.HandlerFor(container.Registry, promhttp.HandlerOpts{}),
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := fiberApp.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Workflow.ShutdownTimeout())
	defer shutdownCancel()

	if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sweeper.Stop(shutdownCtx)
	if err := container.Engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("workflow runs still executing at shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
