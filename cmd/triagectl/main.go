// Command triagectl administers the ticket triage service: it issues access
// tokens, adds users and inspects or resumes workflow runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/app"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/observability"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

var (
	rootCtx   context.Context
	container *app.Container
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:           "triagectl",
	Short:         "Administer the ticket triage service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Logger.Level = logLevel
		cfg.Logger.Output = "stderr"
		logger, err := observability.NewLogger(cfg.Logger)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		container, err = app.Build(rootCtx, cfg, logger)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level for diagnostics written to stderr")
	rootCmd.AddCommand(tokenCmd, userCmd, runCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	err := rootCmd.ExecuteContext(ctx)
	if container != nil {
		if err != nil {
			container.Logger.Debug("command failed", zap.Error(err))
		}
		_ = container.Engine.Shutdown(context.Background())
		container.Close()
		_ = container.Logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDuration(val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid duration", map[string]any{"value": val})
	}
	return d, nil
}
