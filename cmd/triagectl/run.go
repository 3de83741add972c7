package main

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-triage/internal/api/dto"
)

var (
	sweepLimit int
	sweepStale string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Workflow run commands",
}

var runGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a run and its step ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := container.Engine.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, dto.NewRunResponse(run))
	},
}

var runResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Drive an unfinished run to completion in this process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := container.Engine.Execute(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		// Runs started by events this run emitted.
		container.Engine.Wait()
		return printJSON(cmd, dto.NewRunResponse(run))
	},
}

var runSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resume every stale unfinished run and wait for them",
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, err := parseDuration(sweepStale)
		if err != nil {
			return err
		}
		resumed, err := container.Engine.ResumeIncomplete(cmd.Context(), sweepLimit, stale)
		if err != nil {
			return err
		}
		container.Engine.Wait()
		return printJSON(cmd, map[string]int{"resumed": resumed})
	},
}

func init() {
	runSweepCmd.Flags().IntVar(&sweepLimit, "limit", 100, "Maximum runs to resume")
	runSweepCmd.Flags().StringVar(&sweepStale, "stale-after", "2m", "Skip runs updated more recently than this")
	runCmd.AddCommand(runGetCmd, runResumeCmd, runSweepCmd)
}
