package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/internal/observability"
)

// newOptimizeCmd creates and configures the `optimize` command.
func newOptimizeCmd() *cobra.Command {
	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Runs the full pipeline and searches for an improved schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			snapshotPath, _ := cmd.Flags().GetString("snapshot")
			outputPath, _ := cmd.Flags().GetString("output")
			horizon, err := horizonFromFlags(cmd)
			if err != nil {
				return err
			}

			budget, _ := cmd.Flags().GetDuration("budget")

			components, err := initializePipeline(ctx, appConfig, snapshotPath, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}
			defer components.Shutdown()

			result, err := components.Orchestrator.OptimizeSchedule(ctx, horizon, budget)
			if err != nil {
				return err
			}

			logger.Info("Optimization run complete",
				zap.String("run_id", result.RunID.String()),
				zap.Bool("accepted", result.Accepted),
				zap.Int("generation", result.Generation),
				zap.Float64("baseline_composite", result.Baseline.Composite))

			if !result.Accepted {
				fmt.Println("No schedule beat the current baseline; baseline retained.")
			}
			return writeResult(result, outputPath)
		},
	}

	optimizeCmd.Flags().StringP("snapshot", "s", "", "Path to the forecast/roster snapshot JSON file.")
	optimizeCmd.Flags().StringP("output", "o", "", "Output file for the result. If unset, prints to stdout.")
	optimizeCmd.Flags().Duration("budget", 0, "Wall-clock budget for the schedule search. (Overrides config/env)")
	addHorizonFlags(optimizeCmd)

	return optimizeCmd
}
