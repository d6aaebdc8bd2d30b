package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/internal/observability"
)

// newAllocateCmd creates and configures the `allocate` command.
func newAllocateCmd() *cobra.Command {
	allocateCmd := &cobra.Command{
		Use:   "allocate",
		Short: "Solves the multi-skill agent allocation against computed requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			snapshotPath, _ := cmd.Flags().GetString("snapshot")
			outputPath, _ := cmd.Flags().GetString("output")
			horizon, err := horizonFromFlags(cmd)
			if err != nil {
				return err
			}

			components, err := initializePipeline(ctx, appConfig, snapshotPath, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}
			defer components.Shutdown()

			result, err := components.Orchestrator.Allocate(ctx, horizon)
			if err != nil {
				return err
			}

			logger.Info("Allocation run complete",
				zap.String("run_id", result.RunID.String()),
				zap.Int("records", len(result.Allocation.Records)),
				zap.Float64("total_shortage", result.Report.TotalShortage))
			return writeResult(result, outputPath)
		},
	}

	allocateCmd.Flags().StringP("snapshot", "s", "", "Path to the forecast/roster snapshot JSON file.")
	allocateCmd.Flags().StringP("output", "o", "", "Output file for the result. If unset, prints to stdout.")
	addHorizonFlags(allocateCmd)

	return allocateCmd
}
