package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/internal/observability"
)

// newStaffingCmd creates and configures the `staffing` command.
func newStaffingCmd() *cobra.Command {
	staffingCmd := &cobra.Command{
		Use:   "staffing",
		Short: "Computes per-interval staffing requirements from a forecast snapshot",
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

			result, err := components.Orchestrator.ComputeStaffing(ctx, horizon)
			if err != nil {
				return err
			}

			logger.Info("Staffing run complete",
				zap.String("run_id", result.RunID.String()),
				zap.Int("requirements", len(result.Requirements)))
			return writeResult(result, outputPath)
		},
	}

	staffingCmd.Flags().StringP("snapshot", "s", "", "Path to the forecast/roster snapshot JSON file.")
	staffingCmd.Flags().StringP("output", "o", "", "Output file for the result. If unset, prints to stdout.")
	addHorizonFlags(staffingCmd)

	return staffingCmd
}
