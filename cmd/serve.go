package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/engine"
	"github.com/shiftarc/shiftarc/internal/metrics"
	"github.com/shiftarc/shiftarc/internal/observability"
	"github.com/shiftarc/shiftarc/internal/orchestrator"
)

// newServeCmd creates and configures the `serve` command: the long-running
// recompute service with a worker pool and a Prometheus metrics endpoint.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the continuous staffing recompute service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so they override config file and environment values.
			if err := viper.BindPFlag("recompute.interval", cmd.Flags().Lookup("interval")); err != nil {
				return err
			}
			return viper.BindPFlag("engine.worker_concurrency", cmd.Flags().Lookup("concurrency"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config: the flags bound in PreRunE must override
			// file and environment values with the right precedence.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to apply flag overrides: %w", err)
			}
			appConfig = cfg

			snapshotPath, _ := cmd.Flags().GetString("snapshot")
			horizon, err := horizonFromFlags(cmd)
			if err != nil {
				return err
			}

			components, err := initializePipeline(ctx, appConfig, snapshotPath, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}
			defer components.Shutdown()

			// Resolve the planning window once up front: the snapshot's own
			// horizon wins over the flag-supplied fallback.
			snap, err := components.Source.Snapshot(ctx, horizon)
			if err != nil {
				return fmt.Errorf("failed to load initial snapshot: %w", err)
			}
			horizon = snap.Horizon

			tasks := make(chan engine.Task, appConfig.Engine().QueueSize)
			taskEngine, err := engine.New(appConfig, logger, components.Orchestrator)
			if err != nil {
				return fmt.Errorf("failed to initialize task engine: %w", err)
			}
			taskEngine.Start(ctx, tasks)

			loop := orchestrator.NewRecomputeLoop(appConfig, logger, components.Orchestrator, horizon, tasks)
			go loop.Run(ctx)

			// Expose the engine's metrics registry.
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			metricsServer := &http.Server{
				Addr:    appConfig.Recompute().MetricsAddress,
				Handler: mux,
			}
			go func() {
				logger.Info("Metrics endpoint listening", zap.String("address", metricsServer.Addr))
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server failed", zap.Error(err))
				}
			}()

			logger.Info("Recompute service running",
				zap.Duration("interval", appConfig.Recompute().Interval),
				zap.Float64("gap_threshold", appConfig.Recompute().GapThreshold))

			<-ctx.Done()
			logger.Info("Shutdown signal received, stopping service")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}

			close(tasks)
			taskEngine.Stop()
			return nil
		},
	}

	serveCmd.Flags().StringP("snapshot", "s", "", "Path to the forecast/roster snapshot JSON file.")
	serveCmd.Flags().Duration("interval", 0, "Recompute interval. (Overrides config/env)")
	serveCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent engine workers. (Overrides config/env)")
	addHorizonFlags(serveCmd)

	return serveCmd
}
