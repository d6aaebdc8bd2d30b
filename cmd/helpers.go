package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/allocator"
	"github.com/shiftarc/shiftarc/internal/compliance"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/erlang"
	"github.com/shiftarc/shiftarc/internal/gap"
	"github.com/shiftarc/shiftarc/internal/ingest"
	"github.com/shiftarc/shiftarc/internal/orchestrator"
	"github.com/shiftarc/shiftarc/internal/scoring"
	"github.com/shiftarc/shiftarc/internal/search"
	"github.com/shiftarc/shiftarc/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pipelineComponents holds the initialized optimization pipeline.
type pipelineComponents struct {
	Orchestrator *orchestrator.Orchestrator
	Source       schemas.SnapshotSource
	Store        schemas.Store
	DBPool       *pgxpool.Pool
}

// Shutdown releases held resources.
func (pc *pipelineComponents) Shutdown() {
	if pc.DBPool != nil {
		pc.DBPool.Close()
	}
}

// initializePipeline handles dependency injection for the run commands. The
// snapshot comes from the given file; persistence goes to Postgres when a
// database URL is configured and stays in memory otherwise.
func initializePipeline(ctx context.Context, cfg config.Interface, snapshotPath string, logger *zap.Logger) (*pipelineComponents, error) {
	if snapshotPath == "" {
		return nil, fmt.Errorf("a snapshot file is required (--snapshot)")
	}

	components := &pipelineComponents{
		Source: ingest.NewFileSource(snapshotPath, logger),
	}

	if url := cfg.Database().URL; url != "" {
		dbPool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			components.Shutdown()
			return nil, fmt.Errorf("failed to initialize database store: %w", err)
		}
		components.Store = dbStore
	} else {
		logger.Info("No database configured, keeping run artifacts in memory")
		components.Store = store.NewMemoryStore()
	}

	rules := compliance.NewEngine(cfg.Compliance(), logger)
	scorer := scoring.NewEngine(cfg.Scoring())
	gaps := gap.NewAnalyzer(cfg.Scoring())

	orch, err := orchestrator.New(cfg, logger, orchestrator.Deps{
		Calculator: erlang.NewCalculator(cfg.Staffing(), logger),
		Allocator:  allocator.NewOptimizer(cfg.Allocator(), logger),
		Gaps:       gaps,
		Rules:      rules,
		Scorer:     scorer,
		Search:     search.NewEngine(cfg.Search(), rules, scorer, gaps, logger),
		Store:      components.Store,
		Source:     components.Source,
	})
	if err != nil {
		components.Shutdown()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch

	return components, nil
}

// addHorizonFlags registers the planning-window flags shared by the run
// commands. An unset horizon defers to the one carried by the snapshot file.
func addHorizonFlags(cmd *cobra.Command) {
	cmd.Flags().String("horizon-start", "", "Planning window start (RFC 3339). Defaults to the snapshot's own horizon.")
	cmd.Flags().Duration("interval-length", 30*time.Minute, "Length of one staffing interval.")
	cmd.Flags().Int("intervals", 0, "Number of intervals in the planning window.")
}

// horizonFromFlags builds the fallback horizon the snapshot source uses when
// the snapshot document does not carry one.
func horizonFromFlags(cmd *cobra.Command) (schemas.Horizon, error) {
	startRaw, _ := cmd.Flags().GetString("horizon-start")
	length, _ := cmd.Flags().GetDuration("interval-length")
	intervals, _ := cmd.Flags().GetInt("intervals")

	var h schemas.Horizon
	if startRaw != "" {
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return h, fmt.Errorf("invalid --horizon-start: %w", err)
		}
		h.Start = start
	}
	h.IntervalLength = length
	h.Intervals = intervals
	return h, nil
}

// writeResult emits a run artifact as indented JSON, to stdout or to the
// given file.
func writeResult(result any, outputPath string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if outputPath == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}
