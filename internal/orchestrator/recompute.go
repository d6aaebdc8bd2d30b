package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/engine"
	"github.com/shiftarc/shiftarc/internal/metrics"
)

// RecomputeLoop periodically re-derives staffing and allocation for a fixed
// horizon and submits a schedule search whenever the aggregate gap crosses
// the configured threshold. A rate limiter keeps bursts of timer ticks (for
// example after a laptop resume) from stampeding the pipeline.
type RecomputeLoop struct {
	cfg     config.Interface
	logger  *zap.Logger
	orch    *Orchestrator
	horizon schemas.Horizon
	tasks   chan<- engine.Task
	limiter *rate.Limiter
}

// NewRecomputeLoop builds the loop. Submitted tasks go to the task engine
// via the provided channel.
func NewRecomputeLoop(cfg config.Interface, logger *zap.Logger, orch *Orchestrator, horizon schemas.Horizon, tasks chan<- engine.Task) *RecomputeLoop {
	interval := cfg.Recompute().Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &RecomputeLoop{
		cfg:     cfg,
		logger:  logger.Named("recompute"),
		orch:    orch,
		horizon: horizon,
		tasks:   tasks,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run blocks until the context is cancelled.
func (l *RecomputeLoop) Run(ctx context.Context) {
	interval := l.cfg.Recompute().Interval
	if interval <= 0 {
		interval = time.Minute
	}

	l.logger.Info("recompute loop started",
		zap.Duration("interval", interval),
		zap.Float64("gap_threshold", l.cfg.Recompute().GapThreshold))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("recompute loop stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if !l.limiter.Allow() {
				continue
			}
			l.tick(ctx)
		}
	}
}

// tick runs one recompute pass: fresh staffing and allocation, then a search
// submission when the coverage gap warrants one.
func (l *RecomputeLoop) tick(ctx context.Context) {
	metrics.RecomputeTicksTotal.Inc()

	result, err := l.orch.Allocate(ctx, l.horizon)
	if err != nil {
		l.logger.Error("recompute allocation failed", zap.Error(err))
		return
	}

	gap := result.Report.AggregateGap()
	threshold := l.cfg.Recompute().GapThreshold
	if gap <= threshold {
		l.logger.Debug("coverage within threshold, no search submitted",
			zap.Float64("gap", gap),
			zap.Float64("threshold", threshold))
		return
	}

	task := engine.Task{
		ID:          uuid.New(),
		Kind:        engine.TaskOptimizeSchedule,
		Horizon:     l.horizon,
		SubmittedAt: time.Now(),
	}

	select {
	case l.tasks <- task:
		l.logger.Info("schedule search submitted",
			zap.String("task_id", task.ID.String()),
			zap.Float64("gap", gap))
	default:
		// Queue full: the next tick will resubmit if the gap persists.
		l.logger.Warn("task queue full, dropping schedule search submission",
			zap.Float64("gap", gap))
	}
}
