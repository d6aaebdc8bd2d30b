// Package engine manages the in-process distribution of optimization tasks
// to a bounded pool of workers.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

// TaskKind selects which orchestrator operation a task invokes.
type TaskKind string

const (
	TaskComputeStaffing  TaskKind = "compute_staffing"
	TaskAllocate         TaskKind = "allocate"
	TaskOptimizeSchedule TaskKind = "optimize_schedule"
)

// Task is one unit of optimization work. Tasks are self-contained: the
// horizon identifies the planning window and the runner resolves everything
// else from a fresh snapshot.
type Task struct {
	ID          uuid.UUID
	Kind        TaskKind
	Horizon     schemas.Horizon
	SubmittedAt time.Time
}

// Runner executes one task end to end. The orchestrator implements this; the
// engine stays decoupled from what the task actually does.
type Runner interface {
	Run(ctx context.Context, task Task) error
}

// TaskEngine distributes tasks from a channel to a pool of worker goroutines.
type TaskEngine struct {
	cfg    config.Interface
	logger *zap.Logger
	runner Runner
	wg     sync.WaitGroup

	// stateLock protects the running state against re-entrant Start calls.
	stateLock sync.Mutex
	isRunning bool
}

// New creates a new TaskEngine. Dependencies are accepted as interfaces so
// the composition root owns concrete construction.
func New(cfg config.Interface, logger *zap.Logger, runner Runner) (*TaskEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}

	return &TaskEngine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "task_engine")),
		runner: runner,
	}, nil
}

// Start launches the worker pool and begins consuming tasks from the
// provided channel. Calling Start on a running engine is a no-op.
func (e *TaskEngine) Start(ctx context.Context, taskChan <-chan Task) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("TaskEngine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	e.logger.Info("Starting task engine worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, taskChan)
	}
}

// Stop gracefully shuts down the engine by waiting for all workers to finish.
func (e *TaskEngine) Stop() {
	e.logger.Info("Stopping task engine... waiting for workers to finish.")
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Task engine stopped gracefully.")
}

// runWorker is the main loop for a single worker goroutine. The for-select
// lets a worker exit immediately on cancellation instead of draining the
// channel first.
func (e *TaskEngine) runWorker(ctx context.Context, workerID int, taskChan <-chan Task) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Info("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down immediately.", zap.Error(ctx.Err()))
			return
		case task, ok := <-taskChan:
			if !ok {
				logger.Info("Task queue closed and drained, worker shutting down gracefully.")
				return
			}
			e.process(ctx, task, logger)
		}
	}
}

// process executes a single task under the configured per-task timeout.
func (e *TaskEngine) process(ctx context.Context, task Task, logger *zap.Logger) {
	logger = logger.With(
		zap.String("task_id", task.ID.String()),
		zap.String("task_kind", string(task.Kind)))
	logger.Info("Processing task")

	if ctx.Err() != nil {
		logger.Warn("Context cancelled before task processing started", zap.Error(ctx.Err()))
		return
	}

	taskTimeout := e.cfg.Engine().DefaultTaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}

	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	if err := e.runner.Run(taskCtx, task); err != nil {
		// Timeouts and cancellations are expected during shutdown; the run
		// itself already produced a best-effort result.
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn("Task timed out", zap.Duration("timeout", taskTimeout), zap.Error(err))
		case errors.Is(err, context.Canceled):
			logger.Warn("Task was cancelled", zap.Error(err))
		default:
			logger.Error("Task failed with unexpected error", zap.Error(err))
		}
		return
	}
	logger.Info("Task completed")
}
