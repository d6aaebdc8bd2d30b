// Package orchestrator manages the high-level lifecycle of an optimization
// run. It is injected with fully configured engine components via interfaces,
// keeping it decoupled and testable: staffing math, allocation, compliance,
// scoring, search and persistence are all collaborators.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/engine"
	"github.com/shiftarc/shiftarc/internal/metrics"
)

// Orchestrator wires the optimization pipeline: staffing requirements from
// demand, allocation against the roster, gap analysis, and schedule search
// with strict-improvement acceptance.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger

	calc   schemas.StaffingCalculator
	alloc  schemas.Allocator
	gaps   schemas.GapAnalyzer
	rules  schemas.RuleEngine
	scorer schemas.Scorer
	search schemas.SearchEngine
	store  schemas.Store
	source schemas.SnapshotSource

	// baselineMu guards the accepted schedule carried between runs.
	baselineMu sync.RWMutex
	baseline   *schemas.ScheduleCandidate
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Calculator schemas.StaffingCalculator
	Allocator  schemas.Allocator
	Gaps       schemas.GapAnalyzer
	Rules      schemas.RuleEngine
	Scorer     schemas.Scorer
	Search     schemas.SearchEngine
	Store      schemas.Store
	Source     schemas.SnapshotSource
}

// New creates a new Orchestrator with its dependencies provided as
// interfaces.
func New(cfg config.Interface, logger *zap.Logger, deps Deps) (*Orchestrator, error) {
	if cfg == nil || logger == nil ||
		deps.Calculator == nil || deps.Allocator == nil || deps.Gaps == nil ||
		deps.Rules == nil || deps.Scorer == nil || deps.Search == nil ||
		deps.Store == nil || deps.Source == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		calc:   deps.Calculator,
		alloc:  deps.Allocator,
		gaps:   deps.Gaps,
		rules:  deps.Rules,
		scorer: deps.Scorer,
		search: deps.Search,
		store:  deps.Store,
		source: deps.Source,
	}, nil
}

// Run implements the task engine's runner contract.
func (o *Orchestrator) Run(ctx context.Context, task engine.Task) error {
	switch task.Kind {
	case engine.TaskComputeStaffing:
		_, err := o.ComputeStaffing(ctx, task.Horizon)
		return err
	case engine.TaskAllocate:
		_, err := o.Allocate(ctx, task.Horizon)
		return err
	case engine.TaskOptimizeSchedule:
		_, err := o.OptimizeSchedule(ctx, task.Horizon, 0)
		return err
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// ComputeStaffing converts forecasted demand over the horizon into staffing
// requirements. Infeasible pairs are flagged, never dropped, so downstream
// components see the full picture.
func (o *Orchestrator) ComputeStaffing(ctx context.Context, horizon schemas.Horizon) (*schemas.StaffingResult, error) {
	snap, err := o.snapshot(ctx, horizon)
	if err != nil {
		return nil, err
	}

	reqs, err := o.requirements(snap)
	if err != nil {
		return nil, err
	}

	result := &schemas.StaffingResult{
		RunID:        uuid.New(),
		Requirements: reqs,
		Statuses:     staffingStatuses(reqs),
	}

	if err := o.withRetry(ctx, "save_staffing", func(ctx context.Context) error {
		return o.store.SaveStaffing(ctx, result)
	}); err != nil {
		return nil, err
	}

	o.logger.Info("staffing computed",
		zap.String("run_id", result.RunID.String()),
		zap.Int("requirements", len(reqs)))
	return result, nil
}

// Allocate computes requirements and solves the multi-skill allocation over
// the horizon, returning the allocation together with its gap report.
func (o *Orchestrator) Allocate(ctx context.Context, horizon schemas.Horizon) (*schemas.AllocationResult, error) {
	snap, err := o.snapshot(ctx, horizon)
	if err != nil {
		return nil, err
	}

	reqs, err := o.requirements(snap)
	if err != nil {
		return nil, err
	}

	alloc, statuses, err := o.alloc.Allocate(ctx, reqs, snap)
	if err != nil {
		return nil, fmt.Errorf("allocation failed: %w", err)
	}

	report := o.gaps.Analyze(reqs, &alloc)
	result := &schemas.AllocationResult{
		RunID:        uuid.New(),
		Requirements: reqs,
		Allocation:   alloc,
		Report:       report,
		Statuses:     statuses,
	}

	if err := o.withRetry(ctx, "save_allocation", func(ctx context.Context) error {
		return o.store.SaveAllocation(ctx, result)
	}); err != nil {
		return nil, err
	}

	o.logger.Info("allocation computed",
		zap.String("run_id", result.RunID.String()),
		zap.Float64("total_shortage", report.TotalShortage))
	return result, nil
}

// OptimizeSchedule runs the full pipeline and a schedule search seeded from
// the current baseline. The search result replaces the baseline only on a
// strict score improvement; otherwise the baseline is retained and the run
// flagged accordingly. A non-positive budget falls back to the configured
// search budget.
func (o *Orchestrator) OptimizeSchedule(ctx context.Context, horizon schemas.Horizon, budget time.Duration) (*schemas.OptimizationResult, error) {
	snap, err := o.snapshot(ctx, horizon)
	if err != nil {
		return nil, err
	}

	reqs, err := o.requirements(snap)
	if err != nil {
		return nil, err
	}

	alloc, allocStatuses, err := o.alloc.Allocate(ctx, reqs, snap)
	if err != nil {
		return nil, fmt.Errorf("allocation failed: %w", err)
	}

	baseline := o.currentBaseline(snap, alloc)
	o.scoreCandidate(baseline, reqs, snap)

	if budget <= 0 {
		budget = o.cfg.Search().Budget
	}
	best, searchStatus, err := o.search.Optimize(ctx, baseline, reqs, snap, budget)
	if err != nil {
		return nil, fmt.Errorf("schedule search failed: %w", err)
	}

	accepted := !best.Score.Disqualified && best.Score.Better(baseline.Score)
	statuses := append([]schemas.RunStatus{}, allocStatuses...)
	statuses = append(statuses, searchStatus)

	result := &schemas.OptimizationResult{
		RunID:      uuid.New(),
		Baseline:   baseline.Score,
		Report:     o.gaps.Analyze(reqs, &alloc),
		Statuses:   statuses,
		Accepted:   accepted,
		Generation: best.Generation,
	}

	if accepted {
		metrics.SchedulesAcceptedTotal.Inc()
		result.Best = best
		o.setBaseline(best)
	} else {
		metrics.SchedulesRejectedTotal.Inc()
		result.Statuses = append(result.Statuses, schemas.StatusBaselineRetained)
	}

	if err := o.withRetry(ctx, "save_schedule", func(ctx context.Context) error {
		return o.store.SaveSchedule(ctx, result)
	}); err != nil {
		return nil, err
	}

	o.logger.Info("schedule optimization finished",
		zap.String("run_id", result.RunID.String()),
		zap.Bool("accepted", accepted),
		zap.String("search_status", string(searchStatus)),
		zap.Float64("baseline_composite", baseline.Score.Composite),
		zap.Float64("best_composite", best.Score.Composite))
	return result, nil
}

// InvalidateStaffingCache drops cached staffing results. Called when the
// service-level configuration changes between runs.
func (o *Orchestrator) InvalidateStaffingCache() {
	o.calc.InvalidateAll()
}

// snapshot fetches a fresh snapshot with bounded retries.
func (o *Orchestrator) snapshot(ctx context.Context, horizon schemas.Horizon) (*schemas.Snapshot, error) {
	var snap *schemas.Snapshot
	err := o.withRetry(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		snap, err = o.source.Snapshot(ctx, horizon)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain snapshot: %w", err)
	}
	return snap, nil
}

// requirements computes the staffing requirement for every demand point, in
// deterministic (interval, queue) order.
func (o *Orchestrator) requirements(snap *schemas.Snapshot) ([]schemas.StaffingRequirement, error) {
	demand := make([]schemas.DemandPoint, len(snap.Demand))
	copy(demand, snap.Demand)
	sort.Slice(demand, func(i, j int) bool {
		if demand[i].Interval.Index != demand[j].Interval.Index {
			return demand[i].Interval.Index < demand[j].Interval.Index
		}
		return demand[i].QueueID < demand[j].QueueID
	})

	reqs := make([]schemas.StaffingRequirement, 0, len(demand))
	for _, d := range demand {
		queue, ok := snap.QueueByID(d.QueueID)
		if !ok {
			return nil, fmt.Errorf("%w: demand references unknown queue %q", schemas.ErrInputInconsistency, d.QueueID)
		}
		req, err := o.calc.Required(d, queue.Target)
		if err != nil {
			return nil, fmt.Errorf("staffing calculation for queue %q failed: %w", d.QueueID, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// currentBaseline returns the accepted schedule from a previous run when one
// exists; otherwise it synthesizes a baseline candidate from the fresh
// allocation.
func (o *Orchestrator) currentBaseline(snap *schemas.Snapshot, alloc schemas.Allocation) *schemas.ScheduleCandidate {
	o.baselineMu.RLock()
	baseline := o.baseline
	o.baselineMu.RUnlock()

	if baseline != nil {
		clone := baseline.Clone()
		clone.Baseline = true
		return clone
	}

	return &schemas.ScheduleCandidate{
		ID:         uuid.New(),
		Shifts:     shiftsFromAllocation(alloc, snap.Horizon),
		Allocation: alloc.Clone(),
		Baseline:   true,
	}
}

func (o *Orchestrator) setBaseline(candidate *schemas.ScheduleCandidate) {
	o.baselineMu.Lock()
	o.baseline = candidate
	o.baselineMu.Unlock()
}

// scoreCandidate evaluates a candidate in place through the compliance and
// scoring collaborators.
func (o *Orchestrator) scoreCandidate(cand *schemas.ScheduleCandidate, reqs []schemas.StaffingRequirement, snap *schemas.Snapshot) {
	violations := o.rules.Validate(cand, snap)
	report := o.gaps.Analyze(reqs, &cand.Allocation)
	cand.Score = o.scorer.Score(cand, &report, violations, snap)
}

// withRetry runs fn with the configured bounded retries and backoff.
// Cancellation aborts between attempts; retries are counted per operation.
func (o *Orchestrator) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	maxRetries := o.cfg.Recompute().MaxRetries
	backoff := o.cfg.Recompute().RetryBackoff

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || ctx.Err() != nil {
			break
		}

		metrics.RunRetriesTotal.WithLabelValues(operation).Inc()
		o.logger.Warn("operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries+1, err)
}

func staffingStatuses(reqs []schemas.StaffingRequirement) []schemas.RunStatus {
	for _, req := range reqs {
		if !req.Feasible {
			return []schemas.RunStatus{schemas.StatusInfeasible}
		}
	}
	return []schemas.RunStatus{schemas.StatusOptimal}
}

// shiftsFromAllocation folds an interval-level allocation into contiguous
// shifts: consecutive intervals where one agent serves one queue merge into a
// single assignment.
func shiftsFromAllocation(alloc schemas.Allocation, h schemas.Horizon) []schemas.ShiftAssignment {
	type key struct {
		agent schemas.AgentID
		queue schemas.QueueID
	}
	byPair := make(map[key][]int)
	for _, rec := range alloc.Records {
		if rec.Share <= schemas.ShareEpsilon {
			continue
		}
		k := key{agent: rec.AgentID, queue: rec.QueueID}
		byPair[k] = append(byPair[k], rec.IntervalIndex)
	}

	keys := make([]key, 0, len(byPair))
	for k := range byPair {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].agent != keys[j].agent {
			return keys[i].agent < keys[j].agent
		}
		return keys[i].queue < keys[j].queue
	})

	var shifts []schemas.ShiftAssignment
	for _, k := range keys {
		indices := byPair[k]
		sort.Ints(indices)

		runStart := indices[0]
		prev := indices[0]
		flush := func(first, last int) {
			shifts = append(shifts, schemas.ShiftAssignment{
				AgentID: k.agent,
				QueueID: k.queue,
				Start:   h.Interval(first).Start,
				End:     h.Interval(last).End(),
			})
		}
		for _, idx := range indices[1:] {
			if idx == prev {
				continue
			}
			if idx != prev+1 {
				flush(runStart, prev)
				runStart = idx
			}
			prev = idx
		}
		flush(runStart, prev)
	}
	return shifts
}
