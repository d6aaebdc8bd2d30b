package schemas

import (
	"context"
	"time"
)

// Component contracts. The orchestrator is injected with these rather than
// concrete types, keeping the engine decoupled and testable.

// StaffingCalculator converts forecasted demand into a minimum agent count.
type StaffingCalculator interface {
	// Required computes the minimal agent count meeting the target, or a
	// requirement flagged infeasible when the queue is unstable or the target
	// is unreachable within the configured bound.
	Required(demand DemandPoint, target ServiceLevelTarget) (StaffingRequirement, error)
	// InvalidateAll drops every cached result. Called whenever the
	// service-level configuration changes.
	InvalidateAll()
}

// Allocator assigns multi-skilled agents to queues against requirements.
// It always returns a usable allocation; degraded paths are flagged via the
// returned statuses.
type Allocator interface {
	Allocate(ctx context.Context, reqs []StaffingRequirement, snap *Snapshot) (Allocation, []RunStatus, error)
}

// GapAnalyzer derives the coverage gap report. Pure: no randomness, no side
// effects, identical inputs yield identical reports.
type GapAnalyzer interface {
	Analyze(reqs []StaffingRequirement, alloc *Allocation) GapReport
}

// RuleEngine validates and repairs candidates against the active labor rules.
type RuleEngine interface {
	Validate(candidate *ScheduleCandidate, snap *Snapshot) []Violation
	// Repair attempts bounded local fixes for soft violations only. Hard
	// violations are never auto-repaired.
	Repair(candidate *ScheduleCandidate, snap *Snapshot) *ScheduleCandidate
}

// Scorer ranks candidates on the weighted multi-objective composite.
type Scorer interface {
	Score(candidate *ScheduleCandidate, report *GapReport, violations []Violation, snap *Snapshot) ScoreResult
}

// SearchEngine runs the heuristic schedule search. It never returns "no
// result": on any terminal condition the best candidate observed so far is
// returned together with the terminal status.
type SearchEngine interface {
	Optimize(ctx context.Context, baseline *ScheduleCandidate, reqs []StaffingRequirement, snap *Snapshot, budget time.Duration) (*ScheduleCandidate, RunStatus, error)
}

// Store is the persistence collaborator boundary. The engine hands accepted
// artifacts over; it does not own how they are stored.
type Store interface {
	SaveStaffing(ctx context.Context, result *StaffingResult) error
	SaveAllocation(ctx context.Context, result *AllocationResult) error
	SaveSchedule(ctx context.Context, result *OptimizationResult) error
}

// SnapshotSource supplies fresh demand and roster snapshots. Forecast and
// roster data are produced by external collaborators.
type SnapshotSource interface {
	Snapshot(ctx context.Context, horizon Horizon) (*Snapshot, error)
}
