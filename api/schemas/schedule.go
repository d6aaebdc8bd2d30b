package schemas

import (
	"time"

	"github.com/google/uuid"
)

// -- Allocation --

// ShareEpsilon is the tolerance applied to the per-agent, per-interval share
// sum invariant.
const ShareEpsilon = 1e-9

// AllocationRecord assigns a fraction of one agent's interval to a queue.
// Records are arena-style: keyed by ids rather than holding back-references.
type AllocationRecord struct {
	AgentID       AgentID `json:"agent_id"`
	IntervalIndex int     `json:"interval"`
	QueueID       QueueID `json:"queue_id"`
	Share         float64 `json:"share"`
}

// Allocation maps (agent, interval) pairs onto queues with fractional
// time-shares. The share sum per agent per interval never exceeds 1.
type Allocation struct {
	Records []AllocationRecord `json:"records"`
}

// Add appends a record, merging with an existing record for the same
// (agent, interval, queue) key.
func (a *Allocation) Add(rec AllocationRecord) {
	for i := range a.Records {
		r := &a.Records[i]
		if r.AgentID == rec.AgentID && r.IntervalIndex == rec.IntervalIndex && r.QueueID == rec.QueueID {
			r.Share += rec.Share
			return
		}
	}
	a.Records = append(a.Records, rec)
}

// AgentShare returns the total share already assigned to the agent within the
// interval.
func (a *Allocation) AgentShare(agent AgentID, interval int) float64 {
	var sum float64
	for _, r := range a.Records {
		if r.AgentID == agent && r.IntervalIndex == interval {
			sum += r.Share
		}
	}
	return sum
}

// QueueTotal returns the agent-equivalents allocated to the queue within the
// interval.
func (a *Allocation) QueueTotal(queue QueueID, interval int) float64 {
	var sum float64
	for _, r := range a.Records {
		if r.QueueID == queue && r.IntervalIndex == interval {
			sum += r.Share
		}
	}
	return sum
}

// Clone returns a deep copy. Search candidates mutate their own copy only.
func (a *Allocation) Clone() Allocation {
	out := Allocation{Records: make([]AllocationRecord, len(a.Records))}
	copy(out.Records, a.Records)
	return out
}

// TotalCost prices the allocation against the roster's hourly costs.
func (a *Allocation) TotalCost(agents []Agent, intervalLength time.Duration) float64 {
	costs := make(map[AgentID]float64, len(agents))
	for _, ag := range agents {
		costs[ag.ID] = ag.HourlyCost
	}
	hours := intervalLength.Hours()
	var total float64
	for _, r := range a.Records {
		total += costs[r.AgentID] * r.Share * hours
	}
	return total
}

// -- Compliance --

// RuleSeverity distinguishes disqualifying violations from penalized ones.
type RuleSeverity string

const (
	// SeverityHard marks a violation that makes a candidate infeasible.
	SeverityHard RuleSeverity = "hard"
	// SeveritySoft marks a violation that only penalizes the score.
	SeveritySoft RuleSeverity = "soft"
)

// Violation is one labor-rule breach found in a candidate schedule.
type Violation struct {
	Code     string       `json:"code"`
	Severity RuleSeverity `json:"severity"`
	AgentID  AgentID      `json:"agent_id"`
	Detail   string       `json:"detail"`
}

// HasHard reports whether any violation in the list is disqualifying.
func HasHard(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// -- Schedule search --

// ShiftAssignment places one agent on one contiguous shift serving a queue.
type ShiftAssignment struct {
	AgentID AgentID   `json:"agent_id"`
	QueueID QueueID   `json:"queue_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// ScoreResult is the multi-objective score of a candidate. Components are
// retained for explainability; Composite alone is used for ranking.
type ScoreResult struct {
	Coverage          float64 `json:"coverage_score"`
	Cost              float64 `json:"cost_score"`
	Fairness          float64 `json:"fairness_score"`
	CompliancePenalty float64 `json:"compliance_penalty"`
	Composite         float64 `json:"composite"`
	// Disqualified is set when a hard violation survives repair. A
	// disqualified candidate never ranks above any qualified one.
	Disqualified bool `json:"disqualified"`
}

// Better reports whether s should rank above other.
func (s ScoreResult) Better(other ScoreResult) bool {
	if s.Disqualified != other.Disqualified {
		return !s.Disqualified
	}
	return s.Composite > other.Composite
}

// ScheduleCandidate is a full-horizon schedule under evaluation. Candidates
// are created and discarded freely during search; only the best survivor is
// retained.
type ScheduleCandidate struct {
	ID         uuid.UUID         `json:"id"`
	Generation int               `json:"generation"`
	Shifts     []ShiftAssignment `json:"shifts"`
	Allocation Allocation        `json:"allocation"`
	Score      ScoreResult       `json:"score"`
	Baseline   bool              `json:"baseline"`
}

// Clone deep-copies the candidate so variation operators never alias parents.
func (c *ScheduleCandidate) Clone() *ScheduleCandidate {
	out := &ScheduleCandidate{
		ID:         uuid.New(),
		Generation: c.Generation,
		Shifts:     make([]ShiftAssignment, len(c.Shifts)),
		Allocation: c.Allocation.Clone(),
		Score:      c.Score,
		Baseline:   false,
	}
	copy(out.Shifts, c.Shifts)
	return out
}

// -- Run status --

// RunStatus labels how a result was produced so degraded results are never
// presented as fully optimal.
type RunStatus string

const (
	StatusOptimal            RunStatus = "optimal"
	StatusFallbackAllocation RunStatus = "fallback_allocation"
	StatusBudgetExceeded     RunStatus = "budget_exceeded"
	StatusConverged          RunStatus = "converged"
	StatusDegradedSearch     RunStatus = "degraded_search"
	StatusInfeasible         RunStatus = "infeasible_staffing"
	StatusBaselineRetained   RunStatus = "baseline_retained"
)

// StaffingResult is the artifact of one ComputeStaffing invocation.
type StaffingResult struct {
	RunID        uuid.UUID             `json:"run_id"`
	Requirements []StaffingRequirement `json:"requirements"`
	Statuses     []RunStatus           `json:"statuses"`
}

// AllocationResult is the artifact of one Allocate invocation.
type AllocationResult struct {
	RunID        uuid.UUID             `json:"run_id"`
	Requirements []StaffingRequirement `json:"requirements"`
	Allocation   Allocation            `json:"allocation"`
	Report       GapReport             `json:"gap_report"`
	Statuses     []RunStatus           `json:"statuses"`
}

// OptimizationResult is the artifact of one OptimizeSchedule invocation. Best
// is only non-nil when the search produced a strict improvement on baseline.
type OptimizationResult struct {
	RunID      uuid.UUID          `json:"run_id"`
	Baseline   ScoreResult        `json:"baseline_score"`
	Best       *ScheduleCandidate `json:"best,omitempty"`
	Report     GapReport          `json:"gap_report"`
	Statuses   []RunStatus        `json:"statuses"`
	Accepted   bool               `json:"accepted"`
	Generation int                `json:"generations_run"`
}
