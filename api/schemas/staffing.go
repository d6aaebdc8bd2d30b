package schemas

// -- Staffing results --

// Infeasibility reasons reported on StaffingRequirement.
const (
	ReasonUnstableQueue     = "offered load meets or exceeds every admissible agent count"
	ReasonTargetUnreachable = "target unreachable within agent-count bound"
)

// StaffingRequirement is the output of the staffing calculator for one
// (interval, queue) pair. When Feasible is false, Required is not meaningful
// and Reason explains why.
type StaffingRequirement struct {
	Interval             Interval `json:"interval"`
	QueueID              QueueID  `json:"queue_id"`
	Required             int      `json:"required_agents"`
	OfferedLoad          float64  `json:"offered_load"`
	Utilization          float64  `json:"utilization"`
	AchievedServiceLevel float64  `json:"achieved_service_level"`
	Feasible             bool     `json:"feasible"`
	Reason               string   `json:"reason,omitempty"`
}

// GapSeverity classifies how badly an (interval, queue) pair is covered.
type GapSeverity string

const (
	SeverityInfo     GapSeverity = "info"
	SeverityMinor    GapSeverity = "minor"
	SeverityMajor    GapSeverity = "major"
	SeverityCritical GapSeverity = "critical"
)

// Gap is the signed difference required - allocated for one (interval, queue)
// pair. Positive means shortage, negative means surplus. Gaps are a derived
// view over requirements and allocation, never independently mutated.
type Gap struct {
	Interval Interval    `json:"interval"`
	QueueID  QueueID     `json:"queue_id"`
	Gap      float64     `json:"gap"`
	Severity GapSeverity `json:"severity"`
}

// ImpactedQueue summarizes the shortfall seen by one queue across the horizon.
type ImpactedQueue struct {
	QueueID   QueueID `json:"queue_id"`
	Requested float64 `json:"requested"`
	Allocated float64 `json:"allocated"`
	Unmet     float64 `json:"unmet"`
}

// GapReport aggregates per-pair gaps plus summary figures. It is a pure
// function of (requirements, allocation): identical inputs always produce an
// identical report.
type GapReport struct {
	Entries        []Gap           `json:"entries"`
	TotalShortage  float64         `json:"total_shortage"`
	TotalSurplus   float64         `json:"total_surplus"`
	Worst          []Gap           `json:"worst"`
	ImpactedQueues []ImpactedQueue `json:"impacted_queues,omitempty"`
}

// AggregateGap is the net shortage used by the orchestrator to decide whether
// a schedule search is warranted.
func (r *GapReport) AggregateGap() float64 {
	return r.TotalShortage
}
