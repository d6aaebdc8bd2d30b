package schemas

import (
	"time"
)

// -- Identifiers --

// SkillID identifies a skill required by a queue or held by an agent.
type SkillID string

// QueueID identifies a service queue.
type QueueID string

// AgentID identifies an agent in the roster.
type AgentID string

// -- Time model --

// Interval is a fixed-length time bucket. It is the unit of granularity for
// all demand and coverage calculations and is immutable once created.
type Interval struct {
	Start  time.Time     `json:"start"`
	Index  int           `json:"index"`
	Length time.Duration `json:"length"`
}

// End returns the exclusive end of the interval.
func (iv Interval) End() time.Time {
	return iv.Start.Add(iv.Length)
}

// Horizon describes a planning window as a contiguous run of intervals.
type Horizon struct {
	Start          time.Time     `json:"start"`
	IntervalLength time.Duration `json:"interval_length"`
	Intervals      int           `json:"intervals"`
}

// Interval materializes the i-th interval of the horizon.
func (h Horizon) Interval(i int) Interval {
	return Interval{
		Start:  h.Start.Add(time.Duration(i) * h.IntervalLength),
		Index:  i,
		Length: h.IntervalLength,
	}
}

// End returns the exclusive end of the horizon.
func (h Horizon) End() time.Time {
	return h.Start.Add(time.Duration(h.Intervals) * h.IntervalLength)
}

// Window is a half-open availability window [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Covers reports whether the window fully contains the interval.
func (w Window) Covers(iv Interval) bool {
	return !iv.Start.Before(w.Start) && !iv.End().After(w.End)
}

// -- Reference data --

// ServiceLevelTarget expresses an "X% within Y seconds" answering target.
type ServiceLevelTarget struct {
	// Fraction is the target fraction of contacts answered within Threshold,
	// in (0, 1].
	Fraction  float64       `json:"fraction"`
	Threshold time.Duration `json:"threshold"`
}

// Queue is a named service with a required skill and a service-level target.
// Queues are static reference data within an optimization run.
type Queue struct {
	ID            QueueID            `json:"id"`
	Name          string             `json:"name"`
	RequiredSkill SkillID            `json:"required_skill"`
	Priority      float64            `json:"priority"`
	Target        ServiceLevelTarget `json:"target"`

	// MinCoverageRatio is the anti-starvation floor: the fraction of the
	// requirement below which the queue counts as starved for fairness
	// purposes.
	MinCoverageRatio float64 `json:"min_coverage_ratio"`
}

// SkillRating is one (skill, proficiency, certified) tuple held by an agent.
type SkillRating struct {
	Skill       SkillID `json:"skill_id"`
	Proficiency float64 `json:"proficiency"`
	Certified   bool    `json:"certified"`
}

// WorkRuleProfile carries the labor-rule attributes of a single agent.
// Thresholds are supplied by the compliance configuration collaborator.
type WorkRuleProfile struct {
	MaxWeeklyHours      float64 `json:"max_weekly_hours"`
	MaxConsecutiveHours float64 `json:"max_consecutive_hours"`
	MaxConsecutiveDays  int     `json:"max_consecutive_days"`
	MinRestHours        float64 `json:"min_rest_hours"`
	OvertimeEligible    bool    `json:"overtime_eligible"`
}

// Agent is a read-only roster snapshot entry for one optimization run.
// Roster mutations are only picked up between runs, never mid-run.
type Agent struct {
	ID           AgentID         `json:"id"`
	Name         string          `json:"name"`
	Skills       []SkillRating   `json:"skills"`
	HourlyCost   float64         `json:"hourly_cost"`
	Availability []Window        `json:"availability_windows"`
	WorkRules    WorkRuleProfile `json:"work_rule_profile"`
}

// SkillFor returns the agent's rating for the given skill, if any.
func (a Agent) SkillFor(skill SkillID) (SkillRating, bool) {
	for _, s := range a.Skills {
		if s.Skill == skill {
			return s, true
		}
	}
	return SkillRating{}, false
}

// Available reports whether any availability window fully covers the interval.
// An agent with no windows is treated as always available.
func (a Agent) Available(iv Interval) bool {
	if len(a.Availability) == 0 {
		return true
	}
	for _, w := range a.Availability {
		if w.Covers(iv) {
			return true
		}
	}
	return false
}

// -- Demand --

// DemandPoint is the externally forecasted demand for one (interval, queue)
// pair. Read-only to the engine.
type DemandPoint struct {
	Interval Interval      `json:"interval"`
	QueueID  QueueID       `json:"queue_id"`
	Volume   float64       `json:"predicted_volume"`
	AHT      time.Duration `json:"predicted_aht"`
}

// OfferedLoad returns the demand in Erlangs: volume x AHT expressed in
// agent-equivalent units over the interval.
func (d DemandPoint) OfferedLoad() float64 {
	if d.Interval.Length <= 0 {
		return 0
	}
	return d.Volume * d.AHT.Seconds() / d.Interval.Length.Seconds()
}

// Snapshot bundles the reference and demand data for one optimization run.
// It is immutable for the duration of the run.
type Snapshot struct {
	TakenAt time.Time     `json:"taken_at"`
	Horizon Horizon       `json:"horizon"`
	Queues  []Queue       `json:"queues"`
	Agents  []Agent       `json:"agents"`
	Demand  []DemandPoint `json:"demand"`
}

// QueueByID returns the queue with the given id, if present.
func (s *Snapshot) QueueByID(id QueueID) (Queue, bool) {
	for _, q := range s.Queues {
		if q.ID == id {
			return q, true
		}
	}
	return Queue{}, false
}
