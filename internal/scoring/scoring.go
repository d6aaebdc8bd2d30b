// Package scoring ranks schedule candidates on a weighted multi-objective
// composite: coverage gap, labor cost, fairness of the workload spread, and
// compliance penalties. Components are retained on the result for
// explainability.
package scoring

import (
	"math"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

// Engine computes composite scores. Weights come from configuration.
type Engine struct {
	cfg config.ScoringConfig
}

// NewEngine builds a scorer with the configured weights.
func NewEngine(cfg config.ScoringConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Score computes the candidate's ScoreResult.
//
// Coverage and cost are expressed as negated totals so that "higher is
// better" holds for every component; the weights then blend them into
// composite = w1*coverage + w2*cost + w3*fairness - w4*penalty. Any hard
// violation still present disqualifies the candidate outright: its composite
// is negative infinity so it can never outrank a qualified candidate.
func (e *Engine) Score(candidate *schemas.ScheduleCandidate, report *schemas.GapReport, violations []schemas.Violation, snap *schemas.Snapshot) schemas.ScoreResult {
	result := schemas.ScoreResult{
		Coverage: -report.TotalShortage,
		Cost:     -candidate.Allocation.TotalCost(snap.Agents, snap.Horizon.IntervalLength),
		Fairness: e.fairness(candidate),
	}

	soft := 0
	for _, v := range violations {
		switch v.Severity {
		case schemas.SeverityHard:
			result.Disqualified = true
		case schemas.SeveritySoft:
			soft++
		}
	}
	result.CompliancePenalty = float64(soft) * e.cfg.SoftViolationPenalty

	if result.Disqualified {
		result.Composite = math.Inf(-1)
		return result
	}

	result.Composite = e.cfg.CoverageWeight*result.Coverage +
		e.cfg.CostWeight*result.Cost +
		e.cfg.FairnessWeight*result.Fairness -
		e.cfg.ComplianceWeight*result.CompliancePenalty
	return result
}

// fairness rewards an even spread of scheduled hours across the agents that
// work at all: the negated population standard deviation of per-agent hours.
// A perfectly even spread scores zero; lopsided schedules go negative.
func (e *Engine) fairness(candidate *schemas.ScheduleCandidate) float64 {
	hours := make(map[schemas.AgentID]float64)
	for _, s := range candidate.Shifts {
		hours[s.AgentID] += s.End.Sub(s.Start).Hours()
	}
	if len(hours) == 0 {
		return 0
	}

	var sum float64
	for _, h := range hours {
		sum += h
	}
	mean := sum / float64(len(hours))

	var variance float64
	for _, h := range hours {
		d := h - mean
		variance += d * d
	}
	variance /= float64(len(hours))

	return -math.Sqrt(variance)
}
