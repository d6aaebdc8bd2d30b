// Package gap derives coverage gap reports from staffing requirements and
// allocations. The analyzer is a pure function: no randomness, no side
// effects, identical inputs always produce an identical report.
package gap

import (
	"math"
	"sort"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

// Analyzer computes Gap = required - allocated for every (interval, queue)
// pair present in the requirements.
type Analyzer struct {
	cfg config.ScoringConfig
}

// NewAnalyzer builds an analyzer with the configured severity bands.
func NewAnalyzer(cfg config.ScoringConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze produces the gap report. Entries follow the order of the input
// requirements; Worst and ImpactedQueues use deterministic tie-breaks so the
// report is byte-stable for identical inputs.
func (a *Analyzer) Analyze(reqs []schemas.StaffingRequirement, alloc *schemas.Allocation) schemas.GapReport {
	report := schemas.GapReport{
		Entries: make([]schemas.Gap, 0, len(reqs)),
	}

	type queueAgg struct {
		requested float64
		allocated float64
	}
	byQueue := make(map[schemas.QueueID]*queueAgg)

	for _, req := range reqs {
		required := requiredValue(req)
		allocated := alloc.QueueTotal(req.QueueID, req.Interval.Index)
		g := required - allocated

		entry := schemas.Gap{
			Interval: req.Interval,
			QueueID:  req.QueueID,
			Gap:      g,
			Severity: a.severity(req, required, g),
		}
		report.Entries = append(report.Entries, entry)

		if g > 0 {
			report.TotalShortage += g
		} else {
			report.TotalSurplus += -g
		}

		agg, ok := byQueue[req.QueueID]
		if !ok {
			agg = &queueAgg{}
			byQueue[req.QueueID] = agg
		}
		agg.requested += required
		agg.allocated += allocated
	}

	report.Worst = a.worst(report.Entries)

	for id, agg := range byQueue {
		unmet := agg.requested - agg.allocated
		if unmet <= 0 {
			continue
		}
		report.ImpactedQueues = append(report.ImpactedQueues, schemas.ImpactedQueue{
			QueueID:   id,
			Requested: agg.requested,
			Allocated: agg.allocated,
			Unmet:     unmet,
		})
	}
	sort.Slice(report.ImpactedQueues, func(i, j int) bool {
		return report.ImpactedQueues[i].QueueID < report.ImpactedQueues[j].QueueID
	})

	return report
}

// requiredValue resolves the numeric requirement for gap purposes. An
// infeasible requirement has no meaningful Required count, so the offered
// load stands in as the floor of what would be needed.
func requiredValue(req schemas.StaffingRequirement) float64 {
	required := float64(req.Required)
	if !req.Feasible && req.OfferedLoad > required {
		required = math.Ceil(req.OfferedLoad)
	}
	return required
}

func (a *Analyzer) severity(req schemas.StaffingRequirement, required, g float64) schemas.GapSeverity {
	if g <= 0 {
		// Surplus is reported but never escalated.
		return schemas.SeverityInfo
	}
	if !req.Feasible {
		return schemas.SeverityCritical
	}
	ratio := 1.0
	if required > 0 {
		ratio = g / required
	}
	switch {
	case ratio >= a.cfg.CriticalShortageRatio:
		return schemas.SeverityCritical
	case ratio >= a.cfg.MajorShortageRatio:
		return schemas.SeverityMajor
	default:
		return schemas.SeverityMinor
	}
}

// worst returns the N worst-covered pairs, shortages first, ties broken by
// interval index then queue id.
func (a *Analyzer) worst(entries []schemas.Gap) []schemas.Gap {
	worst := make([]schemas.Gap, len(entries))
	copy(worst, entries)
	sort.Slice(worst, func(i, j int) bool {
		if worst[i].Gap != worst[j].Gap {
			return worst[i].Gap > worst[j].Gap
		}
		if worst[i].Interval.Index != worst[j].Interval.Index {
			return worst[i].Interval.Index < worst[j].Interval.Index
		}
		return worst[i].QueueID < worst[j].QueueID
	})

	n := a.cfg.WorstN
	if n <= 0 || n > len(worst) {
		n = len(worst)
	}
	return worst[:n]
}
