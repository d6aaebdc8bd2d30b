package search

import (
	"math/rand"
	"time"

	"github.com/shiftarc/shiftarc/api/schemas"
)

// mutate perturbs the candidate in place. Each attempt, gated by
// MutationRate, applies one operator: nudge a shift start by one interval,
// hand a shift to another qualified agent, add a new shift, or drop one.
// Total perturbations are bounded by MaxMutations; the allocation is rebuilt
// from the mutated shifts.
func (e *Engine) mutate(cand *schemas.ScheduleCandidate, snap *schemas.Snapshot, rng *rand.Rand) {
	mutations := 0
	attempts := len(cand.Shifts) + 1
	for a := 0; a < attempts && mutations < e.cfg.MaxMutations; a++ {
		if rng.Float64() >= e.cfg.MutationRate {
			continue
		}
		switch rng.Intn(4) {
		case 0:
			if len(cand.Shifts) > 0 {
				nudgeShift(&cand.Shifts[rng.Intn(len(cand.Shifts))], snap.Horizon, rng)
			}
		case 1:
			if len(cand.Shifts) > 0 {
				reassignShift(&cand.Shifts[rng.Intn(len(cand.Shifts))], snap, rng)
			}
		case 2:
			addShift(cand, snap, rng)
		case 3:
			if len(cand.Shifts) > 0 {
				i := rng.Intn(len(cand.Shifts))
				cand.Shifts = append(cand.Shifts[:i], cand.Shifts[i+1:]...)
			}
		}
		mutations++
	}
	cand.Allocation = allocationFromShifts(cand.Shifts, snap.Horizon)
}

// addShift appends a new shift on a random queue for a random qualified
// agent, between two and sixteen intervals long, inside the horizon.
func addShift(cand *schemas.ScheduleCandidate, snap *schemas.Snapshot, rng *rand.Rand) {
	h := snap.Horizon
	if len(snap.Queues) == 0 || h.Intervals == 0 {
		return
	}
	queue := snap.Queues[rng.Intn(len(snap.Queues))]

	maxLen := 16
	if maxLen > h.Intervals {
		maxLen = h.Intervals
	}
	length := 2
	if maxLen > 2 {
		length += rng.Intn(maxLen - 1)
	}
	if length > h.Intervals {
		length = h.Intervals
	}
	startIdx := rng.Intn(h.Intervals - length + 1)
	start := h.Interval(startIdx).Start
	end := start.Add(time.Duration(length) * h.IntervalLength)
	span := schemas.Interval{Start: start, Length: end.Sub(start)}

	var candidates []schemas.AgentID
	for _, agent := range snap.Agents {
		if rating, held := agent.SkillFor(queue.RequiredSkill); !held || rating.Proficiency <= 0 {
			continue
		}
		if !agent.Available(span) {
			continue
		}
		candidates = append(candidates, agent.ID)
	}
	if len(candidates) == 0 {
		return
	}
	cand.Shifts = append(cand.Shifts, schemas.ShiftAssignment{
		AgentID: candidates[rng.Intn(len(candidates))],
		QueueID: queue.ID,
		Start:   start,
		End:     end,
	})
}

// crossover builds a child from a time-based cut: shifts starting before the
// cut come from a, the rest from b. Parents are never aliased.
func (e *Engine) crossover(a, b *schemas.ScheduleCandidate, snap *schemas.Snapshot, rng *rand.Rand) *schemas.ScheduleCandidate {
	h := snap.Horizon
	cut := h.Start
	if h.Intervals > 0 {
		cut = h.Interval(rng.Intn(h.Intervals)).Start
	}

	child := a.Clone()
	child.Shifts = child.Shifts[:0]
	for _, s := range a.Shifts {
		if s.Start.Before(cut) {
			child.Shifts = append(child.Shifts, s)
		}
	}
	for _, s := range b.Shifts {
		if !s.Start.Before(cut) {
			child.Shifts = append(child.Shifts, s)
		}
	}
	child.Allocation = allocationFromShifts(child.Shifts, h)
	return child
}

// nudgeShift moves the shift start by one interval in either direction,
// keeping its length and staying inside the horizon.
func nudgeShift(s *schemas.ShiftAssignment, h schemas.Horizon, rng *rand.Rand) {
	step := h.IntervalLength
	if rng.Intn(2) == 0 {
		step = -step
	}
	start := s.Start.Add(step)
	end := s.End.Add(step)
	if start.Before(h.Start) || end.After(h.End()) {
		return
	}
	s.Start = start
	s.End = end
}

// reassignShift hands the shift to a random other agent qualified for the
// queue's required skill and available for the whole shift span.
func reassignShift(s *schemas.ShiftAssignment, snap *schemas.Snapshot, rng *rand.Rand) {
	queue, ok := snap.QueueByID(s.QueueID)
	if !ok {
		return
	}
	span := schemas.Interval{Start: s.Start, Length: s.End.Sub(s.Start)}

	var candidates []schemas.AgentID
	for _, agent := range snap.Agents {
		if agent.ID == s.AgentID {
			continue
		}
		if rating, held := agent.SkillFor(queue.RequiredSkill); !held || rating.Proficiency <= 0 {
			continue
		}
		if !agent.Available(span) {
			continue
		}
		candidates = append(candidates, agent.ID)
	}
	if len(candidates) == 0 {
		return
	}
	s.AgentID = candidates[rng.Intn(len(candidates))]
}

// allocationFromShifts derives the interval-level allocation implied by the
// shifts: each shift contributes a full share to its queue for every horizon
// interval it covers. Overlapping shifts of one agent never push the agent's
// share in an interval above 1.
func allocationFromShifts(shifts []schemas.ShiftAssignment, h schemas.Horizon) schemas.Allocation {
	var alloc schemas.Allocation
	if h.IntervalLength <= 0 {
		return alloc
	}
	type slot struct {
		agent    schemas.AgentID
		interval int
	}
	used := make(map[slot]float64)
	for _, s := range shifts {
		first := int(s.Start.Sub(h.Start) / h.IntervalLength)
		last := int(s.End.Sub(h.Start) / h.IntervalLength)
		if first < 0 {
			first = 0
		}
		if last > h.Intervals {
			last = h.Intervals
		}
		for i := first; i < last; i++ {
			k := slot{agent: s.AgentID, interval: i}
			share := 1 - used[k]
			if share <= 0 {
				continue
			}
			used[k] += share
			alloc.Add(schemas.AllocationRecord{
				AgentID:       s.AgentID,
				IntervalIndex: i,
				QueueID:       s.QueueID,
				Share:         share,
			})
		}
	}
	return alloc
}
