package compliance

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
)

// Repair attempts bounded local fixes for soft violations only: a shift whose
// turnaround is merely uncomfortable is delayed in RepairShiftStep increments
// until the comfort buffer is met. Hard violations are never auto-repaired;
// callers reject candidates that still carry one after repair.
//
// Repair returns a new candidate; the input is never mutated.
func (e *Engine) Repair(candidate *schemas.ScheduleCandidate, snap *schemas.Snapshot) *schemas.ScheduleCandidate {
	repaired := candidate.Clone()

	step := e.cfg.RepairShiftStep
	if step <= 0 || e.cfg.RepairMaxMoves <= 0 {
		return repaired
	}

	moves := 0
	for _, agentID := range agentOrder(repaired.Shifts) {
		if moves >= e.cfg.RepairMaxMoves {
			break
		}
		agent, ok := agentByID(snap, agentID)
		if !ok {
			continue
		}
		moves += e.repairTurnarounds(repaired, agent, e.cfg.RepairMaxMoves-moves, step, snap.Horizon.End())
	}

	if moves > 0 {
		e.logger.Debug("repaired candidate",
			zap.String("candidate_id", repaired.ID.String()),
			zap.Int("moves", moves))
	}
	return repaired
}

// repairTurnarounds delays shifts that follow a short turnaround. The shift
// keeps its length; only its start moves, and only while it stays inside the
// snapshot horizon.
func (e *Engine) repairTurnarounds(candidate *schemas.ScheduleCandidate, agent schemas.Agent, budget int, step time.Duration, horizonEnd time.Time) int {
	minRest := e.minRest(agent)
	comfortable := minRest + turnaroundBuffer

	// Indexes of this agent's shifts in chronological order.
	var idx []int
	for i, s := range candidate.Shifts {
		if s.AgentID == agent.ID {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		return candidate.Shifts[idx[a]].Start.Before(candidate.Shifts[idx[b]].Start)
	})

	moves := 0
	for k := 1; k < len(idx) && moves < budget; k++ {
		prev := candidate.Shifts[idx[k-1]]
		cur := &candidate.Shifts[idx[k]]
		rest := cur.Start.Sub(prev.End)
		if rest >= comfortable || rest < minRest {
			// Comfortable already, or a hard violation Repair must not touch.
			continue
		}
		for rest < comfortable && moves < budget {
			length := cur.End.Sub(cur.Start)
			newStart := cur.Start.Add(step)
			if !horizonEnd.IsZero() && newStart.Add(length).After(horizonEnd) {
				break
			}
			cur.Start = newStart
			cur.End = newStart.Add(length)
			rest = cur.Start.Sub(prev.End)
			moves++
		}
	}
	return moves
}
