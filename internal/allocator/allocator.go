// Package allocator solves the multi-skill assignment problem: distributing
// agents with heterogeneous skills, proficiencies and costs across queues so
// that each queue's staffing requirement is approached at minimum cost.
//
// The primary solve seeds a greedy allocation and then runs bounded
// cost-improvement passes over it, the relaxation of the underlying
// transportation problem. Unmet requirement is a soft constraint penalized in
// the objective, so the optimizer always returns a usable allocation even
// when agents are insufficient. When the solve budget or the caller's context
// expires, the best-known allocation so far is returned and flagged, never an
// empty result.
package allocator

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/metrics"
)

// Optimizer allocates agents to queues against staffing requirements. It
// never mutates Agent or Queue reference data.
type Optimizer struct {
	cfg    config.AllocatorConfig
	logger *zap.Logger
}

// NewOptimizer builds an optimizer from configuration.
func NewOptimizer(cfg config.AllocatorConfig, logger *zap.Logger) *Optimizer {
	return &Optimizer{cfg: cfg, logger: logger.Named("allocator")}
}

// Allocate produces a per-interval, per-queue allocation for the given
// requirements. The returned statuses flag degraded paths; the error is
// reserved for contract violations (nil snapshot), not solver outcomes.
func (o *Optimizer) Allocate(ctx context.Context, reqs []schemas.StaffingRequirement, snap *schemas.Snapshot) (schemas.Allocation, []schemas.RunStatus, error) {
	start := time.Now()
	defer func() {
		metrics.AllocationDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	deadline := start.Add(o.cfg.SolveBudget)
	if o.cfg.SolveBudget <= 0 {
		deadline = time.Time{}
	}

	alloc := schemas.Allocation{}
	statuses := []schemas.RunStatus{schemas.StatusOptimal}
	degraded := false

	// Group requirements by interval, processed in horizon order so the
	// anti-starvation pressure accumulates chronologically.
	byInterval := groupByInterval(reqs)
	starved := make(map[schemas.QueueID]int)

	for _, group := range byInterval {
		iv := group[0].Interval
		quals := o.qualifications(snap, iv)

		capacity := make(map[schemas.AgentID]float64, len(snap.Agents))
		for _, agent := range snap.Agents {
			if agent.Available(iv) {
				capacity[agent.ID] = 1.0
			}
		}

		demands := make([]*intervalDemand, 0, len(group))
		for _, req := range group {
			queue, ok := snap.QueueByID(req.QueueID)
			if !ok {
				continue
			}
			demands = append(demands, &intervalDemand{
				queue:     queue,
				interval:  req.Interval,
				remaining: requiredValue(req),
			})
		}

		o.greedyFill(&alloc, demands, quals, capacity, starved)

		// Once the budget or context is gone the remaining intervals keep the
		// plain greedy fill, which is always valid, and the run is flagged.
		if !degraded {
			if o.improve(ctx, deadline, &alloc, iv.Index, quals, capacity) {
				o.shed(&alloc, iv.Index, quals, capacity)
			} else {
				degraded = true
			}
		}

		// Update starvation pressure from this interval's outcome.
		for _, d := range demands {
			target := requiredFloor(d.queue) * originalRequirement(group, d.queue.ID)
			if target > 0 && alloc.QueueTotal(d.queue.ID, iv.Index) < target-schemas.ShareEpsilon {
				starved[d.queue.ID]++
			}
		}
	}

	if degraded {
		statuses = []schemas.RunStatus{schemas.StatusFallbackAllocation}
		metrics.AllocationFallbacksTotal.Inc()
		o.logger.Warn("allocation degraded to greedy result",
			zap.Error(schemas.ErrSolverTimeout),
			zap.Duration("budget", o.cfg.SolveBudget),
			zap.Int("requirements", len(reqs)))
	}

	metrics.AllocationShortageTotal.Set(totalShortage(reqs, &alloc))
	return alloc, statuses, nil
}

// improve runs bounded cost-improvement passes over one interval's
// allocation: each pass tries to hand a record's share to an idle qualified
// agent with a lower unit cost. Coverage never decreases. Returns false when
// the budget or context expired before the passes settled.
func (o *Optimizer) improve(
	ctx context.Context,
	deadline time.Time,
	alloc *schemas.Allocation,
	intervalIndex int,
	quals map[schemas.QueueID][]qualification,
	capacity map[schemas.AgentID]float64,
) bool {
	unitCosts := unitCostIndex(quals)
	defer compactZeroShares(alloc)

	for pass := 0; pass < o.cfg.MaxPasses; pass++ {
		if ctx.Err() != nil {
			return false
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}

		changed := false
		for i := range alloc.Records {
			rec := &alloc.Records[i]
			if rec.IntervalIndex != intervalIndex || rec.Share <= schemas.ShareEpsilon {
				continue
			}
			costs := unitCosts[rec.QueueID]
			current, ok := costs[rec.AgentID]
			if !ok {
				continue
			}
			// Cheapest idle qualified agent with enough free share.
			for _, q := range cheapestFirst(quals[rec.QueueID]) {
				if q.agent.ID == rec.AgentID {
					continue
				}
				if costs[q.agent.ID] >= current-1e-12 {
					break
				}
				if capacity[q.agent.ID] < rec.Share-schemas.ShareEpsilon {
					continue
				}
				capacity[q.agent.ID] -= rec.Share
				capacity[rec.AgentID] += rec.Share
				// Fold the share into the receiving agent's existing record
				// for this (interval, queue) key rather than splitting it.
				if j := findRecord(alloc, q.agent.ID, rec.IntervalIndex, rec.QueueID); j >= 0 {
					alloc.Records[j].Share += rec.Share
					rec.Share = 0
				} else {
					rec.AgentID = q.agent.ID
				}
				changed = true
				break
			}
		}
		if !changed {
			return true
		}
	}
	return true
}

// shed drops coverage that costs more than it saves: a record whose unit cost
// exceeds the shortage penalty is cheaper left unmet. The default penalty
// dominates any realistic per-share cost, so shedding only fires when the
// penalty is deliberately tuned down.
func (o *Optimizer) shed(
	alloc *schemas.Allocation,
	intervalIndex int,
	quals map[schemas.QueueID][]qualification,
	capacity map[schemas.AgentID]float64,
) {
	unitCosts := unitCostIndex(quals)
	changed := false
	for i := range alloc.Records {
		rec := &alloc.Records[i]
		if rec.IntervalIndex != intervalIndex || rec.Share <= schemas.ShareEpsilon {
			continue
		}
		cost, ok := unitCosts[rec.QueueID][rec.AgentID]
		if !ok || cost <= o.cfg.ShortagePenalty {
			continue
		}
		capacity[rec.AgentID] += rec.Share
		rec.Share = 0
		changed = true
	}
	if changed {
		compactZeroShares(alloc)
	}
}

// unitCostIndex precomputes the per-queue, per-agent objective coefficients.
func unitCostIndex(quals map[schemas.QueueID][]qualification) map[schemas.QueueID]map[schemas.AgentID]float64 {
	out := make(map[schemas.QueueID]map[schemas.AgentID]float64, len(quals))
	for queueID, qs := range quals {
		m := make(map[schemas.AgentID]float64, len(qs))
		for _, q := range qs {
			m[q.agent.ID] = q.unitCost()
		}
		out[queueID] = m
	}
	return out
}

// findRecord locates the record for an (agent, interval, queue) key, or -1.
func findRecord(alloc *schemas.Allocation, agent schemas.AgentID, intervalIndex int, queue schemas.QueueID) int {
	for i, r := range alloc.Records {
		if r.AgentID == agent && r.IntervalIndex == intervalIndex && r.QueueID == queue {
			return i
		}
	}
	return -1
}

// compactZeroShares removes records whose share was merged or shed away.
func compactZeroShares(alloc *schemas.Allocation) {
	out := alloc.Records[:0]
	for _, r := range alloc.Records {
		if r.Share > schemas.ShareEpsilon {
			out = append(out, r)
		}
	}
	alloc.Records = out
}

// cheapestFirst reorders qualifications by ascending unit cost.
func cheapestFirst(qs []qualification) []qualification {
	out := make([]qualification, len(qs))
	copy(out, qs)
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].unitCost(), out[j].unitCost()
		if ci != cj {
			return ci < cj
		}
		return out[i].agent.ID < out[j].agent.ID
	})
	return out
}

// groupByInterval buckets requirements by interval index, ordered by index,
// with a deterministic queue order inside each bucket.
func groupByInterval(reqs []schemas.StaffingRequirement) [][]schemas.StaffingRequirement {
	buckets := make(map[int][]schemas.StaffingRequirement)
	var order []int
	for _, req := range reqs {
		if _, ok := buckets[req.Interval.Index]; !ok {
			order = append(order, req.Interval.Index)
		}
		buckets[req.Interval.Index] = append(buckets[req.Interval.Index], req)
	}
	sort.Ints(order)

	out := make([][]schemas.StaffingRequirement, 0, len(order))
	for _, idx := range order {
		group := buckets[idx]
		sort.Slice(group, func(i, j int) bool { return group[i].QueueID < group[j].QueueID })
		out = append(out, group)
	}
	return out
}

// requiredValue resolves the numeric requirement; infeasible requirements
// fall back to the ceiling of their offered load.
func requiredValue(req schemas.StaffingRequirement) float64 {
	required := float64(req.Required)
	if !req.Feasible && req.OfferedLoad > required {
		required = math.Ceil(req.OfferedLoad)
	}
	return required
}

// requiredFloor is the coverage ratio below which the queue counts as
// starved. An unset ratio means any shortage counts.
func requiredFloor(queue schemas.Queue) float64 {
	if queue.MinCoverageRatio > 0 {
		return queue.MinCoverageRatio
	}
	return 1.0
}

func originalRequirement(group []schemas.StaffingRequirement, id schemas.QueueID) float64 {
	for _, req := range group {
		if req.QueueID == id {
			return requiredValue(req)
		}
	}
	return 0
}

func totalShortage(reqs []schemas.StaffingRequirement, alloc *schemas.Allocation) float64 {
	var total float64
	for _, req := range reqs {
		gap := requiredValue(req) - alloc.QueueTotal(req.QueueID, req.Interval.Index)
		if gap > 0 {
			total += gap
		}
	}
	return total
}
