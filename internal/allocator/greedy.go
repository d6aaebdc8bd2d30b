package allocator

import (
	"sort"

	"github.com/shiftarc/shiftarc/api/schemas"
)

// qualification is one admissible (agent, queue) pairing within an interval.
type qualification struct {
	agent       schemas.Agent
	proficiency float64
}

// unitCost is the objective coefficient for assigning one agent-share to a
// queue: hourly cost inflated by inverse proficiency, so higher-skilled
// agents are preferred for queues requiring that skill.
func (q qualification) unitCost() float64 {
	p := q.proficiency
	if p <= 0 {
		p = 1e-3
	}
	return q.agent.HourlyCost / p
}

// intervalDemand is the residual requirement of one queue in one interval.
type intervalDemand struct {
	queue     schemas.Queue
	interval  schemas.Interval
	remaining float64
	// stuck marks a demand with no qualified capacity left so the fill loop
	// can drain the remaining queues.
	stuck bool
}

// greedyFill assigns highest-proficiency available agents first within each
// queue, breaking ties by lowest cost, queues ordered by deficit weighted
// with priority and starvation pressure. It always terminates with a valid
// (possibly partial) allocation.
//
// capacity maps agent id to the unassigned share left in this interval and is
// mutated in place. starved carries the per-queue starvation counts
// accumulated over earlier intervals.
func (o *Optimizer) greedyFill(
	alloc *schemas.Allocation,
	demands []*intervalDemand,
	quals map[schemas.QueueID][]qualification,
	capacity map[schemas.AgentID]float64,
	starved map[schemas.QueueID]int,
) {
	for {
		d := o.nextDemand(demands, starved)
		if d == nil {
			return
		}

		assigned := false
		for _, q := range quals[d.queue.ID] {
			free := capacity[q.agent.ID]
			if free <= schemas.ShareEpsilon {
				continue
			}
			share := free
			if share > d.remaining {
				share = d.remaining
			}
			alloc.Add(schemas.AllocationRecord{
				AgentID:       q.agent.ID,
				IntervalIndex: d.interval.Index,
				QueueID:       d.queue.ID,
				Share:         share,
			})
			capacity[q.agent.ID] = free - share
			d.remaining -= share
			assigned = true
			break
		}

		if !assigned {
			d.stuck = true
		}
	}
}

// nextDemand picks the open demand with the highest pressure: deficit scaled
// by queue priority plus the anti-starvation term. Ties break on queue id so
// the result is deterministic.
func (o *Optimizer) nextDemand(demands []*intervalDemand, starved map[schemas.QueueID]int) *intervalDemand {
	var best *intervalDemand
	var bestPressure float64
	for _, d := range demands {
		if d.stuck || d.remaining <= schemas.ShareEpsilon {
			continue
		}
		priority := d.queue.Priority
		if priority <= 0 {
			priority = 1
		}
		pressure := d.remaining * (priority + o.cfg.StarvationWeight*float64(starved[d.queue.ID]))
		if best == nil || pressure > bestPressure ||
			(pressure == bestPressure && d.queue.ID < best.queue.ID) {
			best = d
			bestPressure = pressure
		}
	}
	return best
}

// qualifications returns, per queue, the agents holding the queue's required
// skill ordered by proficiency descending, ties by lower cost then id.
func (o *Optimizer) qualifications(snap *schemas.Snapshot, iv schemas.Interval) map[schemas.QueueID][]qualification {
	out := make(map[schemas.QueueID][]qualification, len(snap.Queues))
	for _, queue := range snap.Queues {
		var qs []qualification
		for _, agent := range snap.Agents {
			rating, ok := agent.SkillFor(queue.RequiredSkill)
			if !ok || rating.Proficiency <= 0 {
				continue
			}
			if o.cfg.CertifiedOnly && !rating.Certified {
				continue
			}
			if !agent.Available(iv) {
				continue
			}
			qs = append(qs, qualification{agent: agent, proficiency: rating.Proficiency})
		}
		sort.Slice(qs, func(i, j int) bool {
			if qs[i].proficiency != qs[j].proficiency {
				return qs[i].proficiency > qs[j].proficiency
			}
			if qs[i].agent.HourlyCost != qs[j].agent.HourlyCost {
				return qs[i].agent.HourlyCost < qs[j].agent.HourlyCost
			}
			return qs[i].agent.ID < qs[j].agent.ID
		})
		out[queue.ID] = qs
	}
	return out
}
