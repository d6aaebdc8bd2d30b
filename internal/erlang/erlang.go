// Package erlang implements the staffing calculator: a numerically stable
// Erlang C computation converting forecasted demand into the minimum agent
// count meeting a service-level target, fronted by a TTL result cache.
package erlang

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/metrics"
)

// Calculator computes minimum staffing via Erlang C. Pure apart from the
// injected cache; safe for concurrent use from multiple workers.
type Calculator struct {
	cfg    config.StaffingConfig
	cache  *Cache
	logger *zap.Logger
}

// NewCalculator builds a calculator with its own result cache.
func NewCalculator(cfg config.StaffingConfig, logger *zap.Logger) *Calculator {
	return &Calculator{
		cfg:    cfg,
		cache:  NewCache(cfg.CacheTTL),
		logger: logger.Named("staffing"),
	}
}

// Required computes the minimal integer N such that the achieved service
// level at N meets or exceeds the target, given utilization < 1.
//
// Edge cases: zero volume yields a zero requirement; offered load meeting or
// exceeding the theoretical minimum agent count flags the queue unstable; a
// target not reached within the configured agent bound is reported as
// unreachable rather than looping indefinitely. Infeasibility is a typed
// result, not an error.
func (c *Calculator) Required(demand schemas.DemandPoint, target schemas.ServiceLevelTarget) (schemas.StaffingRequirement, error) {
	if target.Fraction <= 0 || target.Threshold < 0 {
		return schemas.StaffingRequirement{}, fmt.Errorf("invalid service level target %+v", target)
	}

	start := time.Now()
	defer func() {
		metrics.ErlangDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	key := c.cacheKey(demand, target)
	if req, ok := c.cache.Get(key); ok {
		req.Interval = demand.Interval
		req.QueueID = demand.QueueID
		return req, nil
	}

	req := c.compute(demand, target)
	c.cache.Put(key, req)
	if !req.Feasible {
		metrics.InfeasibleRequirementsTotal.WithLabelValues(req.Reason).Inc()
	}
	return req, nil
}

// InvalidateAll drops every cached result. Called whenever the target
// service-level configuration changes.
func (c *Calculator) InvalidateAll() {
	c.cache.InvalidateAll()
	c.logger.Info("staffing cache invalidated")
}

func (c *Calculator) compute(demand schemas.DemandPoint, target schemas.ServiceLevelTarget) schemas.StaffingRequirement {
	req := schemas.StaffingRequirement{
		Interval: demand.Interval,
		QueueID:  demand.QueueID,
	}

	if demand.Volume <= 0 {
		req.Required = 0
		req.Feasible = true
		req.AchievedServiceLevel = 1
		return req
	}

	offered := demand.OfferedLoad()
	req.OfferedLoad = offered

	// Theoretical minimum: the smallest integer N with utilization < 1.
	// When the offered load is itself an integer the minimum is load+1.
	n := int(math.Ceil(offered))
	if offered >= float64(n) {
		n++
	}
	// No admissible agent count under the bound can serve this load: the
	// queue is unstable and the result is typed infeasible instead of an
	// arbitrarily large N.
	if n > c.cfg.MaxAgents {
		req.Feasible = false
		req.Utilization = 1
		req.Reason = schemas.ReasonUnstableQueue
		return req
	}

	ahtSeconds := demand.AHT.Seconds()
	thresholdSeconds := target.Threshold.Seconds()

	// Erlang B computed iteratively up to the starting N once, then extended
	// per increment. The recurrence avoids factorials entirely, so large
	// loads stay stable.
	startN := n
	b := 1.0
	for k := 1; k <= startN; k++ {
		b = offered * b / (float64(k) + offered*b)
	}

	for ; n <= c.cfg.MaxAgents; n++ {
		if n > startN {
			b = offered * b / (float64(n) + offered*b)
		}
		achieved := serviceLevel(offered, float64(n), b, ahtSeconds, thresholdSeconds)
		if achieved >= target.Fraction {
			req.Required = n
			req.Utilization = offered / float64(n)
			req.AchievedServiceLevel = achieved
			req.Feasible = true
			return req
		}
	}

	req.Feasible = false
	req.Reason = schemas.ReasonTargetUnreachable
	req.Required = c.cfg.MaxAgents
	req.Utilization = offered / float64(c.cfg.MaxAgents)
	return req
}

// serviceLevel is the Erlang C service level: the probability a contact is
// answered within the threshold given n agents, offered load a and the
// Erlang B blocking probability b at n.
func serviceLevel(a, n, b, ahtSeconds, thresholdSeconds float64) float64 {
	// Erlang C waiting probability from Erlang B.
	pw := n * b / (n - a*(1-b))
	if ahtSeconds <= 0 {
		return 1 - pw
	}
	return 1 - pw*math.Exp(-(n-a)*thresholdSeconds/ahtSeconds)
}

func (c *Calculator) cacheKey(demand schemas.DemandPoint, target schemas.ServiceLevelTarget) cacheKey {
	rounding := c.cfg.VolumeRounding
	if rounding <= 0 {
		rounding = 1
	}
	return cacheKey{
		Volume:    int64(math.Round(demand.Volume / rounding)),
		AHT:       demand.AHT,
		Length:    demand.Interval.Length,
		Fraction:  target.Fraction,
		Threshold: target.Threshold,
	}
}
