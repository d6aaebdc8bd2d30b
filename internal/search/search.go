// Package search runs the heuristic schedule optimization: a genetic loop of
// population seeding, parallel evaluation, elite-plus-diversity selection and
// bounded variation, with every candidate passed through compliance repair
// and validation before it may rank.
//
// The search never returns "no result". On convergence, budget exhaustion or
// cancellation it returns the best candidate observed so far, which is never
// worse than the baseline it was seeded from.
package search

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/metrics"
)

// Engine is the genetic schedule search. Collaborators are injected so the
// search stays decoupled from their concrete implementations.
type Engine struct {
	cfg    config.SearchConfig
	rules  schemas.RuleEngine
	scorer schemas.Scorer
	gaps   schemas.GapAnalyzer
	logger *zap.Logger
}

// NewEngine builds a search engine from configuration and collaborators.
func NewEngine(cfg config.SearchConfig, rules schemas.RuleEngine, scorer schemas.Scorer, gaps schemas.GapAnalyzer, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		rules:  rules,
		scorer: scorer,
		gaps:   gaps,
		logger: logger.Named("search"),
	}
}

// Optimize searches for a schedule strictly better than baseline. The budget
// parameter overrides the configured budget when positive. The returned
// candidate is the best observed, baseline included; the status tells the
// caller how the loop terminated.
func (e *Engine) Optimize(ctx context.Context, baseline *schemas.ScheduleCandidate, reqs []schemas.StaffingRequirement, snap *schemas.Snapshot, budget time.Duration) (*schemas.ScheduleCandidate, schemas.RunStatus, error) {
	if budget <= 0 {
		budget = e.cfg.Budget
	}
	deadline := time.Now().Add(budget)

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	base := baseline.Clone()
	base.Baseline = true
	e.evaluate(ctx, []*schemas.ScheduleCandidate{base}, reqs, snap)
	best := base

	pop := e.seedPopulation(base, snap, rng)

	status := schemas.StatusBudgetExceeded
	stall := 0
	degraded := false
	improved := false

	for gen := 1; gen <= e.cfg.MaxGenerations; gen++ {
		if ctx.Err() != nil || time.Now().After(deadline) {
			status = schemas.StatusBudgetExceeded
			break
		}

		for _, cand := range pop {
			cand.Generation = gen
		}
		e.evaluate(ctx, pop, reqs, snap)
		metrics.SearchGenerationsTotal.Inc()

		feasible := feasibleOnly(pop)
		if len(feasible) == 0 {
			// Every candidate died on a hard violation. Reseed from the known
			// feasible baseline rather than breeding from a dead generation.
			degraded = true
			metrics.SearchDegradedTotal.Inc()
			e.logger.Warn("generation fully infeasible, reseeding from baseline",
				zap.Error(schemas.ErrComplianceUnrepairable),
				zap.Int("generation", gen))
			pop = e.seedPopulation(best, snap, rng)
			continue
		}

		sortByScore(feasible)
		if feasible[0].Score.Better(best.Score) {
			best = feasible[0]
			improved = true
			stall = 0
		} else {
			stall++
		}

		if stall >= e.cfg.StallGenerations {
			status = schemas.StatusConverged
			break
		}

		pop = e.nextGeneration(feasible, snap, rng)
	}

	if degraded && !improved {
		status = schemas.StatusDegradedSearch
	}

	metrics.SearchBestComposite.Set(best.Score.Composite)
	e.logger.Info("search finished",
		zap.String("status", string(status)),
		zap.Int("generation", best.Generation),
		zap.Float64("composite", best.Score.Composite),
		zap.Bool("improved", improved))
	return best, status, nil
}

// evaluate repairs, validates and scores every candidate, bounded-parallel.
// Each candidate is independent, so evaluation order does not matter.
func (e *Engine) evaluate(ctx context.Context, pop []*schemas.ScheduleCandidate, reqs []schemas.StaffingRequirement, snap *schemas.Snapshot) {
	limit := e.cfg.EvalConcurrency
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range pop {
		g.Go(func() error {
			repaired := e.rules.Repair(pop[i], snap)
			violations := e.rules.Validate(repaired, snap)
			report := e.gaps.Analyze(reqs, &repaired.Allocation)
			repaired.Score = e.scorer.Score(repaired, &report, violations, snap)

			mu.Lock()
			pop[i] = repaired
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
}

// seedPopulation builds a fresh population of mutated clones of the seed
// candidate. The unmodified seed itself is always a member so the population
// can never be worse than it.
func (e *Engine) seedPopulation(seed *schemas.ScheduleCandidate, snap *schemas.Snapshot, rng *rand.Rand) []*schemas.ScheduleCandidate {
	pop := make([]*schemas.ScheduleCandidate, 0, e.cfg.PopulationSize)
	pop = append(pop, seed.Clone())
	for len(pop) < e.cfg.PopulationSize {
		cand := seed.Clone()
		e.mutate(cand, snap, rng)
		pop = append(pop, cand)
	}
	return pop
}

// nextGeneration keeps the elites, samples the rest of the survivors for
// diversity, and refills the population with crossover offspring.
func (e *Engine) nextGeneration(feasible []*schemas.ScheduleCandidate, snap *schemas.Snapshot, rng *rand.Rand) []*schemas.ScheduleCandidate {
	elites := int(float64(e.cfg.PopulationSize) * e.cfg.EliteFraction)
	if elites < 1 {
		elites = 1
	}
	if elites > len(feasible) {
		elites = len(feasible)
	}

	next := make([]*schemas.ScheduleCandidate, 0, e.cfg.PopulationSize)
	next = append(next, feasible[:elites]...)

	diversity := int(float64(e.cfg.PopulationSize) * e.cfg.DiversityFraction)
	for d := 0; d < diversity && len(feasible) > elites; d++ {
		pick := feasible[elites+rng.Intn(len(feasible)-elites)]
		next = append(next, pick)
	}

	for len(next) < e.cfg.PopulationSize {
		a := feasible[rng.Intn(len(feasible))]
		b := feasible[rng.Intn(len(feasible))]
		child := e.crossover(a, b, snap, rng)
		e.mutate(child, snap, rng)
		next = append(next, child)
	}
	return next
}

func feasibleOnly(pop []*schemas.ScheduleCandidate) []*schemas.ScheduleCandidate {
	out := make([]*schemas.ScheduleCandidate, 0, len(pop))
	for _, cand := range pop {
		if !cand.Score.Disqualified {
			out = append(out, cand)
		}
	}
	return out
}

func sortByScore(pop []*schemas.ScheduleCandidate) {
	sort.SliceStable(pop, func(i, j int) bool {
		return pop[i].Score.Better(pop[j].Score)
	})
}
