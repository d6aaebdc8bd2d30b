// Package metrics provides Prometheus observability metrics for the staffing
// engine: calculator latency and cache behavior, allocation outcomes, search
// progress, and the recompute loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for the engine.
var Registry = prometheus.NewRegistry()

// factory registers metrics to the custom Registry directly.
var factory = promauto.With(Registry)

// -- Staffing calculator --

// ErlangDurationSeconds tracks time per single staffing calculation. The
// calculator carries a sub-10ms contract; the buckets surface drift early.
var ErlangDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "staffing",
	Name:      "erlang_duration_seconds",
	Help:      "Time taken for a single Erlang C staffing calculation",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
})

// CacheLookupsTotal tracks staffing cache lookups by outcome (hit/miss/expired).
var CacheLookupsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staffing",
	Name:      "cache_lookups_total",
	Help:      "Staffing cache lookups by outcome",
}, []string{"outcome"})

// InfeasibleRequirementsTotal counts requirements flagged infeasible by reason.
var InfeasibleRequirementsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staffing",
	Name:      "infeasible_requirements_total",
	Help:      "Staffing requirements flagged infeasible, by reason",
}, []string{"reason"})

// -- Allocator --

// AllocationFallbacksTotal counts allocations that used the greedy fallback.
var AllocationFallbacksTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "allocator",
	Name:      "fallbacks_total",
	Help:      "Allocations produced by the greedy fallback instead of the primary solve",
})

// AllocationShortageTotal tracks agent-equivalents of unmet requirement per run.
var AllocationShortageTotal = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "allocator",
	Name:      "shortage_total",
	Help:      "Total unmet requirement (agent-equivalents) in the last allocation run",
})

// AllocationDurationSeconds tracks end-to-end allocation solve time.
var AllocationDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "allocator",
	Name:      "duration_seconds",
	Help:      "Time taken by the skill allocation solve including fallback",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
})

// -- Schedule search --

// SearchGenerationsTotal counts generations evaluated across all searches.
var SearchGenerationsTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "search",
	Name:      "generations_total",
	Help:      "Schedule search generations evaluated",
})

// SearchDegradedTotal counts fully-infeasible generations that forced a reseed.
var SearchDegradedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "search",
	Name:      "degraded_total",
	Help:      "Search generations eliminated entirely by compliance, forcing a baseline reseed",
})

// SearchBestComposite tracks the best composite score seen in the last search.
var SearchBestComposite = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "search",
	Name:      "best_composite",
	Help:      "Best composite score observed by the last schedule search",
})

// -- Orchestrator / recompute loop --

// RecomputeTicksTotal counts recompute tasks emitted by the background timer.
var RecomputeTicksTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "orchestrator",
	Name:      "recompute_ticks_total",
	Help:      "Recompute tasks emitted by the background scheduler",
})

// RunRetriesTotal counts retries against external collaborators by operation.
var RunRetriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "orchestrator",
	Name:      "run_retries_total",
	Help:      "Bounded retries performed against external collaborators",
}, []string{"operation"})

// SchedulesAcceptedTotal counts search results accepted over baseline.
var SchedulesAcceptedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "orchestrator",
	Name:      "schedules_accepted_total",
	Help:      "Optimized schedules accepted as strict improvements over baseline",
})

// SchedulesRejectedTotal counts search results that failed acceptance.
var SchedulesRejectedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "orchestrator",
	Name:      "schedules_rejected_total",
	Help:      "Optimized schedules rejected in favor of the current baseline",
})
