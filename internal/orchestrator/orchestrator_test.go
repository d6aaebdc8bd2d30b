package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/allocator"
	"github.com/shiftarc/shiftarc/internal/compliance"
	"github.com/shiftarc/shiftarc/internal/config"
	"github.com/shiftarc/shiftarc/internal/engine"
	"github.com/shiftarc/shiftarc/internal/erlang"
	"github.com/shiftarc/shiftarc/internal/gap"
	"github.com/shiftarc/shiftarc/internal/scoring"
	"github.com/shiftarc/shiftarc/internal/store"
)

func testConfig(t *testing.T, overrides map[string]any) config.Interface {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("recompute.retry_backoff", "1ms")
	for key, value := range overrides {
		v.Set(key, value)
	}
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	return cfg
}

func testSnapshot() *schemas.Snapshot {
	h := schemas.Horizon{
		Start:          time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		IntervalLength: 30 * time.Minute,
		Intervals:      2,
	}
	snap := &schemas.Snapshot{
		TakenAt: h.Start,
		Horizon: h,
		Queues: []schemas.Queue{
			{ID: "sales", RequiredSkill: "selling", Priority: 1,
				Target: schemas.ServiceLevelTarget{Fraction: 0.8, Threshold: 20 * time.Second}},
		},
		Agents: []schemas.Agent{
			{ID: "a1", HourlyCost: 20, WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true},
				Skills: []schemas.SkillRating{{Skill: "selling", Proficiency: 0.9}}},
			{ID: "a2", HourlyCost: 22, WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true},
				Skills: []schemas.SkillRating{{Skill: "selling", Proficiency: 0.8}}},
		},
	}
	for i := 0; i < h.Intervals; i++ {
		snap.Demand = append(snap.Demand, schemas.DemandPoint{
			Interval: h.Interval(i),
			QueueID:  "sales",
			Volume:   10,
			AHT:      180 * time.Second,
		})
	}
	return snap
}

// stubSource serves a fixed snapshot, optionally failing first.
type stubSource struct {
	mu       sync.Mutex
	snap     *schemas.Snapshot
	failures int
	calls    int
}

func (s *stubSource) Snapshot(_ context.Context, _ schemas.Horizon) (*schemas.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("collaborator unavailable")
	}
	return s.snap, nil
}

// stubSearch returns a transformed clone of the baseline it is given.
type stubSearch struct {
	delta  float64
	status schemas.RunStatus
	// lastBaseline and lastBudget capture what the orchestrator handed the
	// search.
	lastBaseline *schemas.ScheduleCandidate
	lastBudget   time.Duration
}

func (s *stubSearch) Optimize(_ context.Context, baseline *schemas.ScheduleCandidate, _ []schemas.StaffingRequirement, _ *schemas.Snapshot, budget time.Duration) (*schemas.ScheduleCandidate, schemas.RunStatus, error) {
	s.lastBaseline = baseline
	s.lastBudget = budget
	best := baseline.Clone()
	best.Generation = 7
	best.Score = baseline.Score
	best.Score.Composite += s.delta
	best.Score.Disqualified = false
	return best, s.status, nil
}

type fixture struct {
	orch   *Orchestrator
	cfg    config.Interface
	source *stubSource
	search *stubSearch
	memory *store.MemoryStore
}

func newFixture(t *testing.T, overrides map[string]any) *fixture {
	t.Helper()
	cfg := testConfig(t, overrides)
	logger := zap.NewNop()

	src := &stubSource{snap: testSnapshot()}
	srch := &stubSearch{delta: 1, status: schemas.StatusConverged}
	memory := store.NewMemoryStore()

	orch, err := New(cfg, logger, Deps{
		Calculator: erlang.NewCalculator(cfg.Staffing(), logger),
		Allocator:  allocator.NewOptimizer(cfg.Allocator(), logger),
		Gaps:       gap.NewAnalyzer(cfg.Scoring()),
		Rules:      compliance.NewEngine(cfg.Compliance(), logger),
		Scorer:     scoring.NewEngine(cfg.Scoring()),
		Search:     srch,
		Store:      memory,
		Source:     src,
	})
	require.NoError(t, err)
	return &fixture{orch: orch, cfg: cfg, source: src, search: srch, memory: memory}
}

func TestNew_RejectsNilDependencies(t *testing.T) {
	cfg := testConfig(t, nil)
	_, err := New(cfg, zap.NewNop(), Deps{})
	assert.Error(t, err)
}

func TestComputeStaffing_ProducesRequirementsPerDemandPoint(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.ComputeStaffing(context.Background(), f.source.snap.Horizon)
	require.NoError(t, err)

	require.Len(t, result.Requirements, 2)
	for _, req := range result.Requirements {
		assert.True(t, req.Feasible)
		assert.Greater(t, req.Required, 0)
		assert.InDelta(t, 1.0, req.OfferedLoad, 1e-9)
	}
	assert.Equal(t, []schemas.RunStatus{schemas.StatusOptimal}, result.Statuses)

	stored, err := f.memory.Staffing(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result, stored)
}

func TestComputeStaffing_RetriesSnapshotFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.source.failures = 2

	_, err := f.orch.ComputeStaffing(context.Background(), f.source.snap.Horizon)
	require.NoError(t, err)
	assert.Equal(t, 3, f.source.calls)
}

func TestComputeStaffing_FailsAfterRetryBudget(t *testing.T) {
	f := newFixture(t, map[string]any{"recompute.max_retries": 1})
	f.source.failures = 5

	_, err := f.orch.ComputeStaffing(context.Background(), f.source.snap.Horizon)
	require.Error(t, err)
	assert.Equal(t, 2, f.source.calls)
}

func TestComputeStaffing_RejectsUnknownQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.source.snap.Demand[0].QueueID = "ghost"

	_, err := f.orch.ComputeStaffing(context.Background(), f.source.snap.Horizon)
	assert.ErrorIs(t, err, schemas.ErrInputInconsistency)
}

func TestAllocate_ComputesGapReport(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Allocate(context.Background(), f.source.snap.Horizon)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Allocation.Records)
	assert.Len(t, result.Report.Entries, 2)
	// Two agents against the computed requirement: a shortage may remain but
	// the allocator still returned its best effort.
	assert.GreaterOrEqual(t, result.Report.TotalShortage, 0.0)

	stored, err := f.memory.Allocation(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result, stored)
}

func TestOptimizeSchedule_AcceptsStrictImprovement(t *testing.T) {
	f := newFixture(t, nil)
	f.search.delta = 1 // strictly better than baseline

	result, err := f.orch.OptimizeSchedule(context.Background(), f.source.snap.Horizon, 0)
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	require.NotNil(t, result.Best)
	assert.Equal(t, 7, result.Generation)
	assert.NotContains(t, result.Statuses, schemas.StatusBaselineRetained)

	// The accepted schedule seeds the next run.
	_, err = f.orch.OptimizeSchedule(context.Background(), f.source.snap.Horizon, 0)
	require.NoError(t, err)
	assert.Equal(t, result.Best.Shifts, f.search.lastBaseline.Shifts)
}

func TestOptimizeSchedule_RetainsBaselineWithoutImprovement(t *testing.T) {
	f := newFixture(t, nil)
	f.search.delta = -1 // strictly worse

	result, err := f.orch.OptimizeSchedule(context.Background(), f.source.snap.Horizon, 0)
	require.NoError(t, err)

	assert.False(t, result.Accepted)
	assert.Nil(t, result.Best)
	assert.Contains(t, result.Statuses, schemas.StatusBaselineRetained)

	stored, err := f.memory.Schedule(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result, stored)
}

func TestOptimizeSchedule_EqualScoreIsNotAnImprovement(t *testing.T) {
	f := newFixture(t, nil)
	f.search.delta = 0

	result, err := f.orch.OptimizeSchedule(context.Background(), f.source.snap.Horizon, 0)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

// TestOptimizeSchedule_ForwardsBudgetOverride: an explicit budget reaches the
// search engine untouched; a non-positive one falls back to the configured
// search budget.
func TestOptimizeSchedule_ForwardsBudgetOverride(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.OptimizeSchedule(context.Background(), f.source.snap.Horizon, 42*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, f.search.lastBudget)

	_, err = f.orch.OptimizeSchedule(context.Background(), f.source.snap.Horizon, 0)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Search().Budget, f.search.lastBudget)
}

func TestRun_DispatchesByTaskKind(t *testing.T) {
	f := newFixture(t, nil)
	h := f.source.snap.Horizon

	for _, kind := range []engine.TaskKind{
		engine.TaskComputeStaffing,
		engine.TaskAllocate,
		engine.TaskOptimizeSchedule,
	} {
		task := engine.Task{ID: uuid.New(), Kind: kind, Horizon: h}
		assert.NoError(t, f.orch.Run(context.Background(), task))
	}

	err := f.orch.Run(context.Background(), engine.Task{ID: uuid.New(), Kind: "bogus"})
	assert.Error(t, err)
}

func TestShiftsFromAllocation_MergesContiguousIntervals(t *testing.T) {
	h := schemas.Horizon{
		Start:          time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		IntervalLength: 30 * time.Minute,
		Intervals:      6,
	}
	var alloc schemas.Allocation
	for _, idx := range []int{0, 1, 2, 4, 5} {
		alloc.Add(schemas.AllocationRecord{AgentID: "a1", IntervalIndex: idx, QueueID: "sales", Share: 1})
	}

	shifts := shiftsFromAllocation(alloc, h)
	require.Len(t, shifts, 2)

	assert.Equal(t, h.Start, shifts[0].Start)
	assert.Equal(t, h.Start.Add(90*time.Minute), shifts[0].End)
	assert.Equal(t, h.Start.Add(2*time.Hour), shifts[1].Start)
	assert.Equal(t, h.Start.Add(3*time.Hour), shifts[1].End)
}

func TestRecomputeLoop_SubmitsSearchAboveThreshold(t *testing.T) {
	f := newFixture(t, map[string]any{
		"recompute.enabled":       true,
		"recompute.interval":      "10ms",
		"recompute.gap_threshold": 0.0,
	})

	tasks := make(chan engine.Task, 1)
	loop := NewRecomputeLoop(f.cfg, zap.NewNop(), f.orch, f.source.snap.Horizon, tasks)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case task := <-tasks:
		assert.Equal(t, engine.TaskOptimizeSchedule, task.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("no task submitted before timeout")
	}

	cancel()
	<-done
}
