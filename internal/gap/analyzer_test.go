package gap

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

func scoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		CriticalShortageRatio: 0.25,
		MajorShortageRatio:    0.10,
		WorstN:                10,
	}
}

func interval(i int) schemas.Interval {
	return schemas.Interval{
		Start:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * 30 * time.Minute),
		Index:  i,
		Length: 30 * time.Minute,
	}
}

func requirement(i int, q schemas.QueueID, required int) schemas.StaffingRequirement {
	return schemas.StaffingRequirement{
		Interval: interval(i),
		QueueID:  q,
		Required: required,
		Feasible: true,
	}
}

func TestAnalyze_ShortageAndSurplus(t *testing.T) {
	analyzer := NewAnalyzer(scoringConfig())
	reqs := []schemas.StaffingRequirement{
		requirement(0, "sales", 10),
		requirement(0, "support", 4),
	}
	alloc := &schemas.Allocation{}
	for i := 0; i < 7; i++ {
		alloc.Add(schemas.AllocationRecord{AgentID: schemas.AgentID(rune('a' + i)), IntervalIndex: 0, QueueID: "sales", Share: 1})
	}
	for i := 0; i < 6; i++ {
		alloc.Add(schemas.AllocationRecord{AgentID: schemas.AgentID(rune('h' + i)), IntervalIndex: 0, QueueID: "support", Share: 1})
	}

	report := analyzer.Analyze(reqs, alloc)
	require.Len(t, report.Entries, 2)
	assert.InDelta(t, 3.0, report.TotalShortage, 1e-9)
	assert.InDelta(t, 2.0, report.TotalSurplus, 1e-9)

	assert.Equal(t, schemas.QueueID("sales"), report.Worst[0].QueueID)
	assert.Equal(t, schemas.SeverityCritical, report.Worst[0].Severity, "3/10 shortage crosses the critical band")
	assert.Equal(t, schemas.SeverityInfo, report.Worst[1].Severity, "surplus never escalates")

	require.Len(t, report.ImpactedQueues, 1)
	assert.Equal(t, schemas.QueueID("sales"), report.ImpactedQueues[0].QueueID)
	assert.InDelta(t, 3.0, report.ImpactedQueues[0].Unmet, 1e-9)
}

// TestAnalyze_Pure verifies the analyzer is a pure function: two calls with
// identical inputs yield identical reports.
func TestAnalyze_Pure(t *testing.T) {
	analyzer := NewAnalyzer(scoringConfig())
	reqs := []schemas.StaffingRequirement{
		requirement(0, "sales", 5),
		requirement(1, "sales", 6),
		requirement(0, "support", 3),
		requirement(1, "support", 2),
	}
	alloc := &schemas.Allocation{}
	alloc.Add(schemas.AllocationRecord{AgentID: "a1", IntervalIndex: 0, QueueID: "sales", Share: 1})
	alloc.Add(schemas.AllocationRecord{AgentID: "a2", IntervalIndex: 1, QueueID: "support", Share: 0.5})

	first := analyzer.Analyze(reqs, alloc)
	second := analyzer.Analyze(reqs, alloc)
	assert.Empty(t, cmp.Diff(first, second))
}

// TestAnalyze_Idempotence: an allocation fully covering its requirements
// yields a non-positive gap everywhere.
func TestAnalyze_Idempotence(t *testing.T) {
	analyzer := NewAnalyzer(scoringConfig())
	reqs := []schemas.StaffingRequirement{
		requirement(0, "sales", 3),
		requirement(1, "sales", 2),
	}
	alloc := &schemas.Allocation{}
	for i, req := range reqs {
		for n := 0; n < req.Required; n++ {
			alloc.Add(schemas.AllocationRecord{
				AgentID:       schemas.AgentID(rune('a' + n + i*10)),
				IntervalIndex: req.Interval.Index,
				QueueID:       req.QueueID,
				Share:         1,
			})
		}
	}

	report := analyzer.Analyze(reqs, alloc)
	assert.Zero(t, report.TotalShortage)
	for _, entry := range report.Entries {
		assert.LessOrEqual(t, entry.Gap, 0.0)
	}
}

// TestAnalyze_InfeasibleRequirement: an unstable queue reports against its
// offered load and is always critical when short.
func TestAnalyze_InfeasibleRequirement(t *testing.T) {
	analyzer := NewAnalyzer(scoringConfig())
	reqs := []schemas.StaffingRequirement{{
		Interval:    interval(0),
		QueueID:     "sales",
		Required:    0,
		OfferedLoad: 12.4,
		Feasible:    false,
		Reason:      schemas.ReasonUnstableQueue,
	}}
	report := analyzer.Analyze(reqs, &schemas.Allocation{})
	require.Len(t, report.Entries, 1)
	assert.InDelta(t, 13.0, report.Entries[0].Gap, 1e-9)
	assert.Equal(t, schemas.SeverityCritical, report.Entries[0].Severity)
}

func TestAnalyze_WorstBounded(t *testing.T) {
	cfg := scoringConfig()
	cfg.WorstN = 2
	analyzer := NewAnalyzer(cfg)

	reqs := []schemas.StaffingRequirement{
		requirement(0, "a", 5),
		requirement(1, "b", 4),
		requirement(2, "c", 3),
	}
	report := analyzer.Analyze(reqs, &schemas.Allocation{})
	require.Len(t, report.Worst, 2)
	assert.Equal(t, schemas.QueueID("a"), report.Worst[0].QueueID)
	assert.Equal(t, schemas.QueueID("b"), report.Worst[1].QueueID)
}
