package compliance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

func complianceConfig() config.ComplianceConfig {
	return config.ComplianceConfig{
		MinRestHours:        11,
		MaxConsecutiveHours: 10,
		MaxConsecutiveDays:  6,
		MaxWeeklyHours:      44,
		RepairShiftStep:     30 * time.Minute,
		RepairMaxMoves:      8,
	}
}

var day0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func snapshotWith(agents ...schemas.Agent) *schemas.Snapshot {
	return &schemas.Snapshot{
		Horizon: schemas.Horizon{Start: day0, IntervalLength: 30 * time.Minute, Intervals: 48 * 14},
		Agents:  agents,
	}
}

func shift(agent schemas.AgentID, day int, startHour, hours float64) schemas.ShiftAssignment {
	start := day0.AddDate(0, 0, day).Add(time.Duration(startHour * float64(time.Hour)))
	return schemas.ShiftAssignment{
		AgentID: agent,
		QueueID: "sales",
		Start:   start,
		End:     start.Add(time.Duration(hours * float64(time.Hour))),
	}
}

func candidate(shifts ...schemas.ShiftAssignment) *schemas.ScheduleCandidate {
	return &schemas.ScheduleCandidate{ID: uuid.New(), Shifts: shifts}
}

// TestValidate_MinRestHardViolation: a late shift followed by an early one
// leaves only 8 hours of rest and must be flagged hard, no matter how good
// the candidate's coverage is.
func TestValidate_MinRestHardViolation(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}

	// Day 0: 14:00-22:00. Day 1: 06:00-14:00. Rest is 8h < 11h.
	cand := candidate(
		shift("a1", 0, 14, 8),
		shift("a1", 1, 6, 8),
	)
	violations := engine.Validate(cand, snapshotWith(agent))

	require.Len(t, violations, 1)
	assert.Equal(t, CodeMinRest, violations[0].Code)
	assert.Equal(t, schemas.SeverityHard, violations[0].Severity)
	assert.True(t, schemas.HasHard(violations))
}

func TestValidate_ShortTurnaroundIsSoft(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}

	// Rest is 11.5h: legal but inside the one-hour comfort buffer.
	cand := candidate(
		shift("a1", 0, 12, 8),
		shift("a1", 1, 7.5, 8),
	)
	violations := engine.Validate(cand, snapshotWith(agent))

	require.Len(t, violations, 1)
	assert.Equal(t, CodeShortTurnaround, violations[0].Code)
	assert.Equal(t, schemas.SeveritySoft, violations[0].Severity)
	assert.False(t, schemas.HasHard(violations))
}

func TestValidate_ShiftLengthCap(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}

	violations := engine.Validate(candidate(shift("a1", 0, 8, 12)), snapshotWith(agent))
	require.Len(t, violations, 1)
	assert.Equal(t, CodeMaxShiftHours, violations[0].Code)
	assert.Equal(t, schemas.SeverityHard, violations[0].Severity)
}

func TestValidate_WeeklyCap(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())

	// Six 8h shifts within one ISO week is 48h against a 44h cap.
	shifts := make([]schemas.ShiftAssignment, 0, 6)
	for d := 0; d < 6; d++ {
		shifts = append(shifts, shift("a1", d, 9, 8))
	}

	t.Run("overtime eligible is soft", func(t *testing.T) {
		agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}
		violations := engine.Validate(candidate(shifts...), snapshotWith(agent))
		var codes []string
		for _, v := range violations {
			codes = append(codes, v.Code)
		}
		assert.Contains(t, codes, CodeWeeklyOvertime)
		assert.False(t, schemas.HasHard(violations))
	})

	t.Run("not eligible is hard", func(t *testing.T) {
		agent := schemas.Agent{ID: "a1"}
		violations := engine.Validate(candidate(shifts...), snapshotWith(agent))
		var codes []string
		for _, v := range violations {
			codes = append(codes, v.Code)
		}
		assert.Contains(t, codes, CodeOvertimeUnauthorized)
		assert.True(t, schemas.HasHard(violations))
	})
}

func TestValidate_ConsecutiveDays(t *testing.T) {
	cfg := complianceConfig()
	cfg.MaxWeeklyHours = 100 // keep the weekly cap out of the way
	engine := NewEngine(cfg, zap.NewNop())
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}

	shifts := make([]schemas.ShiftAssignment, 0, 7)
	for d := 0; d < 7; d++ {
		shifts = append(shifts, shift("a1", d, 9, 4))
	}
	violations := engine.Validate(candidate(shifts...), snapshotWith(agent))

	require.Len(t, violations, 1)
	assert.Equal(t, CodeConsecutiveDays, violations[0].Code)
	assert.Equal(t, schemas.SeveritySoft, violations[0].Severity)
}

func TestValidate_AgentProfileTightensRules(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())
	// Personal minimum rest of 14h, stricter than the configured 11h.
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{MinRestHours: 14, OvertimeEligible: true}}

	cand := candidate(
		shift("a1", 0, 10, 8),
		shift("a1", 1, 7, 8), // 13h rest: fine globally, short for this agent
	)
	violations := engine.Validate(cand, snapshotWith(agent))
	require.Len(t, violations, 1)
	assert.Equal(t, CodeMinRest, violations[0].Code)
}

func TestRepair_DelaysShortTurnaround(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}
	snap := snapshotWith(agent)

	cand := candidate(
		shift("a1", 0, 12, 8),
		shift("a1", 1, 7.5, 8),
	)
	repaired := engine.Repair(cand, snap)

	// Original candidate untouched.
	assert.Equal(t, day0.AddDate(0, 0, 1).Add(7*time.Hour+30*time.Minute), cand.Shifts[1].Start)
	// Repaired candidate is clean.
	assert.Empty(t, engine.Validate(repaired, snap))
}

// TestRepair_NeverTouchesHardViolations: a hard rest violation survives
// repair untouched so the caller rejects the candidate.
func TestRepair_NeverTouchesHardViolations(t *testing.T) {
	engine := NewEngine(complianceConfig(), zap.NewNop())
	agent := schemas.Agent{ID: "a1", WorkRules: schemas.WorkRuleProfile{OvertimeEligible: true}}
	snap := snapshotWith(agent)

	cand := candidate(
		shift("a1", 0, 14, 8),
		shift("a1", 1, 6, 8),
	)
	repaired := engine.Repair(cand, snap)

	violations := engine.Validate(repaired, snap)
	assert.True(t, schemas.HasHard(violations))
	assert.Equal(t, cand.Shifts[1].Start, repaired.Shifts[1].Start)
}
