package erlang

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

func testStaffingConfig() config.StaffingConfig {
	return config.StaffingConfig{
		MaxAgents:      2000,
		VolumeRounding: 1.0,
		CacheTTL:       time.Minute,
	}
}

func demand(volume float64, aht time.Duration, length time.Duration) schemas.DemandPoint {
	return schemas.DemandPoint{
		Interval: schemas.Interval{Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), Index: 0, Length: length},
		QueueID:  "sales",
		Volume:   volume,
		AHT:      aht,
	}
}

// TestRequired_ScenarioA is the regression baseline: 100 calls per 30-minute
// interval at 180s AHT against an 80/20 target is 10 Erlangs of offered load
// and needs exactly 14 agents.
func TestRequired_ScenarioA(t *testing.T) {
	calc := NewCalculator(testStaffingConfig(), zap.NewNop())
	target := schemas.ServiceLevelTarget{Fraction: 0.80, Threshold: 20 * time.Second}

	req, err := calc.Required(demand(100, 180*time.Second, 30*time.Minute), target)
	require.NoError(t, err)

	require.True(t, req.Feasible)
	assert.Equal(t, 14, req.Required)
	assert.InDelta(t, 10.0, req.OfferedLoad, 1e-9)
	assert.InDelta(t, 10.0/14.0, req.Utilization, 1e-9)
	assert.GreaterOrEqual(t, req.AchievedServiceLevel, 0.80)
	assert.InDelta(t, 0.8884, req.AchievedServiceLevel, 0.001)
}

// TestRequired_Minimality verifies that the returned N meets the target and
// N-1 does not, across a spread of loads and targets. The N-1 check caps the
// agent bound just below the answer, which must flip the result to "target
// unreachable".
func TestRequired_Minimality(t *testing.T) {
	target8020 := schemas.ServiceLevelTarget{Fraction: 0.80, Threshold: 20 * time.Second}
	cases := []struct {
		name   string
		volume float64
		aht    time.Duration
		length time.Duration
		target schemas.ServiceLevelTarget
	}{
		{"light", 12, 240 * time.Second, 30 * time.Minute, target8020},
		{"moderate", 100, 180 * time.Second, 30 * time.Minute, target8020},
		{"heavy", 900, 300 * time.Second, 15 * time.Minute, target8020},
		{"strict target", 55, 200 * time.Second, 30 * time.Minute, schemas.ServiceLevelTarget{Fraction: 0.95, Threshold: 10 * time.Second}},
		{"loose target", 55, 200 * time.Second, 30 * time.Minute, schemas.ServiceLevelTarget{Fraction: 0.50, Threshold: 60 * time.Second}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc := NewCalculator(testStaffingConfig(), zap.NewNop())
			req, err := calc.Required(demand(tc.volume, tc.aht, tc.length), tc.target)
			require.NoError(t, err)
			require.True(t, req.Feasible)
			require.Less(t, req.Utilization, 1.0)
			assert.GreaterOrEqual(t, req.AchievedServiceLevel, tc.target.Fraction)

			// N-1 must not meet the target.
			cfg := testStaffingConfig()
			cfg.MaxAgents = req.Required - 1
			cfg.CacheTTL = 0
			bounded := NewCalculator(cfg, zap.NewNop())
			prev, err := bounded.Required(demand(tc.volume, tc.aht, tc.length), tc.target)
			require.NoError(t, err)
			assert.False(t, prev.Feasible)
		})
	}
}

func TestRequired_ZeroVolume(t *testing.T) {
	calc := NewCalculator(testStaffingConfig(), zap.NewNop())
	req, err := calc.Required(demand(0, 180*time.Second, 30*time.Minute), schemas.ServiceLevelTarget{Fraction: 0.80, Threshold: 20 * time.Second})
	require.NoError(t, err)
	assert.True(t, req.Feasible)
	assert.Equal(t, 0, req.Required)
	assert.Equal(t, 1.0, req.AchievedServiceLevel)
}

// TestRequired_TargetUnreachable pins the termination guarantee: a perfect
// service level can never be reached, so the search must stop at the agent
// bound and say so.
func TestRequired_TargetUnreachable(t *testing.T) {
	cfg := testStaffingConfig()
	cfg.MaxAgents = 50
	calc := NewCalculator(cfg, zap.NewNop())

	req, err := calc.Required(demand(100, 180*time.Second, 30*time.Minute), schemas.ServiceLevelTarget{Fraction: 1.0, Threshold: 0})
	require.NoError(t, err)
	assert.False(t, req.Feasible)
	assert.Equal(t, schemas.ReasonTargetUnreachable, req.Reason)
	assert.Equal(t, 50, req.Required)
}

func TestRequired_UnstableQueue(t *testing.T) {
	cfg := testStaffingConfig()
	cfg.MaxAgents = 8
	calc := NewCalculator(cfg, zap.NewNop())

	// 10 Erlangs against a bound of 8 agents cannot be stabilized.
	req, err := calc.Required(demand(100, 180*time.Second, 30*time.Minute), schemas.ServiceLevelTarget{Fraction: 0.80, Threshold: 20 * time.Second})
	require.NoError(t, err)
	assert.False(t, req.Feasible)
	assert.Equal(t, schemas.ReasonUnstableQueue, req.Reason)
}

func TestRequired_InvalidTarget(t *testing.T) {
	calc := NewCalculator(testStaffingConfig(), zap.NewNop())
	_, err := calc.Required(demand(10, 180*time.Second, 30*time.Minute), schemas.ServiceLevelTarget{Fraction: 0})
	require.Error(t, err)
}

// TestRequired_CachedResultKeepsCallerCoordinates checks that a cache hit for
// a different (interval, queue) pair is re-labeled for the caller.
func TestRequired_CachedResultKeepsCallerCoordinates(t *testing.T) {
	calc := NewCalculator(testStaffingConfig(), zap.NewNop())
	target := schemas.ServiceLevelTarget{Fraction: 0.80, Threshold: 20 * time.Second}

	first, err := calc.Required(demand(100, 180*time.Second, 30*time.Minute), target)
	require.NoError(t, err)

	other := demand(100, 180*time.Second, 30*time.Minute)
	other.QueueID = "support"
	other.Interval.Index = 7
	second, err := calc.Required(other, target)
	require.NoError(t, err)

	assert.Equal(t, first.Required, second.Required)
	assert.Equal(t, schemas.QueueID("support"), second.QueueID)
	assert.Equal(t, 7, second.Interval.Index)
}
