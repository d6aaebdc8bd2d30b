// Package compliance encodes the labor-rule predicates used to validate and
// repair candidate schedules: rest periods between shifts, shift-length and
// weekly-hour caps, consecutive-day limits, and overtime authorization.
//
// Rule thresholds come from the configuration collaborator; agents may carry
// stricter personal limits in their work-rule profile.
package compliance

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/config"
)

// Violation codes.
const (
	CodeMinRest              = "MIN_REST"
	CodeShortTurnaround      = "SHORT_TURNAROUND"
	CodeMaxShiftHours        = "MAX_SHIFT_HOURS"
	CodeWeeklyOvertime       = "WEEKLY_OVERTIME"
	CodeOvertimeUnauthorized = "OVERTIME_UNAUTHORIZED"
	CodeConsecutiveDays      = "CONSECUTIVE_DAYS"
)

// turnaroundBuffer is the comfort margin above the hard rest minimum below
// which a soft short-turnaround violation is raised.
const turnaroundBuffer = time.Hour

// Engine is a stateless evaluator of the active rule set.
type Engine struct {
	cfg    config.ComplianceConfig
	logger *zap.Logger
}

// NewEngine builds a rule engine for the given rule configuration.
func NewEngine(cfg config.ComplianceConfig, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.Named("compliance")}
}

// Validate evaluates the fixed rule set against the candidate and returns
// every violation found, tagged hard or soft. It never mutates the candidate.
func (e *Engine) Validate(candidate *schemas.ScheduleCandidate, snap *schemas.Snapshot) []schemas.Violation {
	var violations []schemas.Violation

	for _, agentID := range agentOrder(candidate.Shifts) {
		agent, ok := agentByID(snap, agentID)
		if !ok {
			continue
		}
		shifts := shiftsFor(candidate.Shifts, agentID)
		violations = append(violations, e.restViolations(agent, shifts)...)
		violations = append(violations, e.shiftLengthViolations(agent, shifts)...)
		violations = append(violations, e.weeklyViolations(agent, shifts)...)
		violations = append(violations, e.consecutiveDayViolations(agent, shifts)...)
	}
	return violations
}

func (e *Engine) restViolations(agent schemas.Agent, shifts []schemas.ShiftAssignment) []schemas.Violation {
	minRest := e.minRest(agent)
	var out []schemas.Violation
	for i := 1; i < len(shifts); i++ {
		rest := shifts[i].Start.Sub(shifts[i-1].End)
		switch {
		case rest < minRest:
			out = append(out, schemas.Violation{
				Code:     CodeMinRest,
				Severity: schemas.SeverityHard,
				AgentID:  agent.ID,
				Detail:   fmt.Sprintf("%.1fh rest before shift starting %s, minimum %.1fh", rest.Hours(), shifts[i].Start.Format(time.RFC3339), minRest.Hours()),
			})
		case rest < minRest+turnaroundBuffer:
			out = append(out, schemas.Violation{
				Code:     CodeShortTurnaround,
				Severity: schemas.SeveritySoft,
				AgentID:  agent.ID,
				Detail:   fmt.Sprintf("%.1fh turnaround before shift starting %s", rest.Hours(), shifts[i].Start.Format(time.RFC3339)),
			})
		}
	}
	return out
}

func (e *Engine) shiftLengthViolations(agent schemas.Agent, shifts []schemas.ShiftAssignment) []schemas.Violation {
	maxHours := e.cfg.MaxConsecutiveHours
	if agent.WorkRules.MaxConsecutiveHours > 0 && agent.WorkRules.MaxConsecutiveHours < maxHours {
		maxHours = agent.WorkRules.MaxConsecutiveHours
	}
	if maxHours <= 0 {
		return nil
	}
	var out []schemas.Violation
	for _, s := range shifts {
		if s.End.Sub(s.Start).Hours() > maxHours {
			out = append(out, schemas.Violation{
				Code:     CodeMaxShiftHours,
				Severity: schemas.SeverityHard,
				AgentID:  agent.ID,
				Detail:   fmt.Sprintf("shift of %.1fh starting %s exceeds %.1fh", s.End.Sub(s.Start).Hours(), s.Start.Format(time.RFC3339), maxHours),
			})
		}
	}
	return out
}

func (e *Engine) weeklyViolations(agent schemas.Agent, shifts []schemas.ShiftAssignment) []schemas.Violation {
	maxWeekly := e.cfg.MaxWeeklyHours
	if agent.WorkRules.MaxWeeklyHours > 0 && agent.WorkRules.MaxWeeklyHours < maxWeekly {
		maxWeekly = agent.WorkRules.MaxWeeklyHours
	}
	if maxWeekly <= 0 {
		return nil
	}

	weekly := make(map[string]float64)
	for _, s := range shifts {
		year, week := s.Start.ISOWeek()
		weekly[fmt.Sprintf("%d-%02d", year, week)] += s.End.Sub(s.Start).Hours()
	}

	weeks := make([]string, 0, len(weekly))
	for w := range weekly {
		weeks = append(weeks, w)
	}
	sort.Strings(weeks)

	var out []schemas.Violation
	for _, w := range weeks {
		hours := weekly[w]
		if hours <= maxWeekly {
			continue
		}
		// Over the cap: soft overtime when the agent is authorized for it,
		// hard otherwise.
		severity := schemas.SeveritySoft
		code := CodeWeeklyOvertime
		if !agent.WorkRules.OvertimeEligible {
			severity = schemas.SeverityHard
			code = CodeOvertimeUnauthorized
		}
		out = append(out, schemas.Violation{
			Code:     code,
			Severity: severity,
			AgentID:  agent.ID,
			Detail:   fmt.Sprintf("%.1fh scheduled in week %s, cap %.1fh", hours, w, maxWeekly),
		})
	}
	return out
}

func (e *Engine) consecutiveDayViolations(agent schemas.Agent, shifts []schemas.ShiftAssignment) []schemas.Violation {
	maxDays := e.cfg.MaxConsecutiveDays
	if agent.WorkRules.MaxConsecutiveDays > 0 && agent.WorkRules.MaxConsecutiveDays < maxDays {
		maxDays = agent.WorkRules.MaxConsecutiveDays
	}
	if maxDays <= 0 {
		return nil
	}

	days := make(map[string]bool)
	var ordered []time.Time
	for _, s := range shifts {
		day := s.Start.Truncate(24 * time.Hour)
		key := day.Format("2006-01-02")
		if !days[key] {
			days[key] = true
			ordered = append(ordered, day)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	run := 1
	var out []schemas.Violation
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Sub(ordered[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run == maxDays+1 {
			out = append(out, schemas.Violation{
				Code:     CodeConsecutiveDays,
				Severity: schemas.SeveritySoft,
				AgentID:  agent.ID,
				Detail:   fmt.Sprintf("more than %d consecutive working days ending %s", maxDays, ordered[i].Format("2006-01-02")),
			})
		}
	}
	return out
}

func (e *Engine) minRest(agent schemas.Agent) time.Duration {
	hours := e.cfg.MinRestHours
	if agent.WorkRules.MinRestHours > hours {
		hours = agent.WorkRules.MinRestHours
	}
	return time.Duration(hours * float64(time.Hour))
}

// agentOrder returns the distinct agent ids in first-appearance order so
// validation output is deterministic.
func agentOrder(shifts []schemas.ShiftAssignment) []schemas.AgentID {
	seen := make(map[schemas.AgentID]bool)
	var order []schemas.AgentID
	for _, s := range shifts {
		if !seen[s.AgentID] {
			seen[s.AgentID] = true
			order = append(order, s.AgentID)
		}
	}
	return order
}

func agentByID(snap *schemas.Snapshot, id schemas.AgentID) (schemas.Agent, bool) {
	for _, a := range snap.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return schemas.Agent{}, false
}

// shiftsFor returns the agent's shifts sorted by start time.
func shiftsFor(shifts []schemas.ShiftAssignment, id schemas.AgentID) []schemas.ShiftAssignment {
	var out []schemas.ShiftAssignment
	for _, s := range shifts {
		if s.AgentID == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
