// Package ingest decodes forecast and roster payloads from external
// collaborators into run snapshots and enforces the data contract:
// every reference must resolve, every figure must be sane. A payload that
// fails these checks aborts the run with a typed error instead of producing
// a silently wrong schedule.
package ingest

import (
	"context"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeSnapshot parses a snapshot document.
func DecodeSnapshot(data []byte) (*schemas.Snapshot, error) {
	var snap schemas.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return &snap, nil
}

// Validate checks the snapshot's referential integrity. Every violation
// wraps ErrInputInconsistency so callers can distinguish data-contract
// breaches from transient failures.
func Validate(snap *schemas.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot is nil", schemas.ErrInputInconsistency)
	}
	if snap.Horizon.IntervalLength <= 0 {
		return fmt.Errorf("%w: horizon interval length must be positive", schemas.ErrInputInconsistency)
	}
	if snap.Horizon.Intervals <= 0 {
		return fmt.Errorf("%w: horizon must contain at least one interval", schemas.ErrInputInconsistency)
	}

	queues := make(map[schemas.QueueID]struct{}, len(snap.Queues))
	for _, q := range snap.Queues {
		if q.ID == "" {
			return fmt.Errorf("%w: queue with empty id", schemas.ErrInputInconsistency)
		}
		if _, dup := queues[q.ID]; dup {
			return fmt.Errorf("%w: duplicate queue id %q", schemas.ErrInputInconsistency, q.ID)
		}
		queues[q.ID] = struct{}{}

		if q.RequiredSkill == "" {
			return fmt.Errorf("%w: queue %q has no required skill", schemas.ErrInputInconsistency, q.ID)
		}
		if q.Target.Fraction <= 0 || q.Target.Fraction > 1 {
			return fmt.Errorf("%w: queue %q target fraction %v outside (0, 1]", schemas.ErrInputInconsistency, q.ID, q.Target.Fraction)
		}
		if q.Target.Threshold < 0 {
			return fmt.Errorf("%w: queue %q has a negative answer threshold", schemas.ErrInputInconsistency, q.ID)
		}
		if q.MinCoverageRatio < 0 || q.MinCoverageRatio > 1 {
			return fmt.Errorf("%w: queue %q min coverage ratio %v outside [0, 1]", schemas.ErrInputInconsistency, q.ID, q.MinCoverageRatio)
		}
	}

	agents := make(map[schemas.AgentID]struct{}, len(snap.Agents))
	for _, a := range snap.Agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agent with empty id", schemas.ErrInputInconsistency)
		}
		if _, dup := agents[a.ID]; dup {
			return fmt.Errorf("%w: duplicate agent id %q", schemas.ErrInputInconsistency, a.ID)
		}
		agents[a.ID] = struct{}{}

		if a.HourlyCost < 0 {
			return fmt.Errorf("%w: agent %q has a negative hourly cost", schemas.ErrInputInconsistency, a.ID)
		}
		for _, rating := range a.Skills {
			if rating.Skill == "" {
				return fmt.Errorf("%w: agent %q holds a rating with empty skill id", schemas.ErrInputInconsistency, a.ID)
			}
			if rating.Proficiency < 0 || rating.Proficiency > 1 {
				return fmt.Errorf("%w: agent %q skill %q proficiency %v outside [0, 1]", schemas.ErrInputInconsistency, a.ID, rating.Skill, rating.Proficiency)
			}
		}
		for _, w := range a.Availability {
			if !w.Start.Before(w.End) {
				return fmt.Errorf("%w: agent %q has an availability window with start not before end", schemas.ErrInputInconsistency, a.ID)
			}
		}
	}

	for i, d := range snap.Demand {
		if _, known := queues[d.QueueID]; !known {
			return fmt.Errorf("%w: demand point %d references unknown queue %q", schemas.ErrInputInconsistency, i, d.QueueID)
		}
		if d.Volume < 0 {
			return fmt.Errorf("%w: demand point %d has negative volume", schemas.ErrInputInconsistency, i)
		}
		if d.AHT < 0 {
			return fmt.Errorf("%w: demand point %d has negative handle time", schemas.ErrInputInconsistency, i)
		}
		if d.Interval.Index < 0 || d.Interval.Index >= snap.Horizon.Intervals {
			return fmt.Errorf("%w: demand point %d interval index %d outside horizon", schemas.ErrInputInconsistency, i, d.Interval.Index)
		}
	}

	return nil
}

// Normalize aligns demand intervals with the horizon: missing start times and
// lengths are derived from the interval index. Call after Validate.
func Normalize(snap *schemas.Snapshot) {
	for i := range snap.Demand {
		iv := &snap.Demand[i].Interval
		if iv.Length <= 0 {
			iv.Length = snap.Horizon.IntervalLength
		}
		if iv.Start.IsZero() {
			iv.Start = snap.Horizon.Interval(iv.Index).Start
		}
	}
}

// FileSource loads snapshots from a JSON document on disk. It backs the CLI
// commands; live deployments plug in a collaborator-backed source instead.
type FileSource struct {
	path   string
	logger *zap.Logger
}

// NewFileSource creates a source reading from the given path.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger.Named("ingest")}
}

// Snapshot implements the snapshot source contract. The horizon argument is
// used when the document does not carry one of its own.
func (s *FileSource) Snapshot(ctx context.Context, horizon schemas.Horizon) (*schemas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	if snap.Horizon.Intervals == 0 {
		snap.Horizon = horizon
	}

	if err := Validate(snap); err != nil {
		return nil, err
	}
	Normalize(snap)

	s.logger.Info("snapshot loaded",
		zap.String("path", s.path),
		zap.Int("queues", len(snap.Queues)),
		zap.Int("agents", len(snap.Agents)),
		zap.Int("demand_points", len(snap.Demand)))
	return snap, nil
}
