// Package store persists optimization artifacts to PostgreSQL. Run headers
// carry their scores and statuses as jsonb; the bulky per-row payloads
// (requirements, allocation records) go through CopyFrom.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/shiftarc/shiftarc/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool so the store can be exercised against a
// mock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL implementation of the persistence boundary.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// SaveStaffing persists a staffing run and its requirements in one
// transaction.
func (s *Store) SaveStaffing(ctx context.Context, result *schemas.StaffingResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	statuses, err := json.Marshal(result.Statuses)
	if err != nil {
		return fmt.Errorf("failed to marshal statuses: %w", err)
	}

	sql := `
        INSERT INTO staffing_runs (run_id, created_at, statuses)
        VALUES ($1, $2, $3);
    `
	if _, err := tx.Exec(ctx, sql, result.RunID, time.Now().UTC(), statuses); err != nil {
		return fmt.Errorf("failed to insert staffing run: %w", err)
	}

	if len(result.Requirements) > 0 {
		if err := persistRequirements(ctx, tx, result.RunID.String(), result.Requirements); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveAllocation persists an allocation run, its gap report and its records.
func (s *Store) SaveAllocation(ctx context.Context, result *schemas.AllocationResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	statuses, err := json.Marshal(result.Statuses)
	if err != nil {
		return fmt.Errorf("failed to marshal statuses: %w", err)
	}
	report, err := json.Marshal(result.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal gap report: %w", err)
	}

	sql := `
        INSERT INTO allocation_runs (run_id, created_at, statuses, gap_report)
        VALUES ($1, $2, $3, $4);
    `
	if _, err := tx.Exec(ctx, sql, result.RunID, time.Now().UTC(), statuses, report); err != nil {
		return fmt.Errorf("failed to insert allocation run: %w", err)
	}

	if len(result.Allocation.Records) > 0 {
		if err := persistAllocationRecords(ctx, tx, result.RunID.String(), result.Allocation.Records); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveSchedule persists an optimization run. The best candidate is stored as
// a jsonb document: schedules are read back whole, never queried by shift.
func (s *Store) SaveSchedule(ctx context.Context, result *schemas.OptimizationResult) error {
	statuses, err := json.Marshal(result.Statuses)
	if err != nil {
		return fmt.Errorf("failed to marshal statuses: %w", err)
	}
	baseline, err := json.Marshal(result.Baseline)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline score: %w", err)
	}
	report, err := json.Marshal(result.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal gap report: %w", err)
	}

	var best []byte
	if result.Best != nil {
		best, err = json.Marshal(result.Best)
		if err != nil {
			return fmt.Errorf("failed to marshal best candidate: %w", err)
		}
	}

	sql := `
        INSERT INTO schedule_runs (run_id, created_at, accepted, generations, statuses, baseline_score, best, gap_report)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	if _, err := s.pool.Exec(ctx, sql,
		result.RunID, time.Now().UTC(), result.Accepted, result.Generation,
		statuses, baseline, best, report); err != nil {
		return fmt.Errorf("failed to insert schedule run: %w", err)
	}
	return nil
}

// GetScheduleRun reads one optimization run back by id.
func (s *Store) GetScheduleRun(ctx context.Context, runID string) (*schemas.OptimizationResult, error) {
	query := `
        SELECT run_id, accepted, generations, statuses, baseline_score, best, gap_report
        FROM schedule_runs
        WHERE run_id = $1;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("schedule run %s not found", runID)
	}

	var result schemas.OptimizationResult
	var statuses, baseline, best, report []byte
	if err := rows.Scan(&result.RunID, &result.Accepted, &result.Generation,
		&statuses, &baseline, &best, &report); err != nil {
		return nil, fmt.Errorf("failed to scan schedule run row: %w", err)
	}

	if err := json.Unmarshal(statuses, &result.Statuses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal statuses: %w", err)
	}
	if err := json.Unmarshal(baseline, &result.Baseline); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline score: %w", err)
	}
	if err := json.Unmarshal(report, &result.Report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gap report: %w", err)
	}
	if len(best) > 0 {
		result.Best = &schemas.ScheduleCandidate{}
		if err := json.Unmarshal(best, result.Best); err != nil {
			return nil, fmt.Errorf("failed to unmarshal best candidate: %w", err)
		}
	}
	return &result, nil
}

// rollback is the deferred transaction guard; rolling back an already
// committed transaction reports pgx.ErrTxClosed, which is not an error here.
func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func persistRequirements(ctx context.Context, tx pgx.Tx, runID string, reqs []schemas.StaffingRequirement) error {
	rows := make([][]interface{}, len(reqs))
	for i, req := range reqs {
		rows[i] = []interface{}{
			runID, req.Interval.Index, req.Interval.Start.UTC(), string(req.QueueID),
			req.Required, req.OfferedLoad, req.Utilization, req.AchievedServiceLevel,
			req.Feasible, req.Reason,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"staffing_requirements"},
		[]string{"run_id", "interval_index", "interval_start", "queue_id", "required", "offered_load", "utilization", "achieved_service_level", "feasible", "reason"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy staffing requirements: %w", err)
	}
	if int(copyCount) != len(reqs) {
		return fmt.Errorf("mismatch in copied requirement count: expected %d, got %d", len(reqs), copyCount)
	}
	return nil
}

func persistAllocationRecords(ctx context.Context, tx pgx.Tx, runID string, records []schemas.AllocationRecord) error {
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		rows[i] = []interface{}{
			runID, string(rec.AgentID), rec.IntervalIndex, string(rec.QueueID), rec.Share,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"allocation_records"},
		[]string{"run_id", "agent_id", "interval_index", "queue_id", "share"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy allocation records: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied record count: expected %d, got %d", len(records), copyCount)
	}
	return nil
}
