package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/storage"
)

const stageFactColumns = `id, aggregate_id, process_id, stage_id, stage_name,
	entered_at, exited_at, exit_reason, duration_ms`

// OpenStageFact inserts a new open occupancy interval for an engagement.
// The partial unique index on open facts rejects a second open interval for
// the same aggregate, which surfaces projector bugs instead of masking them.
func (s *Store) OpenStageFact(ctx context.Context, rec storage.StageFactRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.AggregateID = strings.TrimSpace(rec.AggregateID)
	if rec.AggregateID == "" {
		return fmt.Errorf("stage fact aggregate id is required")
	}
	if rec.ExitedAt != nil {
		return fmt.Errorf("stage fact for %s must open without an exit time", rec.AggregateID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_facts (aggregate_id, process_id, stage_id, stage_name, entered_at, exited_at, exit_reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, NULL, '', 0)
	`, rec.AggregateID, rec.ProcessID, rec.StageID, rec.StageName, toMillis(rec.EnteredAt))
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("aggregate %s already has an open stage fact: %w", rec.AggregateID, err)
		}
		return fmt.Errorf("open stage fact for %s: %w", rec.AggregateID, err)
	}
	return nil
}

// CloseOpenStageFact closes the aggregate's open interval if one exists,
// stamping the exit time, reason, and computed dwell duration. It reports
// whether a row was closed; retried batches that already closed the row
// observe false and move on.
func (s *Store) CloseOpenStageFact(ctx context.Context, aggregateID string, exitedAt time.Time, exitReason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return false, fmt.Errorf("stage fact aggregate id is required")
	}
	switch exitReason {
	case storage.ExitReasonProgressed, storage.ExitReasonCompleted, storage.ExitReasonSuperseded:
	default:
		return false, fmt.Errorf("unknown stage exit reason %q", exitReason)
	}

	exitMillis := toMillis(exitedAt)
	result, err := s.db.ExecContext(ctx, `
		UPDATE stage_facts
		SET exited_at = ?,
		    exit_reason = ?,
		    duration_ms = MAX(0, ? - entered_at)
		WHERE aggregate_id = ? AND exited_at IS NULL
	`, exitMillis, exitReason, exitMillis, aggregateID)
	if err != nil {
		return false, fmt.Errorf("close stage fact for %s: %w", aggregateID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close stage fact for %s: rows affected: %w", aggregateID, err)
	}
	return affected == 1, nil
}

// GetOpenStageFact returns the aggregate's open interval, if any.
func (s *Store) GetOpenStageFact(ctx context.Context, aggregateID string) (storage.StageFactRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.StageFactRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+stageFactColumns+`
		FROM stage_facts
		WHERE aggregate_id = ? AND exited_at IS NULL
	`, strings.TrimSpace(aggregateID))

	rec, err := scanStageFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StageFactRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StageFactRecord{}, fmt.Errorf("get open stage fact for %s: %w", aggregateID, err)
	}
	return rec, nil
}

// ListStageFacts returns every interval recorded for an aggregate, oldest first.
func (s *Store) ListStageFacts(ctx context.Context, aggregateID string) ([]storage.StageFactRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stageFactColumns+`
		FROM stage_facts
		WHERE aggregate_id = ?
		ORDER BY entered_at ASC, id ASC
	`, strings.TrimSpace(aggregateID))
	if err != nil {
		return nil, fmt.Errorf("list stage facts for %s: %w", aggregateID, err)
	}
	defer rows.Close()

	var records []storage.StageFactRecord
	for rows.Next() {
		rec, err := scanStageFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage fact row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage fact rows: %w", err)
	}
	return records, nil
}

// CountStageOccupancy recomputes per-stage membership for a process by
// counting fact rows. Totals count distinct engagements that ever entered the
// stage in the process; active counts those whose interval is still open.
func (s *Store) CountStageOccupancy(ctx context.Context, processID string) ([]storage.StageCountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	processID = strings.TrimSpace(processID)
	if processID == "" {
		return nil, fmt.Errorf("process id is required")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage_id,
		       COUNT(DISTINCT aggregate_id) AS total_count,
		       COUNT(DISTINCT CASE WHEN exited_at IS NULL THEN aggregate_id END) AS active_count
		FROM stage_facts
		WHERE process_id = ?
		GROUP BY stage_id
		ORDER BY stage_id ASC
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("count stage occupancy for %s: %w", processID, err)
	}
	defer rows.Close()

	var records []storage.StageCountRecord
	for rows.Next() {
		rec := storage.StageCountRecord{ProcessID: processID}
		if err := rows.Scan(&rec.StageID, &rec.TotalCount, &rec.ActiveCount); err != nil {
			return nil, fmt.Errorf("scan stage occupancy row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage occupancy rows: %w", err)
	}
	return records, nil
}

func scanStageFact(row rowScanner) (storage.StageFactRecord, error) {
	var (
		rec       storage.StageFactRecord
		enteredAt int64
		exitedAt  sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.AggregateID, &rec.ProcessID, &rec.StageID, &rec.StageName,
		&enteredAt, &exitedAt, &rec.ExitReason, &rec.DurationMS,
	)
	if err != nil {
		return storage.StageFactRecord{}, err
	}
	rec.EnteredAt = fromMillis(enteredAt)
	rec.ExitedAt = fromNullMillis(exitedAt)
	return rec, nil
}
