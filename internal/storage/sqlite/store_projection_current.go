package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/storage"
)

const engagementColumns = `aggregate_id, process_id, process_name, stage_id, stage_name,
	transition_count, outcome, process_started_at, entered_stage_at, process_completed_at, updated_at`

// PutEngagement upserts the current-state row for one engagement.
func (s *Store) PutEngagement(ctx context.Context, rec storage.EngagementRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.AggregateID = strings.TrimSpace(rec.AggregateID)
	if rec.AggregateID == "" {
		return fmt.Errorf("engagement aggregate id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_current (`+engagementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(aggregate_id) DO UPDATE SET
			process_id = excluded.process_id,
			process_name = excluded.process_name,
			stage_id = excluded.stage_id,
			stage_name = excluded.stage_name,
			transition_count = excluded.transition_count,
			outcome = excluded.outcome,
			process_started_at = excluded.process_started_at,
			entered_stage_at = excluded.entered_stage_at,
			process_completed_at = excluded.process_completed_at,
			updated_at = excluded.updated_at
	`,
		rec.AggregateID, rec.ProcessID, rec.ProcessName, rec.StageID, rec.StageName,
		rec.TransitionCount, rec.Outcome,
		toMillis(rec.ProcessStartedAt), toMillis(rec.EnteredStageAt),
		toNullMillis(rec.ProcessCompletedAt), toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert engagement %s: %w", rec.AggregateID, err)
	}
	return nil
}

// GetEngagement returns the current-state row for one engagement.
func (s *Store) GetEngagement(ctx context.Context, aggregateID string) (storage.EngagementRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EngagementRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+engagementColumns+`
		FROM engagement_current
		WHERE aggregate_id = ?
	`, strings.TrimSpace(aggregateID))

	rec, err := scanEngagement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.EngagementRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.EngagementRecord{}, fmt.Errorf("get engagement %s: %w", aggregateID, err)
	}
	return rec, nil
}

// ListEngagements returns current-state rows ordered by most recent update.
func (s *Store) ListEngagements(ctx context.Context, limit int) ([]storage.EngagementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+engagementColumns+`
		FROM engagement_current
		ORDER BY updated_at DESC, aggregate_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list engagements: %w", err)
	}
	defer rows.Close()

	var records []storage.EngagementRecord
	for rows.Next() {
		rec, err := scanEngagement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan engagement row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engagement rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngagement(row rowScanner) (storage.EngagementRecord, error) {
	var (
		rec         storage.EngagementRecord
		startedAt   int64
		enteredAt   int64
		completedAt sql.NullInt64
		updatedAt   int64
	)
	err := row.Scan(
		&rec.AggregateID, &rec.ProcessID, &rec.ProcessName, &rec.StageID, &rec.StageName,
		&rec.TransitionCount, &rec.Outcome, &startedAt, &enteredAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return storage.EngagementRecord{}, err
	}
	rec.ProcessStartedAt = fromMillis(startedAt)
	rec.EnteredStageAt = fromMillis(enteredAt)
	rec.ProcessCompletedAt = fromNullMillis(completedAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}
