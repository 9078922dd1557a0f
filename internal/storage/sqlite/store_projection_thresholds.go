package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/storage"
)

// PutStageThreshold upserts the dwell-time threshold for one (process, stage).
func (s *Store) PutStageThreshold(ctx context.Context, rec storage.StageThresholdRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.ProcessID = strings.TrimSpace(rec.ProcessID)
	rec.StageID = strings.TrimSpace(rec.StageID)
	if rec.ProcessID == "" || rec.StageID == "" {
		return fmt.Errorf("stage threshold requires process and stage ids")
	}
	if rec.WarnAfterMS <= 0 {
		return fmt.Errorf("stage threshold %s/%s requires a positive warn duration", rec.ProcessID, rec.StageID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_thresholds (process_id, stage_id, warn_after_ms, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(process_id, stage_id) DO UPDATE SET
			warn_after_ms = excluded.warn_after_ms,
			updated_at = excluded.updated_at
	`, rec.ProcessID, rec.StageID, rec.WarnAfterMS, toMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert stage threshold %s/%s: %w", rec.ProcessID, rec.StageID, err)
	}
	return nil
}

// GetStageThreshold returns the threshold row for one (process, stage) pair.
func (s *Store) GetStageThreshold(ctx context.Context, processID, stageID string) (storage.StageThresholdRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.StageThresholdRecord{}, err
	}

	var (
		rec       storage.StageThresholdRecord
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT process_id, stage_id, warn_after_ms, updated_at
		FROM stage_thresholds
		WHERE process_id = ? AND stage_id = ?
	`, strings.TrimSpace(processID), strings.TrimSpace(stageID)).Scan(
		&rec.ProcessID, &rec.StageID, &rec.WarnAfterMS, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StageThresholdRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StageThresholdRecord{}, fmt.Errorf("get stage threshold %s/%s: %w", processID, stageID, err)
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// ListStageThresholds returns every threshold for a process ordered by stage.
func (s *Store) ListStageThresholds(ctx context.Context, processID string) ([]storage.StageThresholdRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, stage_id, warn_after_ms, updated_at
		FROM stage_thresholds
		WHERE process_id = ?
		ORDER BY stage_id ASC
	`, strings.TrimSpace(processID))
	if err != nil {
		return nil, fmt.Errorf("list stage thresholds for %s: %w", processID, err)
	}
	defer rows.Close()

	var records []storage.StageThresholdRecord
	for rows.Next() {
		var (
			rec       storage.StageThresholdRecord
			updatedAt int64
		)
		if err := rows.Scan(&rec.ProcessID, &rec.StageID, &rec.WarnAfterMS, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan stage threshold row: %w", err)
		}
		rec.UpdatedAt = fromMillis(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage threshold rows: %w", err)
	}
	return records, nil
}
