package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/storage"
)

// PutStageCount upserts one (process, stage) membership row.
func (s *Store) PutStageCount(ctx context.Context, rec storage.StageCountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.ProcessID = strings.TrimSpace(rec.ProcessID)
	rec.StageID = strings.TrimSpace(rec.StageID)
	if rec.ProcessID == "" || rec.StageID == "" {
		return fmt.Errorf("stage count requires process and stage ids")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_counts (process_id, stage_id, total_count, active_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(process_id, stage_id) DO UPDATE SET
			total_count = excluded.total_count,
			active_count = excluded.active_count,
			updated_at = excluded.updated_at
	`, rec.ProcessID, rec.StageID, rec.TotalCount, rec.ActiveCount, toMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert stage count %s/%s: %w", rec.ProcessID, rec.StageID, err)
	}
	return nil
}

// GetStageCount returns the membership row for one (process, stage) pair.
func (s *Store) GetStageCount(ctx context.Context, processID, stageID string) (storage.StageCountRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.StageCountRecord{}, err
	}

	var (
		rec       storage.StageCountRecord
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT process_id, stage_id, total_count, active_count, updated_at
		FROM stage_counts
		WHERE process_id = ? AND stage_id = ?
	`, strings.TrimSpace(processID), strings.TrimSpace(stageID)).Scan(
		&rec.ProcessID, &rec.StageID, &rec.TotalCount, &rec.ActiveCount, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StageCountRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StageCountRecord{}, fmt.Errorf("get stage count %s/%s: %w", processID, stageID, err)
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// ListStageCounts returns every membership row for a process ordered by stage.
func (s *Store) ListStageCounts(ctx context.Context, processID string) ([]storage.StageCountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, stage_id, total_count, active_count, updated_at
		FROM stage_counts
		WHERE process_id = ?
		ORDER BY stage_id ASC
	`, strings.TrimSpace(processID))
	if err != nil {
		return nil, fmt.Errorf("list stage counts for %s: %w", processID, err)
	}
	defer rows.Close()

	var records []storage.StageCountRecord
	for rows.Next() {
		var (
			rec       storage.StageCountRecord
			updatedAt int64
		)
		if err := rows.Scan(&rec.ProcessID, &rec.StageID, &rec.TotalCount, &rec.ActiveCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan stage count row: %w", err)
		}
		rec.UpdatedAt = fromMillis(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage count rows: %w", err)
	}
	return records, nil
}
