package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/storage"
)

// GetCheckpoint returns the projector's checkpoint, creating it at the origin
// on first use.
func (s *Store) GetCheckpoint(ctx context.Context, projector string) (storage.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return storage.Checkpoint{}, err
	}
	if s == nil || s.db == nil {
		return storage.Checkpoint{}, fmt.Errorf("storage is not configured")
	}
	projector = strings.TrimSpace(projector)
	if projector == "" {
		return storage.Checkpoint{}, fmt.Errorf("projector name is required")
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO projector_checkpoints (projector, last_sequence, updated_at) VALUES (?, 0, ?)",
		projector,
		toMillis(time.Now().UTC()),
	); err != nil {
		return storage.Checkpoint{}, fmt.Errorf("init checkpoint %s: %w", projector, err)
	}

	var (
		checkpoint storage.Checkpoint
		lastSeq    int64
		updatedAt  int64
	)
	row := s.db.QueryRowContext(ctx,
		"SELECT projector, last_sequence, updated_at FROM projector_checkpoints WHERE projector = ?",
		projector,
	)
	if err := row.Scan(&checkpoint.Projector, &lastSeq, &updatedAt); err != nil {
		return storage.Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", projector, err)
	}
	checkpoint.LastSequence = uint64(lastSeq)
	checkpoint.UpdatedAt = fromMillis(updatedAt)
	return checkpoint, nil
}

// ListCheckpoints returns all projector checkpoints ordered by projector name.
func (s *Store) ListCheckpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT projector, last_sequence, updated_at FROM projector_checkpoints ORDER BY projector",
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []storage.Checkpoint
	for rows.Next() {
		var (
			checkpoint storage.Checkpoint
			lastSeq    int64
			updatedAt  int64
		)
		if err := rows.Scan(&checkpoint.Projector, &lastSeq, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoint.LastSequence = uint64(lastSeq)
		checkpoint.UpdatedAt = fromMillis(updatedAt)
		checkpoints = append(checkpoints, checkpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return checkpoints, nil
}

// advanceCheckpoint moves a checkpoint from fromSequence to toSequence with a
// compare-and-set. Zero rows affected means another runner advanced first.
func advanceCheckpoint(ctx context.Context, db dbtx, projector string, fromSequence, toSequence uint64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE projector_checkpoints
		 SET last_sequence = ?, updated_at = ?
		 WHERE projector = ? AND last_sequence = ?`,
		int64(toSequence),
		toMillis(time.Now().UTC()),
		projector,
		int64(fromSequence),
	)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", projector, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance checkpoint %s rows affected: %w", projector, err)
	}
	if affected != 1 {
		return storage.ErrCheckpointConflict
	}
	return nil
}

func resetCheckpoint(ctx context.Context, db dbtx, projector string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO projector_checkpoints (projector, last_sequence, updated_at)
		 VALUES (?, 0, ?)
		 ON CONFLICT (projector) DO UPDATE SET last_sequence = 0, updated_at = excluded.updated_at`,
		projector,
		toMillis(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("reset checkpoint %s: %w", projector, err)
	}
	return nil
}
