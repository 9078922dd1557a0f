package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
	"github.com/meridianhq/meridian/internal/storage"
)

const (
	maxBusyRetries = 8
	retryBaseDelay = 10 * time.Millisecond
)

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * retryBaseDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ApplyProjectionBatch runs the apply callback against a transaction-bound
// projection surface, then advances the projector checkpoint from
// fromSequence to toSequence with a compare-and-set, committing both together.
//
// Any failure rolls the whole batch back, checkpoint included, so a retried
// batch re-applies from a clean slate. SQLITE_BUSY contention retries with a
// linear backoff before surfacing.
func (s *Store) ApplyProjectionBatch(
	ctx context.Context,
	projector string,
	fromSequence, toSequence uint64,
	apply func(context.Context, storage.Projections) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if apply == nil {
		return fmt.Errorf("projection apply callback is required")
	}
	projector = strings.TrimSpace(projector)
	if projector == "" {
		return fmt.Errorf("projector name is required")
	}
	if toSequence < fromSequence {
		return fmt.Errorf("batch bounds are inverted: %d..%d", fromSequence, toSequence)
	}

	var lastBusyErr error
	for attempt := 0; ; attempt++ {
		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			if isSQLiteBusyError(err) && attempt < maxBusyRetries {
				lastBusyErr = err
				if waitErr := waitForRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("begin projection batch tx: %w", err)
		}

		retry, err := func() (bool, error) {
			defer tx.Rollback()

			if err := apply(ctx, s.withTx(tx)); err != nil {
				// Callers wrap with the projector name and batch bounds.
				return false, apperrors.Wrap(apperrors.CodeProjectorApplyFailed, "apply batch", err)
			}

			if err := advanceCheckpoint(ctx, tx, projector, fromSequence, toSequence); err != nil {
				return false, err
			}

			if err := tx.Commit(); err != nil {
				if isSQLiteBusyError(err) {
					lastBusyErr = err
					return true, nil
				}
				return false, fmt.Errorf("commit projection batch: %w", err)
			}
			return false, nil
		}()
		if retry {
			if attempt < maxBusyRetries {
				if waitErr := waitForRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("projector %s batch %d..%d remained busy: %w", projector, fromSequence, toSequence, lastBusyErr)
		}
		return err
	}
}

// ResetProjection truncates the projector's owned tables and resets its
// checkpoint to the origin in one transaction. This is the rebuild entry
// point; the next incremental drain replays the journal from the beginning.
func (s *Store) ResetProjection(ctx context.Context, projector string, tables []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	projector = strings.TrimSpace(projector)
	if projector == "" {
		return fmt.Errorf("projector name is required")
	}
	if len(tables) == 0 {
		return fmt.Errorf("projector %s owns no tables", projector)
	}
	for _, table := range tables {
		if !isProjectionTableName(table) {
			return fmt.Errorf("refusing to truncate unknown table %q", table)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	if err := resetCheckpoint(ctx, tx, projector); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// isProjectionTableName restricts truncation to the derived tables this store
// migrates, keeping DELETE FROM out of reach of arbitrary identifiers.
func isProjectionTableName(table string) bool {
	switch table {
	case "engagement_current", "stage_facts", "stage_counts", "stage_thresholds":
		return true
	default:
		return false
	}
}
