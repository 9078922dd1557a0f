package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

// AppendEvent atomically appends an event under an optimistic-concurrency
// check and returns it with its global sequence and aggregate version set.
//
// The version check and the insert commit in one transaction, so an append
// either lands in full or not at all. A losing writer receives
// storage.ErrConcurrencyConflict and must re-read state before retrying.
func (s *Store) AppendEvent(ctx context.Context, expectedVersion uint64, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if s.registry == nil {
		return event.Event{}, fmt.Errorf("event registry is required")
	}

	validated, err := s.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = validated

	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	evt.OccurredAt = evt.OccurredAt.UTC().Truncate(time.Millisecond)
	evt.RecordedAt = time.Now().UTC().Truncate(time.Millisecond)

	// The version read and insert run in one deferred transaction, so a lock
	// upgrade against a concurrent writer can fail fast with SQLITE_BUSY.
	// Retrying re-reads the version, which turns lock churn into either a win
	// or an honest concurrency conflict.
	for attempt := 0; ; attempt++ {
		stored, err := s.appendEventOnce(ctx, expectedVersion, evt)
		if err != nil && isSQLiteBusyError(err) && attempt < maxBusyRetries {
			if waitErr := waitForRetry(ctx, attempt); waitErr != nil {
				return event.Event{}, waitErr
			}
			continue
		}
		return stored, err
	}
}

func (s *Store) appendEventOnce(ctx context.Context, expectedVersion uint64, evt event.Event) (event.Event, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentVersion uint64
	row := tx.QueryRowContext(ctx,
		"SELECT current_version FROM aggregate_versions WHERE aggregate_id = ?",
		evt.AggregateID,
	)
	switch err := row.Scan(&currentVersion); {
	case errors.Is(err, sql.ErrNoRows):
		currentVersion = 0
	case err != nil:
		return event.Event{}, fmt.Errorf("read aggregate version: %w", err)
	}

	if currentVersion != expectedVersion {
		return event.Event{}, storage.ErrConcurrencyConflict
	}
	evt.Version = currentVersion + 1

	result, err := tx.ExecContext(ctx,
		`INSERT INTO events (
		    aggregate_id, aggregate_type, version, event_type,
		    actor_type, actor_id, occurred_at, recorded_at, payload_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.AggregateID,
		string(evt.AggregateType),
		int64(evt.Version),
		string(evt.Type),
		string(evt.ActorType),
		evt.ActorID,
		toMillis(evt.OccurredAt),
		toMillis(evt.RecordedAt),
		evt.PayloadJSON,
	)
	if err != nil {
		if isConstraintError(err) {
			return event.Event{}, storage.ErrConcurrencyConflict
		}
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	sequence, err := result.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("read event sequence: %w", err)
	}
	evt.Sequence = uint64(sequence)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aggregate_versions (aggregate_id, aggregate_type, current_version)
		 VALUES (?, ?, ?)
		 ON CONFLICT (aggregate_id) DO UPDATE SET current_version = excluded.current_version
		 WHERE aggregate_versions.current_version = ?`,
		evt.AggregateID,
		string(evt.AggregateType),
		int64(evt.Version),
		int64(currentVersion),
	); err != nil {
		return event.Event{}, fmt.Errorf("advance aggregate version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit: %w", err)
	}

	return evt, nil
}

const eventColumns = "sequence, aggregate_id, aggregate_type, version, event_type, actor_type, actor_id, occurred_at, recorded_at, payload_json"

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			evt        event.Event
			sequence   int64
			version    int64
			occurredAt int64
			recordedAt int64
		)
		if err := rows.Scan(
			&sequence,
			&evt.AggregateID,
			(*string)(&evt.AggregateType),
			&version,
			(*string)(&evt.Type),
			(*string)(&evt.ActorType),
			&evt.ActorID,
			&occurredAt,
			&recordedAt,
			&evt.PayloadJSON,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Sequence = uint64(sequence)
		evt.Version = uint64(version)
		evt.OccurredAt = fromMillis(occurredAt)
		evt.RecordedAt = fromMillis(recordedAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ReadEvents returns an aggregate's events ordered by version ascending.
func (s *Store) ReadEvents(ctx context.Context, aggregateID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE aggregate_id = ? AND version > ? ORDER BY version ASC LIMIT ?",
		aggregateID,
		int64(afterVersion),
		int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return scanEvents(rows)
}

// ReadAllEvents returns journal events ordered by global sequence ascending.
func (s *Store) ReadAllEvents(ctx context.Context, afterSequence uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?",
		int64(afterSequence),
		int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("read all events: %w", err)
	}
	return scanEvents(rows)
}

// LatestSequence returns the highest assigned global sequence, 0 when empty.
func (s *Store) LatestSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var sequence sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(sequence) FROM events").Scan(&sequence); err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	if !sequence.Valid {
		return 0, nil
	}
	return uint64(sequence.Int64), nil
}

// AggregateVersion returns the aggregate's current version, 0 when it has no events.
func (s *Store) AggregateVersion(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return 0, fmt.Errorf("aggregate id is required")
	}

	var version int64
	row := s.db.QueryRowContext(ctx,
		"SELECT current_version FROM aggregate_versions WHERE aggregate_id = ?",
		aggregateID,
	)
	switch err := row.Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read aggregate version: %w", err)
	}
	return uint64(version), nil
}
