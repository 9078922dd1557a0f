// Package storage defines the persistence contracts for the meridian core.
//
// The event journal is the only authoritative store; every other table is a
// projection owned by exactly one projector and reconstructable from the
// journal at any time.
package storage

import (
	"context"
	"time"

	"github.com/meridianhq/meridian/internal/domain/event"
	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConcurrencyConflict indicates an append lost the optimistic-concurrency
// race: another writer advanced the aggregate past the expected version.
// Callers recover by re-reading state, re-validating, and retrying.
var ErrConcurrencyConflict = apperrors.New(apperrors.CodeConcurrencyConflict, "aggregate version conflict")

// ErrCheckpointConflict indicates a concurrent runner advanced a projector
// checkpoint first; the losing batch must be discarded and re-drained.
var ErrCheckpointConflict = apperrors.New(apperrors.CodeCheckpointConflict, "projector checkpoint advanced concurrently")

// EventStore is the append-only journal of domain events.
type EventStore interface {
	// AppendEvent durably appends one event iff the aggregate's current
	// version equals expectedVersion, returning the stored event with its
	// global sequence and per-aggregate version assigned.
	AppendEvent(ctx context.Context, expectedVersion uint64, evt event.Event) (event.Event, error)
	// ReadEvents returns an aggregate's events ordered by version ascending.
	ReadEvents(ctx context.Context, aggregateID string, afterVersion uint64, limit int) ([]event.Event, error)
	// ReadAllEvents returns journal events ordered by global sequence ascending.
	ReadAllEvents(ctx context.Context, afterSequence uint64, limit int) ([]event.Event, error)
	// LatestSequence returns the highest assigned global sequence, 0 for an empty journal.
	LatestSequence(ctx context.Context) (uint64, error)
	// AggregateVersion returns the aggregate's current version, 0 when it has no events.
	AggregateVersion(ctx context.Context, aggregateID string) (uint64, error)
}

// Checkpoint records how far through the journal one projector has processed.
type Checkpoint struct {
	Projector    string
	LastSequence uint64
	UpdatedAt    time.Time
}

// EngagementRecord is the current-state read model row for one engagement.
type EngagementRecord struct {
	AggregateID        string
	ProcessID          string
	ProcessName        string
	StageID            string
	StageName          string
	TransitionCount    int
	Outcome            string
	ProcessStartedAt   time.Time
	EnteredStageAt     time.Time
	ProcessCompletedAt *time.Time
	UpdatedAt          time.Time
}

// StageFactRecord is one interval of stage occupancy for an engagement.
type StageFactRecord struct {
	ID          int64
	AggregateID string
	ProcessID   string
	StageID     string
	StageName   string
	EnteredAt   time.Time
	// ExitedAt is nil while the engagement still occupies the stage.
	ExitedAt   *time.Time
	ExitReason string
	DurationMS int64
}

// Exit reasons recorded when a stage fact closes.
const (
	// ExitReasonProgressed marks a move to another stage of the same process.
	ExitReasonProgressed = "progressed"
	// ExitReasonCompleted marks a close caused by process completion.
	ExitReasonCompleted = "completed"
	// ExitReasonSuperseded marks a close caused by the process being replaced.
	ExitReasonSuperseded = "superseded"
)

// StageCountRecord aggregates engagement membership per process stage.
type StageCountRecord struct {
	ProcessID   string
	StageID     string
	TotalCount  int
	ActiveCount int
	UpdatedAt   time.Time
}

// StageThresholdRecord is the configured dwell-time alert threshold for a stage.
type StageThresholdRecord struct {
	ProcessID   string
	StageID     string
	WarnAfterMS int64
	UpdatedAt   time.Time
}

// EngagementCurrentStore owns the engagement_current projection.
type EngagementCurrentStore interface {
	PutEngagement(ctx context.Context, rec EngagementRecord) error
	GetEngagement(ctx context.Context, aggregateID string) (EngagementRecord, error)
	ListEngagements(ctx context.Context, limit int) ([]EngagementRecord, error)
}

// StageFactStore owns the stage_facts projection.
type StageFactStore interface {
	OpenStageFact(ctx context.Context, rec StageFactRecord) error
	// CloseOpenStageFact closes the aggregate's open fact if one exists,
	// reporting whether a row was closed. Closing is conditional on the row
	// still being open so retried batches cannot double-close.
	CloseOpenStageFact(ctx context.Context, aggregateID string, exitedAt time.Time, exitReason string) (bool, error)
	GetOpenStageFact(ctx context.Context, aggregateID string) (StageFactRecord, error)
	ListStageFacts(ctx context.Context, aggregateID string) ([]StageFactRecord, error)
	// CountStageOccupancy recomputes total/active membership per stage of a
	// process by counting fact rows.
	CountStageOccupancy(ctx context.Context, processID string) ([]StageCountRecord, error)
}

// StageCountStore owns the stage_counts projection.
type StageCountStore interface {
	PutStageCount(ctx context.Context, rec StageCountRecord) error
	GetStageCount(ctx context.Context, processID, stageID string) (StageCountRecord, error)
	ListStageCounts(ctx context.Context, processID string) ([]StageCountRecord, error)
}

// StageThresholdStore owns the stage_thresholds projection.
type StageThresholdStore interface {
	PutStageThreshold(ctx context.Context, rec StageThresholdRecord) error
	GetStageThreshold(ctx context.Context, processID, stageID string) (StageThresholdRecord, error)
	ListStageThresholds(ctx context.Context, processID string) ([]StageThresholdRecord, error)
}

// Projections bundles every projection-write surface handed to projectors
// inside a batch transaction.
type Projections interface {
	EngagementCurrentStore
	StageFactStore
	StageCountStore
	StageThresholdStore
}

// ProjectionBackend is the transactional surface the projector runner drives.
type ProjectionBackend interface {
	EventStore
	// GetCheckpoint returns the projector's checkpoint, creating it at the
	// origin on first use.
	GetCheckpoint(ctx context.Context, projector string) (Checkpoint, error)
	// ListCheckpoints returns all projector checkpoints ordered by name.
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
	// ApplyProjectionBatch runs apply against a transaction-bound projection
	// surface, then advances the projector checkpoint from fromSequence to
	// toSequence with a compare-and-set. Any failure rolls the whole batch
	// back, checkpoint included.
	ApplyProjectionBatch(ctx context.Context, projector string, fromSequence, toSequence uint64, apply func(context.Context, Projections) error) error
	// ResetProjection truncates the projector's owned tables and resets its
	// checkpoint to the origin in one transaction.
	ResetProjection(ctx context.Context, projector string, tables []string) error
}
