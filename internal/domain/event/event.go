// Package event defines the immutable events recorded in the meridian journal.
package event

import (
	"strings"
	"time"
)

// Type identifies the type of a journal event.
type Type string

// Engagement lifecycle events.
const (
	// TypeProcessSet records an engagement being placed on a lifecycle process.
	TypeProcessSet Type = "engagement.process_set"
	// TypeStageSet records an engagement moving between stages of its process.
	TypeStageSet Type = "engagement.stage_set"
	// TypeProcessCompleted records an engagement finishing its process.
	TypeProcessCompleted Type = "engagement.process_completed"
)

// Configuration events.
const (
	// TypeThresholdsUpdated records a change to per-stage duration thresholds.
	TypeThresholdsUpdated Type = "config.thresholds_updated"
)

// AggregateType discriminates which projection family applies to an event.
type AggregateType string

const (
	// AggregateEngagement is a company-product lifecycle aggregate.
	AggregateEngagement AggregateType = "engagement"
	// AggregateConfig is a process-configuration aggregate.
	AggregateConfig AggregateType = "config"
)

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the system.
	ActorTypeSystem ActorType = "system"
	// ActorTypeUser indicates the event was triggered by a user.
	ActorTypeUser ActorType = "user"
	// ActorTypeIntegration indicates the event was triggered by an external integration.
	ActorTypeIntegration ActorType = "integration"
)

// Event represents an immutable event in the append-only journal.
type Event struct {
	// AggregateID is the entity this event belongs to.
	AggregateID string
	// AggregateType discriminates which projection family applies.
	AggregateType AggregateType
	// Sequence is the global position in the journal (starts at 1).
	// Assigned by storage on append; defines total replay order.
	Sequence uint64
	// Version is the per-aggregate position (starts at 1). Assigned by
	// storage on append and used for optimistic concurrency.
	Version uint64
	// Type identifies the kind of event.
	Type Type
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the user or integration id when the actor is not the system.
	ActorID string
	// OccurredAt is the event time, which may precede append time.
	OccurredAt time.Time
	// RecordedAt is when storage durably appended the event.
	RecordedAt time.Time
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "engagement", "config").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// IsValid reports whether the actor type is one of the known variants.
func (a ActorType) IsValid() bool {
	switch a {
	case ActorTypeSystem, ActorTypeUser, ActorTypeIntegration:
		return true
	default:
		return false
	}
}
