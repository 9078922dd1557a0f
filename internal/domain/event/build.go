package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Actor identifies who is issuing a command.
type Actor struct {
	Type ActorType
	ID   string
}

// SystemActor is the actor for events the system emits on its own behalf.
var SystemActor = Actor{Type: ActorTypeSystem}

// UserActor returns an actor for the given user id.
func UserActor(id string) Actor {
	return Actor{Type: ActorTypeUser, ID: id}
}

// IntegrationActor returns an actor for the given external integration id.
func IntegrationActor(id string) Actor {
	return Actor{Type: ActorTypeIntegration, ID: id}
}

func build(aggregateID string, aggregate AggregateType, t Type, payload any, actor Actor, occurredAt time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregate,
		Type:          t,
		ActorType:     actor.Type,
		ActorID:       actor.ID,
		OccurredAt:    occurredAt.UTC(),
		PayloadJSON:   raw,
	}, nil
}

// NewProcessSet builds an engagement.process_set event.
func NewProcessSet(aggregateID string, payload ProcessSetPayload, actor Actor, occurredAt time.Time) (Event, error) {
	return build(aggregateID, AggregateEngagement, TypeProcessSet, payload, actor, occurredAt)
}

// NewStageSet builds an engagement.stage_set event.
func NewStageSet(aggregateID string, payload StageSetPayload, actor Actor, occurredAt time.Time) (Event, error) {
	return build(aggregateID, AggregateEngagement, TypeStageSet, payload, actor, occurredAt)
}

// NewProcessCompleted builds an engagement.process_completed event.
func NewProcessCompleted(aggregateID string, payload ProcessCompletedPayload, actor Actor, occurredAt time.Time) (Event, error) {
	return build(aggregateID, AggregateEngagement, TypeProcessCompleted, payload, actor, occurredAt)
}

// NewThresholdsUpdated builds a config.thresholds_updated event.
func NewThresholdsUpdated(aggregateID string, payload ThresholdsUpdatedPayload, actor Actor, occurredAt time.Time) (Event, error) {
	return build(aggregateID, AggregateConfig, TypeThresholdsUpdated, payload, actor, occurredAt)
}
