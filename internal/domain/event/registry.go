package event

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

// Definition describes one registered event type and the payload shape it carries.
type Definition struct {
	// Type is the registered event type.
	Type Type
	// Aggregate is the aggregate family the event belongs to.
	Aggregate AggregateType
	// NewPayload returns a zero payload value of the fixed shape for this type.
	NewPayload func() any
}

// Registry holds the closed set of appendable event types.
//
// Payload shapes are fixed per type so a malformed payload is rejected at
// append time instead of surfacing as a missing field during projection.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return fmt.Errorf("registry is required")
	}
	if !def.Type.IsValid() {
		return fmt.Errorf("event type is required")
	}
	if def.Aggregate == "" {
		return fmt.Errorf("aggregate type is required for %s", def.Type)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("event type %s already registered", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the definition for an event type.
func (r *Registry) Definition(t Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[t]
	return def, ok
}

// Types returns all registered event types in unspecified order.
func (r *Registry) Types() []Type {
	if r == nil {
		return nil
	}
	types := make([]Type, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	return types
}

// ValidateForAppend checks an event against its registered definition and
// returns the normalized event ready for storage.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	if r == nil {
		return Event{}, fmt.Errorf("registry is required")
	}

	evt.AggregateID = strings.TrimSpace(evt.AggregateID)
	if evt.AggregateID == "" {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "aggregate id is required")
	}

	def, ok := r.definitions[evt.Type]
	if !ok {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventTypeUnknown,
			"event type is not registered",
			map[string]string{"event_type": string(evt.Type)})
	}

	if evt.AggregateType == "" {
		evt.AggregateType = def.Aggregate
	}
	if evt.AggregateType != def.Aggregate {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventPayloadInvalid,
			"event aggregate type does not match its definition",
			map[string]string{
				"event_type": string(evt.Type),
				"aggregate":  string(evt.AggregateType),
			})
	}

	if !evt.ActorType.IsValid() {
		return Event{}, apperrors.New(apperrors.CodeEventActorInvalid, "actor type is required")
	}
	if evt.ActorType != ActorTypeSystem && strings.TrimSpace(evt.ActorID) == "" {
		return Event{}, apperrors.New(apperrors.CodeEventActorInvalid, "actor id is required for non-system actors")
	}

	if def.NewPayload != nil {
		payload := def.NewPayload()
		if len(evt.PayloadJSON) == 0 {
			return Event{}, apperrors.WithMetadata(apperrors.CodeEventPayloadInvalid,
				"event payload is required",
				map[string]string{"event_type": string(evt.Type)})
		}
		if err := json.Unmarshal(evt.PayloadJSON, payload); err != nil {
			return Event{}, apperrors.Wrap(apperrors.CodeEventPayloadInvalid,
				fmt.Sprintf("decode %s payload", evt.Type), err)
		}
	}

	return evt, nil
}

// CoreRegistry returns the registry of event types the meridian core appends.
func CoreRegistry() (*Registry, error) {
	registry := NewRegistry()
	definitions := []Definition{
		{
			Type:       TypeProcessSet,
			Aggregate:  AggregateEngagement,
			NewPayload: func() any { return &ProcessSetPayload{} },
		},
		{
			Type:       TypeStageSet,
			Aggregate:  AggregateEngagement,
			NewPayload: func() any { return &StageSetPayload{} },
		},
		{
			Type:       TypeProcessCompleted,
			Aggregate:  AggregateEngagement,
			NewPayload: func() any { return &ProcessCompletedPayload{} },
		},
		{
			Type:       TypeThresholdsUpdated,
			Aggregate:  AggregateConfig,
			NewPayload: func() any { return &ThresholdsUpdatedPayload{} },
		},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// MustCoreRegistry returns the core registry or panics on a programming error.
func MustCoreRegistry() *Registry {
	registry, err := CoreRegistry()
	if err != nil {
		panic(err)
	}
	return registry
}
