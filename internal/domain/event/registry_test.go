package event

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

func TestCoreRegistryCoversAllTypes(t *testing.T) {
	registry := MustCoreRegistry()

	for _, typ := range []Type{TypeProcessSet, TypeStageSet, TypeProcessCompleted, TypeThresholdsUpdated} {
		def, ok := registry.Definition(typ)
		if !ok {
			t.Fatalf("expected %s to be registered", typ)
		}
		if def.NewPayload == nil {
			t.Fatalf("expected %s to carry a payload prototype", typ)
		}
	}
	if len(registry.Types()) != 4 {
		t.Fatalf("expected 4 registered types, got %d", len(registry.Types()))
	}
}

func TestValidateForAppendRejectsUnknownType(t *testing.T) {
	registry := MustCoreRegistry()

	_, err := registry.ValidateForAppend(Event{
		AggregateID: "acme-crm",
		Type:        Type("engagement.renamed"),
		ActorType:   ActorTypeSystem,
		PayloadJSON: []byte("{}"),
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventTypeUnknown, "")) {
		t.Fatalf("expected EVENT_TYPE_UNKNOWN, got %v", err)
	}
}

func TestValidateForAppendRejectsMalformedPayload(t *testing.T) {
	registry := MustCoreRegistry()

	_, err := registry.ValidateForAppend(Event{
		AggregateID: "acme-crm",
		Type:        TypeStageSet,
		ActorType:   ActorTypeSystem,
		PayloadJSON: []byte(`{"to_stage_id":`),
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventPayloadInvalid, "")) {
		t.Fatalf("expected EVENT_PAYLOAD_INVALID, got %v", err)
	}
}

func TestValidateForAppendRequiresActorID(t *testing.T) {
	registry := MustCoreRegistry()

	evt, err := NewStageSet("acme-crm", StageSetPayload{
		FromStageID: "lead",
		ToStageID:   "qualified",
		ToStageName: "Qualified",
	}, Actor{Type: ActorTypeUser}, time.Time{})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	_, err = registry.ValidateForAppend(evt)
	if !errors.Is(err, apperrors.New(apperrors.CodeEventActorInvalid, "")) {
		t.Fatalf("expected EVENT_ACTOR_INVALID, got %v", err)
	}

	evt.ActorID = "u-42"
	if _, err := registry.ValidateForAppend(evt); err != nil {
		t.Fatalf("valid user event rejected: %v", err)
	}
}

func TestValidateForAppendNormalizesAggregateType(t *testing.T) {
	registry := MustCoreRegistry()

	evt, err := NewThresholdsUpdated("proc-enterprise", ThresholdsUpdatedPayload{
		ProcessID: "enterprise-sales",
		Thresholds: []StageThreshold{
			{StageID: "lead", WarnAfter: 48 * time.Hour},
		},
	}, SystemActor, time.Time{})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	evt.AggregateType = ""

	validated, err := registry.ValidateForAppend(evt)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.AggregateType != AggregateConfig {
		t.Fatalf("expected aggregate type config, got %s", validated.AggregateType)
	}
}

func TestTypeDomain(t *testing.T) {
	if TypeProcessSet.Domain() != "engagement" {
		t.Fatalf("expected engagement domain, got %s", TypeProcessSet.Domain())
	}
	if TypeThresholdsUpdated.Domain() != "config" {
		t.Fatalf("expected config domain, got %s", TypeThresholdsUpdated.Domain())
	}
}
