package command

import (
	"errors"
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/domain/engagement"
	"github.com/meridianhq/meridian/internal/domain/event"
	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

func activeState(t *testing.T) engagement.State {
	t.Helper()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	processSet, err := event.NewProcessSet("acme-crm", event.ProcessSetPayload{
		ProcessID:   "enterprise-sales",
		ProcessName: "Enterprise Sales",
		Stages: []event.StageRef{
			{ID: "lead", Name: "Lead", Order: 1},
			{ID: "qualified", Name: "Qualified", Order: 2},
		},
		InitialStageID: "lead",
	}, event.SystemActor, base)
	if err != nil {
		t.Fatalf("build process_set: %v", err)
	}
	processSet.Version = 1

	state, err := engagement.Reduce(engagement.State{AggregateID: "acme-crm"}, processSet)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	return state
}

func expectRejection(t *testing.T, decision Decision, code apperrors.Code) {
	t.Helper()
	if decision.Accepted() {
		t.Fatalf("expected rejection %s, got events %v", code, decision.Events)
	}
	if !errors.Is(decision.Err(), apperrors.New(code, "")) {
		t.Fatalf("expected code %s, got %v", code, decision.Err())
	}
}

func TestSetProcessRejectsEmptyStages(t *testing.T) {
	decision := SetProcess(engagement.State{AggregateID: "acme-crm"}, SetProcessInput{
		ProcessID: "enterprise-sales",
		Actor:     event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeProcessStagesEmpty)
}

func TestSetProcessRejectsDuplicateStages(t *testing.T) {
	decision := SetProcess(engagement.State{AggregateID: "acme-crm"}, SetProcessInput{
		ProcessID: "enterprise-sales",
		Stages: []event.StageRef{
			{ID: "lead", Name: "Lead", Order: 1},
			{ID: "lead", Name: "Lead Again", Order: 2},
		},
		InitialStageID: "lead",
		Actor:          event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeProcessStageDuplicated)
}

func TestSetProcessRejectsForeignInitialStage(t *testing.T) {
	decision := SetProcess(engagement.State{AggregateID: "acme-crm"}, SetProcessInput{
		ProcessID:      "enterprise-sales",
		Stages:         []event.StageRef{{ID: "lead", Name: "Lead", Order: 1}},
		InitialStageID: "qualified",
		Actor:          event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeProcessInitialStage)
}

func TestSetProcessAcceptsSingleEvent(t *testing.T) {
	decision := SetProcess(engagement.State{AggregateID: "acme-crm"}, SetProcessInput{
		ProcessID:      "enterprise-sales",
		ProcessName:    "Enterprise Sales",
		Stages:         []event.StageRef{{ID: "lead", Name: "Lead", Order: 1}},
		InitialStageID: "lead",
		Actor:          event.UserActor("u-7"),
	})
	if !decision.Accepted() {
		t.Fatalf("expected acceptance, got %v", decision.Err())
	}
	if len(decision.Events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(decision.Events))
	}
	if decision.Events[0].Type != event.TypeProcessSet {
		t.Fatalf("expected process_set, got %s", decision.Events[0].Type)
	}
}

func TestSetStageRejectsWithoutProcess(t *testing.T) {
	decision := SetStage(engagement.State{AggregateID: "acme-crm"}, SetStageInput{
		ToStageID: "qualified",
		Actor:     event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeProcessNotSet)
}

func TestSetStageRejectsForeignStage(t *testing.T) {
	decision := SetStage(activeState(t), SetStageInput{
		ToStageID: "renewal-kickoff",
		Actor:     event.UserActor("u-7"),
	})
	expectRejection(t, decision, apperrors.CodeStageNotInProcess)
}

func TestSetStageRejectsSelfTransition(t *testing.T) {
	decision := SetStage(activeState(t), SetStageInput{
		ToStageID: "lead",
		Actor:     event.UserActor("u-7"),
	})
	expectRejection(t, decision, apperrors.CodeStageUnchanged)
}

func TestSetStageAcceptsKnownStage(t *testing.T) {
	decision := SetStage(activeState(t), SetStageInput{
		ToStageID: "qualified",
		Actor:     event.UserActor("u-7"),
	})
	if !decision.Accepted() {
		t.Fatalf("expected acceptance, got %v", decision.Err())
	}
	if decision.Events[0].Type != event.TypeStageSet {
		t.Fatalf("expected stage_set, got %s", decision.Events[0].Type)
	}
}

func TestSetStageRejectsCompletedProcess(t *testing.T) {
	state := activeState(t)
	completed, err := event.NewProcessCompleted("acme-crm", event.ProcessCompletedPayload{
		Outcome:      event.OutcomeWon,
		FinalStageID: "lead",
	}, event.SystemActor, time.Now().UTC())
	if err != nil {
		t.Fatalf("build process_completed: %v", err)
	}
	completed.Version = 2
	state, err = engagement.Reduce(state, completed)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}

	decision := SetStage(state, SetStageInput{ToStageID: "qualified", Actor: event.SystemActor})
	expectRejection(t, decision, apperrors.CodeProcessCompleted)
}

func TestCompleteProcessValidatesOutcome(t *testing.T) {
	decision := CompleteProcess(activeState(t), CompleteProcessInput{
		Outcome: event.Outcome("ghosted"),
		Actor:   event.UserActor("u-7"),
	})
	expectRejection(t, decision, apperrors.CodeOutcomeInvalid)

	decision = CompleteProcess(activeState(t), CompleteProcessInput{
		Outcome: event.OutcomeLost,
		Actor:   event.UserActor("u-7"),
	})
	if !decision.Accepted() {
		t.Fatalf("expected acceptance, got %v", decision.Err())
	}
}

func TestCompleteProcessRejectsDoubleCompletion(t *testing.T) {
	decision := CompleteProcess(engagement.State{AggregateID: "acme-crm"}, CompleteProcessInput{
		Outcome: event.OutcomeWon,
		Actor:   event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeProcessNotSet)
}

func TestUpdateThresholdsValidation(t *testing.T) {
	decision := UpdateThresholds(UpdateThresholdsInput{
		AggregateID: "proc-enterprise",
		ProcessID:   "enterprise-sales",
		Actor:       event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeThresholdInvalid)

	decision = UpdateThresholds(UpdateThresholdsInput{
		AggregateID: "proc-enterprise",
		ProcessID:   "enterprise-sales",
		Thresholds:  []event.StageThreshold{{StageID: "lead", WarnAfter: -time.Hour}},
		Actor:       event.SystemActor,
	})
	expectRejection(t, decision, apperrors.CodeThresholdInvalid)

	decision = UpdateThresholds(UpdateThresholdsInput{
		AggregateID: "proc-enterprise",
		ProcessID:   "enterprise-sales",
		Thresholds:  []event.StageThreshold{{StageID: "lead", WarnAfter: 48 * time.Hour}},
		Actor:       event.SystemActor,
	})
	if !decision.Accepted() {
		t.Fatalf("expected acceptance, got %v", decision.Err())
	}
	if decision.Events[0].AggregateType != event.AggregateConfig {
		t.Fatalf("expected config aggregate, got %s", decision.Events[0].AggregateType)
	}
}
