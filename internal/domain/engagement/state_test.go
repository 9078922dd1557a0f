package engagement

import (
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/domain/event"
)

func enterpriseStages() []event.StageRef {
	return []event.StageRef{
		{ID: "lead", Name: "Lead", Order: 1},
		{ID: "qualified", Name: "Qualified", Order: 2},
		{ID: "negotiation", Name: "Negotiation", Order: 3},
	}
}

func foldHistory(t *testing.T, events []event.Event) State {
	t.Helper()
	state := State{}
	var err error
	for _, evt := range events {
		state, err = Reduce(state, evt)
		if err != nil {
			t.Fatalf("reduce %s: %v", evt.Type, err)
		}
	}
	return state
}

func testHistory(t *testing.T) []event.Event {
	t.Helper()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	processSet, err := event.NewProcessSet("acme-crm", event.ProcessSetPayload{
		ProcessID:      "enterprise-sales",
		ProcessName:    "Enterprise Sales",
		Stages:         enterpriseStages(),
		InitialStageID: "lead",
	}, event.SystemActor, base)
	if err != nil {
		t.Fatalf("build process_set: %v", err)
	}
	processSet.Version = 1

	stageSet, err := event.NewStageSet("acme-crm", event.StageSetPayload{
		FromStageID: "lead",
		ToStageID:   "qualified",
		ToStageName: "Qualified",
	}, event.UserActor("u-7"), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("build stage_set: %v", err)
	}
	stageSet.Version = 2

	completed, err := event.NewProcessCompleted("acme-crm", event.ProcessCompletedPayload{
		Outcome:      event.OutcomeWon,
		FinalStageID: "qualified",
	}, event.UserActor("u-7"), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("build process_completed: %v", err)
	}
	completed.Version = 3

	return []event.Event{processSet, stageSet, completed}
}

func TestReduceFoldsLifecycle(t *testing.T) {
	history := testHistory(t)
	state := foldHistory(t, history[:2])

	if state.ProcessID != "enterprise-sales" {
		t.Fatalf("expected process id, got %q", state.ProcessID)
	}
	if state.CurrentStageID != "qualified" || state.CurrentStageName != "Qualified" {
		t.Fatalf("expected current stage qualified, got %s/%s", state.CurrentStageID, state.CurrentStageName)
	}
	if state.TransitionCount != 2 {
		t.Fatalf("expected 2 transitions, got %d", state.TransitionCount)
	}
	if state.Completed {
		t.Fatal("engagement should not be completed yet")
	}
	if !state.StageInProcess("negotiation") {
		t.Fatal("expected negotiation to belong to the process")
	}
	if state.StageInProcess("renewal") {
		t.Fatal("unexpected stage in process")
	}
	if state.Version != 2 {
		t.Fatalf("expected version 2, got %d", state.Version)
	}
}

func TestReduceCompletion(t *testing.T) {
	state := foldHistory(t, testHistory(t))

	if !state.Completed {
		t.Fatal("expected completed state")
	}
	if state.Outcome != event.OutcomeWon {
		t.Fatalf("expected won outcome, got %s", state.Outcome)
	}
	if state.ProcessCompletedAt.IsZero() {
		t.Fatal("expected completion timestamp")
	}
	if state.Version != 3 {
		t.Fatalf("expected version 3, got %d", state.Version)
	}
}

func TestReduceIsDeterministic(t *testing.T) {
	history := testHistory(t)

	first := foldHistory(t, history)
	second := foldHistory(t, history)

	if first.CurrentStageID != second.CurrentStageID ||
		first.TransitionCount != second.TransitionCount ||
		first.Outcome != second.Outcome ||
		first.Version != second.Version ||
		!first.EnteredStageAt.Equal(second.EnteredStageAt) {
		t.Fatalf("replay diverged: %+v vs %+v", first, second)
	}
}

func TestReduceNewProcessResetsCycle(t *testing.T) {
	history := testHistory(t)
	state := foldHistory(t, history)

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	renewal, err := event.NewProcessSet("acme-crm", event.ProcessSetPayload{
		ProcessID:      "renewal",
		ProcessName:    "Renewal",
		Stages:         []event.StageRef{{ID: "kickoff", Name: "Kickoff", Order: 1}},
		InitialStageID: "kickoff",
	}, event.SystemActor, base)
	if err != nil {
		t.Fatalf("build renewal process_set: %v", err)
	}
	renewal.Version = 4

	state, err = Reduce(state, renewal)
	if err != nil {
		t.Fatalf("reduce renewal: %v", err)
	}
	if state.Completed {
		t.Fatal("new process should clear completion")
	}
	if state.CurrentStageID != "kickoff" {
		t.Fatalf("expected kickoff stage, got %s", state.CurrentStageID)
	}
	if state.TransitionCount != 1 {
		t.Fatalf("expected transition count reset to 1, got %d", state.TransitionCount)
	}
}
