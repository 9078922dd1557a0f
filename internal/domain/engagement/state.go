// Package engagement reconstructs engagement aggregate state from its event history.
package engagement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/internal/domain/event"
)

// Stage is one stage of the aggregate's current process.
type Stage struct {
	ID    string
	Name  string
	Order int
}

// State is the fold of an engagement's ordered event history.
//
// Reduce is deterministic: the same history always produces the same state,
// which is what makes command validation and replay agree.
type State struct {
	AggregateID string
	// Version is the version of the last event folded in.
	Version uint64

	ProcessID   string
	ProcessName string
	// Stages holds the current process's stages keyed by stage id.
	Stages map[string]Stage

	CurrentStageID   string
	CurrentStageName string
	// TransitionCount counts process_set and stage_set events for the
	// current process cycle.
	TransitionCount int

	Completed bool
	Outcome   event.Outcome

	ProcessStartedAt   time.Time
	EnteredStageAt     time.Time
	ProcessCompletedAt time.Time
}

// HasProcess reports whether the engagement is on a process.
func (s State) HasProcess() bool {
	return s.ProcessID != ""
}

// StageInProcess reports whether the stage id belongs to the current process.
func (s State) StageInProcess(stageID string) bool {
	_, ok := s.Stages[stageID]
	return ok
}

// Reduce folds one event into the state. Events must be applied in
// increasing version order.
func Reduce(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypeProcessSet:
		var payload event.ProcessSetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		stages := make(map[string]Stage, len(payload.Stages))
		var initial Stage
		for _, ref := range payload.Stages {
			stage := Stage{ID: ref.ID, Name: ref.Name, Order: ref.Order}
			stages[ref.ID] = stage
			if ref.ID == payload.InitialStageID {
				initial = stage
			}
		}
		state.ProcessID = payload.ProcessID
		state.ProcessName = payload.ProcessName
		state.Stages = stages
		state.CurrentStageID = initial.ID
		state.CurrentStageName = initial.Name
		state.TransitionCount = 1
		state.Completed = false
		state.Outcome = ""
		state.ProcessStartedAt = evt.OccurredAt
		state.EnteredStageAt = evt.OccurredAt
		state.ProcessCompletedAt = time.Time{}

	case event.TypeStageSet:
		var payload event.StageSetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		state.CurrentStageID = payload.ToStageID
		state.CurrentStageName = payload.ToStageName
		if stage, ok := state.Stages[payload.ToStageID]; ok {
			state.CurrentStageName = stage.Name
		}
		state.TransitionCount++
		state.EnteredStageAt = evt.OccurredAt

	case event.TypeProcessCompleted:
		var payload event.ProcessCompletedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		state.Completed = true
		state.Outcome = payload.Outcome
		state.ProcessCompletedAt = evt.OccurredAt

	default:
		// Events outside the engagement family leave the fold untouched.
	}

	state.AggregateID = evt.AggregateID
	state.Version = evt.Version
	return state, nil
}
