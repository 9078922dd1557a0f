package command

import (
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/domain/engagement"
	"github.com/meridianhq/meridian/internal/domain/event"
	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

// SetProcessInput proposes placing an engagement on a lifecycle process.
type SetProcessInput struct {
	ProcessID      string
	ProcessName    string
	Stages         []event.StageRef
	InitialStageID string
	Actor          event.Actor
	OccurredAt     time.Time
}

// SetProcess validates the proposed process and decides the process_set event.
//
// Setting a process on an engagement that already has one supersedes the old
// cycle; the projectors close any open stage interval with reason "superseded".
func SetProcess(state engagement.State, input SetProcessInput) Decision {
	if len(input.Stages) == 0 {
		return Reject(Rejection{
			Code:    apperrors.CodeProcessStagesEmpty,
			Message: "a process requires at least one stage",
		})
	}
	seen := make(map[string]struct{}, len(input.Stages))
	for _, stage := range input.Stages {
		id := strings.TrimSpace(stage.ID)
		if id == "" {
			return Reject(Rejection{
				Code:    apperrors.CodeProcessStagesEmpty,
				Message: "stage ids must be non-empty",
			})
		}
		if _, dup := seen[id]; dup {
			return Reject(Rejection{
				Code:     apperrors.CodeProcessStageDuplicated,
				Message:  "stage ids must be unique within a process",
				Metadata: map[string]string{"stage_id": id},
			})
		}
		seen[id] = struct{}{}
	}
	if _, ok := seen[input.InitialStageID]; !ok {
		return Reject(Rejection{
			Code:    apperrors.CodeProcessInitialStage,
			Message: "initial stage must belong to the process",
			Metadata: map[string]string{
				"initial_stage_id": input.InitialStageID,
				"process_id":       input.ProcessID,
			},
		})
	}

	evt, err := event.NewProcessSet(state.AggregateID, event.ProcessSetPayload{
		ProcessID:      input.ProcessID,
		ProcessName:    input.ProcessName,
		Stages:         input.Stages,
		InitialStageID: input.InitialStageID,
	}, input.Actor, input.OccurredAt)
	if err != nil {
		return Reject(Rejection{Code: apperrors.CodeEventPayloadInvalid, Message: err.Error()})
	}
	return Accept(evt)
}

// SetStageInput proposes moving an engagement to another stage.
type SetStageInput struct {
	ToStageID  string
	Actor      event.Actor
	OccurredAt time.Time
}

// SetStage validates a stage transition and decides the stage_set event.
func SetStage(state engagement.State, input SetStageInput) Decision {
	if !state.HasProcess() {
		return Reject(Rejection{
			Code:    apperrors.CodeProcessNotSet,
			Message: "engagement has no process to transition within",
		})
	}
	if state.Completed {
		return Reject(Rejection{
			Code:     apperrors.CodeProcessCompleted,
			Message:  "completed process does not accept stage transitions",
			Metadata: map[string]string{"process_id": state.ProcessID},
		})
	}
	toStageID := strings.TrimSpace(input.ToStageID)
	if !state.StageInProcess(toStageID) {
		return Reject(Rejection{
			Code:    apperrors.CodeStageNotInProcess,
			Message: "target stage does not belong to the current process",
			Metadata: map[string]string{
				"stage_id":   toStageID,
				"process_id": state.ProcessID,
			},
		})
	}
	if toStageID == state.CurrentStageID {
		return Reject(Rejection{
			Code:     apperrors.CodeStageUnchanged,
			Message:  "engagement already occupies the target stage",
			Metadata: map[string]string{"stage_id": toStageID},
		})
	}

	evt, err := event.NewStageSet(state.AggregateID, event.StageSetPayload{
		FromStageID: state.CurrentStageID,
		ToStageID:   toStageID,
		ToStageName: state.Stages[toStageID].Name,
	}, input.Actor, input.OccurredAt)
	if err != nil {
		return Reject(Rejection{Code: apperrors.CodeEventPayloadInvalid, Message: err.Error()})
	}
	return Accept(evt)
}

// CompleteProcessInput proposes closing the engagement's process.
type CompleteProcessInput struct {
	Outcome    event.Outcome
	Actor      event.Actor
	OccurredAt time.Time
}

// CompleteProcess validates completion and decides the process_completed event.
func CompleteProcess(state engagement.State, input CompleteProcessInput) Decision {
	if !state.HasProcess() {
		return Reject(Rejection{
			Code:    apperrors.CodeProcessNotSet,
			Message: "engagement has no process to complete",
		})
	}
	if state.Completed {
		return Reject(Rejection{
			Code:     apperrors.CodeProcessCompleted,
			Message:  "process is already completed",
			Metadata: map[string]string{"process_id": state.ProcessID},
		})
	}
	if !input.Outcome.IsValid() {
		return Reject(Rejection{
			Code:     apperrors.CodeOutcomeInvalid,
			Message:  "completion outcome is not recognized",
			Metadata: map[string]string{"outcome": string(input.Outcome)},
		})
	}

	evt, err := event.NewProcessCompleted(state.AggregateID, event.ProcessCompletedPayload{
		Outcome:      input.Outcome,
		FinalStageID: state.CurrentStageID,
	}, input.Actor, input.OccurredAt)
	if err != nil {
		return Reject(Rejection{Code: apperrors.CodeEventPayloadInvalid, Message: err.Error()})
	}
	return Accept(evt)
}

// UpdateThresholdsInput proposes per-stage dwell-time thresholds for a process.
type UpdateThresholdsInput struct {
	AggregateID string
	ProcessID   string
	Thresholds  []event.StageThreshold
	Actor       event.Actor
	OccurredAt  time.Time
}

// UpdateThresholds validates threshold configuration and decides the
// thresholds_updated event. Threshold config is its own aggregate family, so
// no engagement state participates in validation.
func UpdateThresholds(input UpdateThresholdsInput) Decision {
	if len(input.Thresholds) == 0 {
		return Reject(Rejection{
			Code:    apperrors.CodeThresholdInvalid,
			Message: "at least one stage threshold is required",
		})
	}
	for _, threshold := range input.Thresholds {
		if strings.TrimSpace(threshold.StageID) == "" {
			return Reject(Rejection{
				Code:    apperrors.CodeThresholdInvalid,
				Message: "threshold stage id is required",
			})
		}
		if threshold.WarnAfter <= 0 {
			return Reject(Rejection{
				Code:     apperrors.CodeThresholdInvalid,
				Message:  "threshold warn-after must be positive",
				Metadata: map[string]string{"stage_id": threshold.StageID},
			})
		}
	}

	evt, err := event.NewThresholdsUpdated(input.AggregateID, event.ThresholdsUpdatedPayload{
		ProcessID:  input.ProcessID,
		Thresholds: input.Thresholds,
	}, input.Actor, input.OccurredAt)
	if err != nil {
		return Reject(Rejection{Code: apperrors.CodeEventPayloadInvalid, Message: err.Error()})
	}
	return Accept(evt)
}
