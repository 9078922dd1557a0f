// Package errors provides structured error handling for the meridian core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Event store errors
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeEventTypeUnknown    Code = "EVENT_TYPE_UNKNOWN"
	CodeEventPayloadInvalid Code = "EVENT_PAYLOAD_INVALID"
	CodeEventActorInvalid   Code = "EVENT_ACTOR_INVALID"

	// Command validation errors
	CodeProcessStagesEmpty     Code = "PROCESS_STAGES_EMPTY"
	CodeProcessStageDuplicated Code = "PROCESS_STAGE_DUPLICATED"
	CodeProcessInitialStage    Code = "PROCESS_INITIAL_STAGE_UNKNOWN"
	CodeProcessNotSet          Code = "PROCESS_NOT_SET"
	CodeProcessCompleted       Code = "PROCESS_ALREADY_COMPLETED"
	CodeStageNotInProcess      Code = "STAGE_NOT_IN_PROCESS"
	CodeStageUnchanged         Code = "STAGE_UNCHANGED"
	CodeOutcomeInvalid         Code = "OUTCOME_INVALID"
	CodeThresholdInvalid       Code = "THRESHOLD_INVALID"

	// Projection errors
	CodeProjectorApplyFailed     Code = "PROJECTOR_APPLY_FAILED"
	CodeCheckpointConflict       Code = "CHECKPOINT_CONFLICT"
	CodeProjectionWriteViolation Code = "PROJECTION_WRITE_VIOLATION"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps a domain error code to the gRPC status code collaborator
// transports should surface.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeNotFound:
		return codes.NotFound
	case CodeConcurrencyConflict, CodeCheckpointConflict:
		return codes.Aborted
	case CodeProjectionWriteViolation:
		return codes.FailedPrecondition
	case CodeProjectorApplyFailed, CodeUnknown:
		return codes.Internal
	default:
		return codes.InvalidArgument
	}
}

// IsValidation reports whether the code belongs to the command-validation
// family, which callers must not retry without changing the command.
func (c Code) IsValidation() bool {
	switch c {
	case CodeProcessStagesEmpty,
		CodeProcessStageDuplicated,
		CodeProcessInitialStage,
		CodeProcessNotSet,
		CodeProcessCompleted,
		CodeStageNotInProcess,
		CodeStageUnchanged,
		CodeOutcomeInvalid,
		CodeThresholdInvalid,
		CodeEventTypeUnknown,
		CodeEventPayloadInvalid,
		CodeEventActorInvalid:
		return true
	default:
		return false
	}
}
