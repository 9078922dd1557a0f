package event

import "time"

// StageRef describes one stage of a lifecycle process.
type StageRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// ProcessSetPayload captures the payload for engagement.process_set events.
//
// The full stage list travels with the event so replays can validate stage
// membership without consulting any mutable configuration.
type ProcessSetPayload struct {
	ProcessID      string     `json:"process_id"`
	ProcessName    string     `json:"process_name"`
	Stages         []StageRef `json:"stages"`
	InitialStageID string     `json:"initial_stage_id"`
}

// StageSetPayload captures the payload for engagement.stage_set events.
type StageSetPayload struct {
	FromStageID string `json:"from_stage_id"`
	ToStageID   string `json:"to_stage_id"`
	ToStageName string `json:"to_stage_name"`
}

// Outcome classifies how a process finished.
type Outcome string

const (
	// OutcomeWon marks a successfully closed process.
	OutcomeWon Outcome = "won"
	// OutcomeLost marks a process closed without conversion.
	OutcomeLost Outcome = "lost"
	// OutcomeAbandoned marks a process closed for any other reason.
	OutcomeAbandoned Outcome = "abandoned"
)

// IsValid reports whether the outcome is one of the known variants.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeWon, OutcomeLost, OutcomeAbandoned:
		return true
	default:
		return false
	}
}

// ProcessCompletedPayload captures the payload for engagement.process_completed events.
type ProcessCompletedPayload struct {
	Outcome      Outcome `json:"outcome"`
	FinalStageID string  `json:"final_stage_id"`
}

// StageThreshold sets the dwell-time alert threshold for one stage.
type StageThreshold struct {
	StageID   string        `json:"stage_id"`
	WarnAfter time.Duration `json:"warn_after"`
}

// ThresholdsUpdatedPayload captures the payload for config.thresholds_updated events.
type ThresholdsUpdatedPayload struct {
	ProcessID  string           `json:"process_id"`
	Thresholds []StageThreshold `json:"thresholds"`
}
