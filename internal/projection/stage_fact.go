package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

// StageFactProjector maintains stage_facts, one occupancy interval per stage
// visit. A stage change closes the open interval and opens the next one in
// the same batch transaction; process completion closes without opening.
//
// Closing is a conditional update on the still-open row, so a batch retried
// after a crash cannot close the same interval twice, and the partial unique
// index on open rows holds the at-most-one-open invariant per engagement.
type StageFactProjector struct{}

func NewStageFactProjector() *StageFactProjector {
	return &StageFactProjector{}
}

func (*StageFactProjector) Name() string { return "stage_fact" }

func (*StageFactProjector) Tables() []string { return []string{"stage_facts"} }

func (sp *StageFactProjector) Apply(ctx context.Context, p storage.Projections, events []event.Event) error {
	for _, evt := range events {
		if evt.AggregateType != event.AggregateEngagement {
			continue
		}
		if err := sp.applyOne(ctx, p, evt); err != nil {
			return fmt.Errorf("sequence %d: %w", evt.Sequence, err)
		}
	}
	return nil
}

func (sp *StageFactProjector) applyOne(ctx context.Context, p storage.Projections, evt event.Event) error {
	switch evt.Type {
	case event.TypeProcessSet:
		var payload event.ProcessSetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("decode process_set payload: %w", err)
		}
		// A new process supersedes whatever stage the previous process left open.
		if _, err := p.CloseOpenStageFact(ctx, evt.AggregateID, evt.OccurredAt, storage.ExitReasonSuperseded); err != nil {
			return err
		}
		initialName := payload.InitialStageID
		for _, stage := range payload.Stages {
			if stage.ID == payload.InitialStageID {
				initialName = stage.Name
				break
			}
		}
		return p.OpenStageFact(ctx, storage.StageFactRecord{
			AggregateID: evt.AggregateID,
			ProcessID:   payload.ProcessID,
			StageID:     payload.InitialStageID,
			StageName:   initialName,
			EnteredAt:   evt.OccurredAt,
		})

	case event.TypeStageSet:
		var payload event.StageSetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("decode stage_set payload: %w", err)
		}
		open, err := p.GetOpenStageFact(ctx, evt.AggregateID)
		if err != nil {
			return fmt.Errorf("stage_set for %s without an open interval: %w", evt.AggregateID, err)
		}
		if _, err := p.CloseOpenStageFact(ctx, evt.AggregateID, evt.OccurredAt, storage.ExitReasonProgressed); err != nil {
			return err
		}
		return p.OpenStageFact(ctx, storage.StageFactRecord{
			AggregateID: evt.AggregateID,
			ProcessID:   open.ProcessID,
			StageID:     payload.ToStageID,
			StageName:   payload.ToStageName,
			EnteredAt:   evt.OccurredAt,
		})

	case event.TypeProcessCompleted:
		// Completion closes the final interval and opens nothing; a completed
		// engagement occupies no stage.
		_, err := p.CloseOpenStageFact(ctx, evt.AggregateID, evt.OccurredAt, storage.ExitReasonCompleted)
		return err

	default:
		return nil
	}
}
