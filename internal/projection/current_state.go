package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

// CurrentStateProjector maintains engagement_current, the one-row-per-
// engagement read model answering "where is this engagement right now".
//
// Every event overwrites the row with absolute values derived from the event
// and the previous row, so re-applying a prefix of the journal converges to
// the same row. TransitionCount is the one field carried forward relative to
// the prior row; that is sound only because each batch commits its writes and
// its checkpoint advance in one transaction, so no event is ever folded into
// the row twice.
type CurrentStateProjector struct{}

func NewCurrentStateProjector() *CurrentStateProjector {
	return &CurrentStateProjector{}
}

func (*CurrentStateProjector) Name() string { return "current_state" }

func (*CurrentStateProjector) Tables() []string { return []string{"engagement_current"} }

func (cp *CurrentStateProjector) Apply(ctx context.Context, p storage.Projections, events []event.Event) error {
	for _, evt := range events {
		if evt.AggregateType != event.AggregateEngagement {
			continue
		}
		if err := cp.applyOne(ctx, p, evt); err != nil {
			return fmt.Errorf("sequence %d: %w", evt.Sequence, err)
		}
	}
	return nil
}

func (cp *CurrentStateProjector) applyOne(ctx context.Context, p storage.Projections, evt event.Event) error {
	switch evt.Type {
	case event.TypeProcessSet:
		var payload event.ProcessSetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("decode process_set payload: %w", err)
		}
		initialName := payload.InitialStageID
		for _, stage := range payload.Stages {
			if stage.ID == payload.InitialStageID {
				initialName = stage.Name
				break
			}
		}
		return p.PutEngagement(ctx, storage.EngagementRecord{
			AggregateID:      evt.AggregateID,
			ProcessID:        payload.ProcessID,
			ProcessName:      payload.ProcessName,
			StageID:          payload.InitialStageID,
			StageName:        initialName,
			TransitionCount:  1,
			Outcome:          "",
			ProcessStartedAt: evt.OccurredAt,
			EnteredStageAt:   evt.OccurredAt,
			UpdatedAt:        evt.RecordedAt,
		})

	case event.TypeStageSet:
		var payload event.StageSetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("decode stage_set payload: %w", err)
		}
		rec, err := p.GetEngagement(ctx, evt.AggregateID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("stage_set for %s without a prior process_set", evt.AggregateID)
			}
			return err
		}
		rec.StageID = payload.ToStageID
		rec.StageName = payload.ToStageName
		rec.TransitionCount++
		rec.EnteredStageAt = evt.OccurredAt
		rec.UpdatedAt = evt.RecordedAt
		return p.PutEngagement(ctx, rec)

	case event.TypeProcessCompleted:
		var payload event.ProcessCompletedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("decode process_completed payload: %w", err)
		}
		rec, err := p.GetEngagement(ctx, evt.AggregateID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("process_completed for %s without a prior process_set", evt.AggregateID)
			}
			return err
		}
		completedAt := evt.OccurredAt
		rec.Outcome = string(payload.Outcome)
		rec.ProcessCompletedAt = &completedAt
		rec.UpdatedAt = evt.RecordedAt
		return p.PutEngagement(ctx, rec)

	default:
		// Foreign engagement event types are skipped, not failed, so adding
		// event types never breaks an already-deployed projector.
		return nil
	}
}
