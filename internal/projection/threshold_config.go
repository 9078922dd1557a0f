package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

// ThresholdConfigProjector maintains stage_thresholds from the config
// aggregate's thresholds_updated events. Later events overwrite earlier ones
// per (process, stage); there is no delete, a stage without a threshold row
// simply has no alerting configured.
type ThresholdConfigProjector struct{}

func NewThresholdConfigProjector() *ThresholdConfigProjector {
	return &ThresholdConfigProjector{}
}

func (*ThresholdConfigProjector) Name() string { return "threshold_config" }

func (*ThresholdConfigProjector) Tables() []string { return []string{"stage_thresholds"} }

func (tp *ThresholdConfigProjector) Apply(ctx context.Context, p storage.Projections, events []event.Event) error {
	for _, evt := range events {
		if evt.AggregateType != event.AggregateConfig || evt.Type != event.TypeThresholdsUpdated {
			continue
		}
		var payload event.ThresholdsUpdatedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("sequence %d: decode thresholds_updated payload: %w", evt.Sequence, err)
		}
		for _, threshold := range payload.Thresholds {
			err := p.PutStageThreshold(ctx, storage.StageThresholdRecord{
				ProcessID:   payload.ProcessID,
				StageID:     threshold.StageID,
				WarnAfterMS: threshold.WarnAfter.Milliseconds(),
				UpdatedAt:   evt.RecordedAt,
			})
			if err != nil {
				return fmt.Errorf("sequence %d: %w", evt.Sequence, err)
			}
		}
	}
	return nil
}
