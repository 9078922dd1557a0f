package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

// StageCountProjector maintains stage_counts, per-stage engagement membership
// for each process. It never applies deltas: each batch recomputes the
// affected processes by counting stage_facts rows, so a missed or repeated
// event cannot skew a counter.
//
// Because it counts another projector's table, it trails the stage_fact
// checkpoint and the runner never drains it past that point.
type StageCountProjector struct{}

func NewStageCountProjector() *StageCountProjector {
	return &StageCountProjector{}
}

func (*StageCountProjector) Name() string { return "stage_count" }

func (*StageCountProjector) Tables() []string { return []string{"stage_counts"} }

func (*StageCountProjector) TrailsProjector() string { return "stage_fact" }

func (cp *StageCountProjector) Apply(ctx context.Context, p storage.Projections, events []event.Event) error {
	processes, stampedAt, err := cp.affectedProcesses(ctx, p, events)
	if err != nil {
		return err
	}
	for processID := range processes {
		counts, err := p.CountStageOccupancy(ctx, processID)
		if err != nil {
			return fmt.Errorf("recount process %s: %w", processID, err)
		}
		for _, count := range counts {
			count.UpdatedAt = stampedAt
			if err := p.PutStageCount(ctx, count); err != nil {
				return err
			}
		}
	}
	return nil
}

// affectedProcesses collects every process whose membership the batch can
// change. An aggregate whose process was replaced contributes both the old
// and the new process, since active membership moves between them.
func (cp *StageCountProjector) affectedProcesses(ctx context.Context, p storage.Projections, events []event.Event) (map[string]struct{}, time.Time, error) {
	processes := make(map[string]struct{})
	seenAggregates := make(map[string]struct{})
	var stampedAt time.Time
	for _, evt := range events {
		if evt.AggregateType != event.AggregateEngagement {
			continue
		}
		if evt.RecordedAt.After(stampedAt) {
			stampedAt = evt.RecordedAt
		}
		if _, ok := seenAggregates[evt.AggregateID]; !ok {
			seenAggregates[evt.AggregateID] = struct{}{}
			facts, err := p.ListStageFacts(ctx, evt.AggregateID)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("list facts for %s: %w", evt.AggregateID, err)
			}
			for _, fact := range facts {
				processes[fact.ProcessID] = struct{}{}
			}
		}
		if evt.Type == event.TypeProcessSet {
			var payload event.ProcessSetPayload
			if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
				return nil, time.Time{}, fmt.Errorf("decode process_set payload at sequence %d: %w", evt.Sequence, err)
			}
			processes[payload.ProcessID] = struct{}{}
		}
	}
	return processes, stampedAt, nil
}
