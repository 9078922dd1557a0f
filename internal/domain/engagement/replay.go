package engagement

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/storage"
)

const replayPageSize = 200

// ReplayState folds an aggregate's full event history into its current state.
func ReplayState(ctx context.Context, eventStore storage.EventStore, aggregateID string) (State, error) {
	if eventStore == nil {
		return State{}, fmt.Errorf("event store is not configured")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return State{}, fmt.Errorf("aggregate id is required")
	}

	state := State{AggregateID: aggregateID}
	for {
		events, err := eventStore.ReadEvents(ctx, aggregateID, state.Version, replayPageSize)
		if err != nil {
			return State{}, err
		}
		if len(events) == 0 {
			return state, nil
		}
		for _, evt := range events {
			state, err = Reduce(state, evt)
			if err != nil {
				return State{}, err
			}
		}
	}
}
