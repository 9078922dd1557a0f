// Package app wires the command side and the projection runner into one
// service surface for transports and the operational daemon.
package app

import (
	"context"
	"fmt"

	"github.com/meridianhq/meridian/internal/domain/command"
	"github.com/meridianhq/meridian/internal/domain/engagement"
	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/projection"
	"github.com/meridianhq/meridian/internal/storage"
)

// App executes commands against the journal and drives projections.
type App struct {
	backend storage.ProjectionBackend
	runner  *projection.Runner

	// projectAfterAppend runs an incremental projection pass after each
	// successful append, trading write latency for read-your-writes on the
	// projections. The daemon sweep remains the safety net either way.
	projectAfterAppend bool
}

// Option configures an App.
type Option func(*App)

// WithProjectAfterAppend makes every accepted command trigger a synchronous
// incremental projection pass.
func WithProjectAfterAppend() Option {
	return func(a *App) { a.projectAfterAppend = true }
}

// WithBatchSize overrides the runner's projection batch size.
func WithBatchSize(size int) Option {
	return func(a *App) {
		a.runner = projection.NewRunner(a.backend, projection.Registered(), size)
	}
}

// New returns an App over the given backend.
func New(backend storage.ProjectionBackend, opts ...Option) *App {
	a := &App{
		backend: backend,
		runner:  projection.NewRunner(backend, projection.Registered(), 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetProcess places an engagement on a lifecycle process, superseding any
// process it already runs.
func (a *App) SetProcess(ctx context.Context, aggregateID string, input command.SetProcessInput) (event.Event, error) {
	return a.decide(ctx, aggregateID, func(state engagement.State) command.Decision {
		return command.SetProcess(state, input)
	})
}

// SetStage moves an engagement to another stage of its current process.
func (a *App) SetStage(ctx context.Context, aggregateID string, input command.SetStageInput) (event.Event, error) {
	return a.decide(ctx, aggregateID, func(state engagement.State) command.Decision {
		return command.SetStage(state, input)
	})
}

// CompleteProcess finishes an engagement's current process with an outcome.
func (a *App) CompleteProcess(ctx context.Context, aggregateID string, input command.CompleteProcessInput) (event.Event, error) {
	return a.decide(ctx, aggregateID, func(state engagement.State) command.Decision {
		return command.CompleteProcess(state, input)
	})
}

// UpdateThresholds replaces the dwell-time thresholds for a process.
func (a *App) UpdateThresholds(ctx context.Context, input command.UpdateThresholdsInput) (event.Event, error) {
	decision := command.UpdateThresholds(input)
	if err := decision.Err(); err != nil {
		return event.Event{}, err
	}
	version, err := a.backend.AggregateVersion(ctx, input.AggregateID)
	if err != nil {
		return event.Event{}, fmt.Errorf("read config version: %w", err)
	}
	return a.append(ctx, version, decision.Events[0])
}

// decide replays the engagement, runs the handler against the replayed state,
// and appends the decided event under the replayed version. A concurrent
// append surfaces as storage.ErrConcurrencyConflict; retrying is the caller's
// call, since the business rule must be rechecked against the new state.
func (a *App) decide(ctx context.Context, aggregateID string, handle func(engagement.State) command.Decision) (event.Event, error) {
	state, err := engagement.ReplayState(ctx, a.backend, aggregateID)
	if err != nil {
		return event.Event{}, fmt.Errorf("replay %s: %w", aggregateID, err)
	}

	decision := handle(state)
	if err := decision.Err(); err != nil {
		return event.Event{}, err
	}
	return a.append(ctx, state.Version, decision.Events[0])
}

func (a *App) append(ctx context.Context, expectedVersion uint64, evt event.Event) (event.Event, error) {
	stored, err := a.backend.AppendEvent(ctx, expectedVersion, evt)
	if err != nil {
		return event.Event{}, err
	}
	if a.projectAfterAppend {
		for _, result := range a.runner.RunAll(ctx) {
			if result.Err != nil {
				// The append is durable; a projection failure here is the
				// daemon's to retry, not a reason to fail the command.
				return stored, nil
			}
		}
	}
	return stored, nil
}

// State replays an engagement's event history into its current state.
func (a *App) State(ctx context.Context, aggregateID string) (engagement.State, error) {
	return engagement.ReplayState(ctx, a.backend, aggregateID)
}

// Engagement reads the current-state projection row for an engagement.
func (a *App) Engagement(ctx context.Context, aggregateID string) (storage.EngagementRecord, error) {
	reader, ok := a.backend.(storage.EngagementCurrentStore)
	if !ok {
		return storage.EngagementRecord{}, fmt.Errorf("backend does not expose projections")
	}
	return reader.GetEngagement(ctx, aggregateID)
}

// RunProjectors performs one incremental projection pass.
func (a *App) RunProjectors(ctx context.Context) []projection.Result {
	return a.runner.RunAll(ctx)
}

// RebuildProjectors truncates and replays every projection.
func (a *App) RebuildProjectors(ctx context.Context) []projection.Result {
	return a.runner.RebuildAll(ctx)
}

// Checkpoints lists every projector checkpoint for inspection.
func (a *App) Checkpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	return a.backend.ListCheckpoints(ctx)
}
