package projection

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

const defaultBatchSize = 200

// Result reports one projector's outcome for a runner pass.
type Result struct {
	Projector    string
	Applied      int
	FromSequence uint64
	ToSequence   uint64
	Err          error
}

// Runner drains journal events into projections, one bounded batch at a time.
//
// Each batch commits its writes and its checkpoint advance in a single
// transaction, so a crash between batches loses nothing and a crash inside a
// batch is retried from the previous checkpoint on the next pass.
type Runner struct {
	backend    storage.ProjectionBackend
	projectors []Projector
	batchSize  int
	tracer     trace.Tracer
}

// NewRunner returns a runner over the registered projectors. A batchSize of
// zero or less selects the default.
func NewRunner(backend storage.ProjectionBackend, projectors []Projector, batchSize int) *Runner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Runner{
		backend:    backend,
		projectors: projectors,
		batchSize:  batchSize,
		tracer:     otel.Tracer("meridian/projection"),
	}
}

// RunAll incrementally drains every projector up to the current journal head.
// Projectors run in registration order and fail independently: one broken
// projector stalls only its own checkpoint.
func (r *Runner) RunAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.projectors))
	for _, projector := range r.projectors {
		ceiling, err := r.drainCeiling(ctx, projector)
		if err != nil {
			results = append(results, Result{Projector: projector.Name(), Err: err})
			continue
		}
		results = append(results, r.drain(ctx, projector, ceiling))
	}
	return results
}

// RebuildAll truncates every projection and replays the journal from the
// origin up to a head snapshot taken before the first reset. Events appended
// while the rebuild runs are picked up by the next incremental pass.
//
// A cancelled rebuild is resumable: committed batches keep their checkpoint,
// so a later RunAll continues from wherever the rebuild stopped.
func (r *Runner) RebuildAll(ctx context.Context) []Result {
	snapshot, err := r.backend.LatestSequence(ctx)
	if err != nil {
		results := make([]Result, 0, len(r.projectors))
		for _, projector := range r.projectors {
			results = append(results, Result{Projector: projector.Name(), Err: fmt.Errorf("snapshot journal head: %w", err)})
		}
		return results
	}

	results := make([]Result, 0, len(r.projectors))
	for _, projector := range r.projectors {
		if err := r.backend.ResetProjection(ctx, projector.Name(), projector.Tables()); err != nil {
			results = append(results, Result{Projector: projector.Name(), Err: fmt.Errorf("reset projection: %w", err)})
			continue
		}
		ceiling := snapshot
		if bounded, err := r.trailingCeiling(ctx, projector); err != nil {
			results = append(results, Result{Projector: projector.Name(), Err: err})
			continue
		} else if bounded < ceiling {
			ceiling = bounded
		}
		results = append(results, r.drain(ctx, projector, ceiling))
	}
	return results
}

// drainCeiling computes how far a projector may advance on this pass.
func (r *Runner) drainCeiling(ctx context.Context, projector Projector) (uint64, error) {
	ceiling, err := r.backend.LatestSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("read journal head: %w", err)
	}
	if bounded, err := r.trailingCeiling(ctx, projector); err != nil {
		return 0, err
	} else if bounded < ceiling {
		ceiling = bounded
	}
	return ceiling, nil
}

// trailingCeiling returns the checkpoint of the projector this one trails,
// or the maximum sequence when it trails nothing.
func (r *Runner) trailingCeiling(ctx context.Context, projector Projector) (uint64, error) {
	t, ok := projector.(trailing)
	if !ok {
		return ^uint64(0), nil
	}
	cp, err := r.backend.GetCheckpoint(ctx, t.TrailsProjector())
	if err != nil {
		return 0, fmt.Errorf("read %s checkpoint: %w", t.TrailsProjector(), err)
	}
	return cp.LastSequence, nil
}

func (r *Runner) drain(ctx context.Context, projector Projector, ceiling uint64) Result {
	result := Result{Projector: projector.Name()}

	cp, err := r.backend.GetCheckpoint(ctx, projector.Name())
	if err != nil {
		result.Err = fmt.Errorf("read checkpoint: %w", err)
		return result
	}
	result.FromSequence = cp.LastSequence
	result.ToSequence = cp.LastSequence

	for cp.LastSequence < ceiling {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		events, err := r.backend.ReadAllEvents(ctx, cp.LastSequence, r.batchSize)
		if err != nil {
			result.Err = fmt.Errorf("read events after %d: %w", cp.LastSequence, err)
			return result
		}
		events = truncateAtCeiling(events, ceiling)
		if len(events) == 0 {
			return result
		}
		toSequence := events[len(events)-1].Sequence

		if err := r.applyBatch(ctx, projector, cp.LastSequence, toSequence, events); err != nil {
			result.Err = err
			return result
		}

		result.Applied += len(events)
		result.ToSequence = toSequence
		cp.LastSequence = toSequence
	}
	return result
}

func (r *Runner) applyBatch(ctx context.Context, projector Projector, fromSequence, toSequence uint64, events []event.Event) error {
	ctx, span := r.tracer.Start(ctx, "projection.apply_batch", trace.WithAttributes(
		attribute.String("projector", projector.Name()),
		attribute.Int64("from_sequence", int64(fromSequence)),
		attribute.Int64("to_sequence", int64(toSequence)),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	err := r.backend.ApplyProjectionBatch(ctx, projector.Name(), fromSequence, toSequence,
		func(ctx context.Context, p storage.Projections) error {
			return projector.Apply(ctx, p, events)
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return fmt.Errorf("projector %s batch %d..%d: %w", projector.Name(), fromSequence, toSequence, err)
	}
	return nil
}

func truncateAtCeiling(events []event.Event, ceiling uint64) []event.Event {
	for i, evt := range events {
		if evt.Sequence > ceiling {
			return events[:i]
		}
	}
	return events
}
