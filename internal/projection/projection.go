// Package projection derives read models from the event journal.
//
// Each projector owns a disjoint set of tables and advances an independent
// checkpoint; applying the same journal prefix always produces the same
// table contents, so any projection can be dropped and rebuilt.
package projection

import (
	"context"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/storage"
)

// Projector applies a batch of journal events to its owned tables.
//
// Apply runs inside the batch transaction the runner opens; a returned error
// rolls back every write of the batch along with the checkpoint advance.
type Projector interface {
	// Name is the stable checkpoint identity of the projector.
	Name() string
	// Tables lists the projection tables the projector owns.
	Tables() []string
	// Apply folds the events, ordered by global sequence, into the owned tables.
	Apply(ctx context.Context, p storage.Projections, events []event.Event) error
}

// trailing is implemented by projectors that read another projector's tables
// and therefore must not drain past that projector's checkpoint.
type trailing interface {
	TrailsProjector() string
}

// Registered returns the full projector set in drain order. Trailing
// projectors come after the projector they read from.
func Registered() []Projector {
	return []Projector{
		NewCurrentStateProjector(),
		NewStageFactProjector(),
		NewStageCountProjector(),
		NewThresholdConfigProjector(),
	}
}
