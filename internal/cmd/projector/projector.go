// Package projector parses projector daemon flags and launches its run loop.
package projector

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/meridianhq/meridian/internal/app"
	"github.com/meridianhq/meridian/internal/domain/event"
	entrypoint "github.com/meridianhq/meridian/internal/platform/cmd"
	"github.com/meridianhq/meridian/internal/projection"
	"github.com/meridianhq/meridian/internal/storage/sqlite"
)

// Config holds projector daemon configuration.
type Config struct {
	DBPath        string        `env:"MERIDIAN_PROJECTOR_DB_PATH" envDefault:"data/meridian.db"`
	SweepInterval time.Duration `env:"MERIDIAN_PROJECTOR_SWEEP_INTERVAL" envDefault:"2s"`
	BatchSize     int           `env:"MERIDIAN_PROJECTOR_BATCH_SIZE" envDefault:"200"`

	// Rebuild truncates and replays every projection before sweeping.
	Rebuild bool

	// Once runs a single pass and exits instead of sweeping forever.
	Once bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The meridian SQLite database path")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Delay between incremental projection sweeps")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Events applied per projection batch")
	fs.BoolVar(&cfg.Rebuild, "rebuild", cfg.Rebuild, "Truncate and replay every projection before sweeping")
	fs.BoolVar(&cfg.Once, "once", cfg.Once, "Run a single projection pass and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the projector daemon.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProjector, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	store, err := sqlite.Open(cfg.DBPath, event.MustCoreRegistry())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	service := app.New(store, app.WithBatchSize(cfg.BatchSize))

	if cfg.Rebuild {
		log.Printf("rebuilding projections")
		if err := reportResults(service.RebuildProjectors(ctx)); err != nil {
			return err
		}
	}

	if cfg.Once {
		// A failed pass must surface through the exit status, not just the
		// log, or a stalled projector looks like a clean run.
		if err := reportResults(service.RunProjectors(ctx)); err != nil && ctx.Err() == nil {
			return err
		}
		return ctx.Err()
	}

	stalls := newStallTracker()
	if err := stalls.observe(service.RunProjectors(ctx)); err != nil && ctx.Err() == nil {
		return err
	}

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A failing projector stays at its checkpoint and the sweep
			// retries the same batch; the tracker turns repeated failure on
			// an unmoved checkpoint into a fatal error.
			if err := stalls.observe(service.RunProjectors(ctx)); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

// maxConsecutiveStalls is how many sweeps a projector may fail at the same
// checkpoint before the daemon gives up. Transient contention clears well
// inside this window; a poisoned batch never will.
const maxConsecutiveStalls = 5

type stall struct {
	sequence uint64
	failures int
}

type stallTracker struct {
	stalls map[string]stall
}

func newStallTracker() *stallTracker {
	return &stallTracker{stalls: make(map[string]stall)}
}

// observe logs one pass's results and returns a fatal error once a projector
// has failed maxConsecutiveStalls passes in a row without advancing its
// checkpoint.
func (st *stallTracker) observe(results []projection.Result) error {
	reportResults(results)
	for _, result := range results {
		if result.Err == nil {
			delete(st.stalls, result.Projector)
			continue
		}
		s := st.stalls[result.Projector]
		if s.failures == 0 || s.sequence != result.FromSequence {
			s = stall{sequence: result.FromSequence}
		}
		s.failures++
		st.stalls[result.Projector] = s
		if s.failures >= maxConsecutiveStalls {
			return fmt.Errorf("projector %s failed %d consecutive passes at checkpoint %d: %w",
				result.Projector, s.failures, s.sequence, result.Err)
		}
	}
	return nil
}

func reportResults(results []projection.Result) error {
	var firstErr error
	for _, result := range results {
		if result.Err != nil {
			log.Printf("projector %s stalled at %d: %v", result.Projector, result.FromSequence, result.Err)
			if firstErr == nil {
				firstErr = fmt.Errorf("projector %s: %w", result.Projector, result.Err)
			}
			continue
		}
		if result.Applied > 0 {
			log.Printf("projector %s applied %d events (%d..%d)", result.Projector, result.Applied, result.FromSequence, result.ToSequence)
		}
	}
	return firstErr
}
