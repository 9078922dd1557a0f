package projector

import (
	"context"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/domain/event"
	"github.com/meridianhq/meridian/internal/projection"
	"github.com/meridianhq/meridian/internal/storage/sqlite"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("projector", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/meridian.db" {
		t.Fatalf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.SweepInterval != 2*time.Second {
		t.Fatalf("unexpected default sweep interval %v", cfg.SweepInterval)
	}
	if cfg.BatchSize != 200 {
		t.Fatalf("unexpected default batch size %d", cfg.BatchSize)
	}
	if cfg.Rebuild || cfg.Once {
		t.Fatal("rebuild and once must default to false")
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("MERIDIAN_PROJECTOR_DB_PATH", "env/meridian.db")
	t.Setenv("MERIDIAN_PROJECTOR_SWEEP_INTERVAL", "5s")

	fs := flag.NewFlagSet("projector", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-rebuild", "-batch-size", "50"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "env/meridian.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Fatalf("expected env sweep interval, got %v", cfg.SweepInterval)
	}
	if !cfg.Rebuild {
		t.Fatal("expected rebuild flag to be set")
	}
	if cfg.BatchSize != 50 {
		t.Fatalf("expected flag batch size 50, got %d", cfg.BatchSize)
	}
}

// seedOrphanStageSet writes a journal whose current_state projector can never
// advance: a stage_set with no prior process_set fails every apply attempt.
func seedOrphanStageSet(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "meridian.db")
	store, err := sqlite.Open(path, event.MustCoreRegistry())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	evt, err := event.NewStageSet("eng-orphan", event.StageSetPayload{
		FromStageID: "stage-1",
		ToStageID:   "stage-2",
		ToStageName: "Propose",
	}, event.UserActor("usr-1"), time.Now().UTC())
	if err != nil {
		t.Fatalf("build stage_set: %v", err)
	}
	if _, err := store.AppendEvent(context.Background(), 0, evt); err != nil {
		t.Fatalf("append stage_set: %v", err)
	}
	return path
}

func TestRunOnceSurfacesStalledProjector(t *testing.T) {
	cfg := Config{
		DBPath:        seedOrphanStageSet(t),
		SweepInterval: time.Second,
		BatchSize:     50,
		Once:          true,
	}

	err := run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected once-mode run to fail when a projector stalls")
	}
	if !strings.Contains(err.Error(), "current_state") {
		t.Fatalf("expected error to name the stalled projector, got %v", err)
	}
}

func TestRunEscalatesRepeatedStalls(t *testing.T) {
	cfg := Config{
		DBPath:        seedOrphanStageSet(t),
		SweepInterval: 5 * time.Millisecond,
		BatchSize:     50,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx, cfg)
	if err == nil {
		t.Fatal("expected sweep mode to terminate after repeated stalls")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("sweep mode looped until the test deadline instead of escalating")
	}
	if !strings.Contains(err.Error(), "consecutive passes") {
		t.Fatalf("expected an escalation error, got %v", err)
	}
}

func TestStallTrackerResetsOnProgress(t *testing.T) {
	tracker := newStallTracker()
	stalled := errors.New("apply failed")

	for i := 0; i < maxConsecutiveStalls-1; i++ {
		if err := tracker.observe([]projection.Result{{Projector: "current_state", FromSequence: 3, Err: stalled}}); err != nil {
			t.Fatalf("escalated after %d failures: %v", i+1, err)
		}
	}

	// A pass that moves the checkpoint clears the streak.
	if err := tracker.observe([]projection.Result{{Projector: "current_state", FromSequence: 3, Applied: 2, ToSequence: 5}}); err != nil {
		t.Fatalf("clean pass reported fatal: %v", err)
	}
	for i := 0; i < maxConsecutiveStalls-1; i++ {
		if err := tracker.observe([]projection.Result{{Projector: "current_state", FromSequence: 5, Err: stalled}}); err != nil {
			t.Fatalf("escalated after %d failures post reset: %v", i+1, err)
		}
	}
	if err := tracker.observe([]projection.Result{{Projector: "current_state", FromSequence: 5, Err: stalled}}); err == nil {
		t.Fatal("expected escalation on the final consecutive failure")
	}
}

func TestStallTrackerRestartsAtNewCheckpoint(t *testing.T) {
	tracker := newStallTracker()
	stalled := errors.New("apply failed")

	for i := 0; i < maxConsecutiveStalls-1; i++ {
		if err := tracker.observe([]projection.Result{{Projector: "stage_fact", FromSequence: 1, Err: stalled}}); err != nil {
			t.Fatalf("escalated after %d failures: %v", i+1, err)
		}
	}
	// Failing again at a later checkpoint means the projector made progress
	// in between, so the streak restarts.
	if err := tracker.observe([]projection.Result{{Projector: "stage_fact", FromSequence: 4, Err: stalled}}); err != nil {
		t.Fatalf("expected streak restart at new checkpoint, got %v", err)
	}
}
