package sqlite

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

func TestExecRefusesProjectionWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Exec(ctx, "DELETE FROM stage_facts WHERE aggregate_id = ?", "eng-1")
	if !errors.Is(err, apperrors.New(apperrors.CodeProjectionWriteViolation, "")) {
		t.Fatalf("expected projection write violation, got %v", err)
	}

	// Non-projection tables remain reachable for maintenance.
	if _, err := store.Exec(ctx, "DELETE FROM events WHERE aggregate_id = ?", "never-existed"); err != nil {
		t.Fatalf("expected journal maintenance to pass the guardrail: %v", err)
	}
}
