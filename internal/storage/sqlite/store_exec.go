package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/guardrail"
)

// Exec runs a raw SQL statement outside any projector batch. It is the
// surface for operational scripts and ad-hoc maintenance, and it refuses
// writes to projection tables: those go through ApplyProjectionBatch or not
// at all.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(stmt) == "" {
		return nil, fmt.Errorf("statement is required")
	}
	if err := guardrail.AssertStatement(stmt); err != nil {
		return nil, err
	}
	return s.sqlDB.ExecContext(ctx, stmt, args...)
}
