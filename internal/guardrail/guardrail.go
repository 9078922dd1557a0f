// Package guardrail enforces the projection ownership rule: projection
// tables are written only by their projector, inside a runner batch.
//
// The runtime assertions back the generic exec surfaces non-projector code
// uses for raw SQL, and the static scanner backs a repo-wide test. Neither is
// configurable at runtime; the protected set is fixed at compile time.
package guardrail

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

// Op classifies a write against a projection table.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

var protectedTables = map[string]struct{}{
	"engagement_current": {},
	"stage_facts":        {},
	"stage_counts":       {},
	"stage_thresholds":   {},
}

// ProtectedTables returns the projection tables no code outside a projector
// batch may write, sorted for stable output.
func ProtectedTables() []string {
	tables := make([]string, 0, len(protectedTables))
	for table := range protectedTables {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// IsProtectedTable reports whether the table belongs to a projection.
func IsProtectedTable(table string) bool {
	_, ok := protectedTables[strings.ToLower(strings.TrimSpace(table))]
	return ok
}

// AssertWritable rejects any write op against a protected table. It is
// unconditional: code holding a legitimate projector context never routes
// through the guarded surfaces in the first place.
func AssertWritable(table string, op Op) error {
	if !IsProtectedTable(table) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeProjectionWriteViolation,
		fmt.Sprintf("%s on projection table %s is reserved for its projector", op, strings.TrimSpace(table)),
		map[string]string{
			"table": strings.TrimSpace(table),
			"op":    string(op),
		})
}

// writeStmtPattern matches the table identifier of SQL write statements.
var writeStmtPattern = regexp.MustCompile(`(?is)\b(insert\s+into|replace\s+into|update|delete\s+from)\s+` + "`?" + `([a-zA-Z_][a-zA-Z0-9_]*)`)

// AssertStatement inspects a raw SQL statement and rejects writes against
// protected tables. Reads are always allowed.
func AssertStatement(stmt string) error {
	for _, match := range writeStmtPattern.FindAllStringSubmatch(stmt, -1) {
		op := classifyVerb(match[1])
		if err := AssertWritable(match[2], op); err != nil {
			return err
		}
	}
	return nil
}

func classifyVerb(verb string) Op {
	verb = strings.ToLower(strings.Join(strings.Fields(verb), " "))
	switch {
	case verb == "update":
		return OpUpdate
	case verb == "delete from":
		return OpDelete
	case verb == "replace into":
		return OpUpsert
	default:
		return OpInsert
	}
}
