package guardrail

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
)

// Violation is one projection write found outside an authorized file.
type Violation struct {
	File   string
	Line   int
	Table  string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: %s (%s)", v.File, v.Line, v.Table, v.Detail)
}

// writeMethods maps projection-store write methods to the table they touch.
var writeMethods = map[string]string{
	"PutEngagement":      "engagement_current",
	"OpenStageFact":      "stage_facts",
	"CloseOpenStageFact": "stage_facts",
	"PutStageCount":      "stage_counts",
	"PutStageThreshold":  "stage_thresholds",
}

// authorizedPathFragments marks source locations allowed to write projection
// tables: the projectors themselves, the storage layer executing their
// batches, and this package.
var authorizedPathFragments = []string{
	"internal/projection/",
	"internal/storage/",
	"internal/guardrail/",
}

// IsAuthorizedPath reports whether a source file may contain projection writes.
func IsAuthorizedPath(filename string) bool {
	normalized := filepath.ToSlash(filename)
	for _, fragment := range authorizedPathFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// ScanSource parses one Go source file and reports projection writes, both
// raw SQL in string literals and calls to projection-store write methods.
// Authorized files scan clean regardless of content.
func ScanSource(filename string, src []byte) ([]Violation, error) {
	if IsAuthorizedPath(filename) {
		return nil, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	var violations []Violation
	ast.Inspect(file, func(node ast.Node) bool {
		switch typed := node.(type) {
		case *ast.BasicLit:
			if typed.Kind != token.STRING {
				return true
			}
			text, err := strconv.Unquote(typed.Value)
			if err != nil {
				return true
			}
			for _, match := range writeStmtPattern.FindAllStringSubmatch(text, -1) {
				if !IsProtectedTable(match[2]) {
					continue
				}
				violations = append(violations, Violation{
					File:   filename,
					Line:   fset.Position(typed.Pos()).Line,
					Table:  strings.ToLower(match[2]),
					Detail: "raw SQL " + string(classifyVerb(match[1])),
				})
			}
		case *ast.CallExpr:
			sel, ok := typed.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			table, ok := writeMethods[sel.Sel.Name]
			if !ok {
				return true
			}
			violations = append(violations, Violation{
				File:   filename,
				Line:   fset.Position(sel.Pos()).Line,
				Table:  table,
				Detail: "call to " + sel.Sel.Name,
			})
		}
		return true
	})
	return violations, nil
}
