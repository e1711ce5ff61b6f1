// Package gateway exposes read-only SQL access over the mirror
// database, with coarse keyword-level protection against mutation.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ysksm/jiramirror/internal/apperr"
	"github.com/ysksm/jiramirror/internal/store"
)

// DefaultLimit caps result sets when the query carries no LIMIT clause.
const DefaultLimit = 100

// forbiddenKeywords are rejected anywhere in the query text. The check
// is deliberately coarse: it also catches mutating statements smuggled
// into subqueries or dialect extensions.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE", "EXEC", "EXECUTE",
}

var wordRe = regexp.MustCompile(`[A-Za-z_]+`)

// Result is a transport-agnostic query result: every value is one of
// nil, bool, int64, float64 or string.
type Result struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// Gateway validates and runs read-only queries against the store.
type Gateway struct {
	store store.Store
}

func New(s store.Store) *Gateway {
	return &Gateway{store: s}
}

// Validate rejects anything that is not a plain SELECT.
func Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return apperr.New(apperr.Validation, "Only SELECT queries are allowed")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return apperr.New(apperr.Validation, "Only SELECT queries are allowed")
	}

	upper := strings.ToUpper(trimmed)
	for _, word := range wordRe.FindAllString(upper, -1) {
		for _, kw := range forbiddenKeywords {
			if word == kw {
				return apperr.New(apperr.Validation, "query contains forbidden keyword: %s", kw)
			}
		}
	}
	return nil
}

// Execute validates the query, applies the default limit when none is
// present, and normalizes every scalar in the result.
func (g *Gateway) Execute(ctx context.Context, query string, limit int) (*Result, error) {
	if err := Validate(query); err != nil {
		return nil, err
	}

	effective := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if !strings.Contains(strings.ToUpper(effective), "LIMIT") {
		if limit <= 0 {
			limit = DefaultLimit
		}
		effective = fmt.Sprintf("%s LIMIT %d", effective, limit)
	}

	columns, rows, err := g.store.Query(ctx, effective)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		for i, v := range row {
			row[i] = normalize(v)
		}
	}

	return &Result{Columns: columns, Rows: rows, RowCount: len(rows)}, nil
}

// normalize degrades driver-native values to the generic scalar set.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return val
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return val
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
