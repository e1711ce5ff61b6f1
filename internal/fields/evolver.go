// Package fields keeps the flattened issue view's schema in step with
// the remote field catalog and backfills its columns from raw payloads.
package fields

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ysksm/jiramirror/internal/apperr"
	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/store"
)

// deniedFields are low-value internal fields that never become view
// columns: large collections, UI artifacts, and permission plumbing.
var deniedFields = map[string]bool{
	"comment":         true,
	"attachment":      true,
	"worklog":         true,
	"thumbnail":       true,
	"votes":           true,
	"watches":         true,
	"lastViewed":      true,
	"issuerestriction": true,
}

// Expandable reports whether a field definition should get a column in
// the flattened view.
func Expandable(f *models.Field) bool {
	return !deniedFields[f.ID] && !deniedFields[f.Key]
}

// ColumnType maps a declared schema type onto a SQLite column type.
// Arrays and issue links are stored as JSON text.
func ColumnType(f *models.Field) string {
	switch f.SchemaType {
	case "string":
		return "TEXT"
	case "number":
		return "REAL"
	case "datetime":
		return "TIMESTAMP"
	case "date":
		return "DATE"
	case "array", "issuelink":
		return "TEXT"
	default:
		return "TEXT"
	}
}

// ColumnName derives a collision-safe identifier from a field
// definition: lower-cased, non-alphanumerics collapsed to underscores,
// custom fields prefixed cf_. customfield_10020 "Story Points" becomes
// cf_story_points.
func ColumnName(f *models.Field) string {
	var b strings.Builder
	for _, r := range strings.ToLower(f.Name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	if name == "" {
		name = strings.ToLower(f.ID)
	}
	if f.Custom {
		return "cf_" + name
	}
	return name
}

// Result aggregates the counts of one evolver run.
type Result struct {
	FieldsSynced   int `json:"fields_synced"`
	ColumnsAdded   int `json:"columns_added"`
	IssuesExpanded int `json:"issues_expanded"`
}

// Evolver runs the three-step fields pipeline: sync definitions, add
// missing view columns, backfill rows from raw JSON.
type Evolver struct {
	source jira.Source
	store  store.Store
	logger *slog.Logger
}

func NewEvolver(source jira.Source, s store.Store, logger *slog.Logger) *Evolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evolver{source: source, store: s, logger: logger}
}

// SyncFields fetches the remote field catalog and upserts it locally.
func (e *Evolver) SyncFields(ctx context.Context) (int, error) {
	fields, err := e.source.GetFields(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.store.UpsertFields(ctx, fields); err != nil {
		return 0, err
	}
	return len(fields), nil
}

// AddColumns adds a view column for every expandable stored field that
// does not have one yet. Purely additive: existing columns are never
// dropped or renamed, and a second run is a no-op.
func (e *Evolver) AddColumns(ctx context.Context) (int, error) {
	fields, err := e.store.ListFields(ctx)
	if err != nil {
		return 0, err
	}
	existing, err := e.store.IssueViewColumns(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	added := 0
	for _, f := range fields {
		if !Expandable(f) {
			continue
		}
		name := ColumnName(f)
		if have[name] {
			continue
		}
		if err := e.store.AddIssueViewColumn(ctx, name, ColumnType(f)); err != nil {
			return added, err
		}
		have[name] = true
		added++
	}
	return added, nil
}

// ExpandIssues walks stored raw payloads and fills the view's columns
// for the given project, or for all projects when projectID is empty.
func (e *Evolver) ExpandIssues(ctx context.Context, projectID string) (int, error) {
	fields, err := e.store.ListFields(ctx)
	if err != nil {
		return 0, err
	}
	existing, err := e.store.IssueViewColumns(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	// Only fields that actually have a column get extracted.
	type binding struct {
		field  *models.Field
		column string
	}
	var bindings []binding
	for _, f := range fields {
		if !Expandable(f) {
			continue
		}
		name := ColumnName(f)
		if have[name] {
			bindings = append(bindings, binding{field: f, column: name})
		}
	}

	expanded := 0
	after := ""
	for {
		issues, err := e.store.ListIssuesAfter(ctx, projectID, after, 50)
		if err != nil {
			return expanded, err
		}
		if len(issues) == 0 {
			return expanded, nil
		}

		for _, issue := range issues {
			values := make(map[string]any, len(bindings))
			for _, b := range bindings {
				values[b.column] = extractValue(issue.RawJSON, b.field)
			}
			if err := e.store.UpsertIssueViewRow(ctx, issue.ID, issue.Key, issue.ProjectID, values); err != nil {
				return expanded, err
			}
			expanded++
		}
		after = issues[len(issues)-1].ID
	}
}

// extractValue pulls one field's value from the raw payload and
// flattens it to something a single column can hold.
func extractValue(rawJSON string, f *models.Field) any {
	v := gjson.Get(rawJSON, "fields."+f.ID)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}

	switch f.SchemaType {
	case "number":
		return v.Float()
	case "array", "issuelink":
		return v.Raw
	case "datetime":
		if t, ok := parseFieldTime(v.String()); ok {
			return t
		}
		return v.String()
	case "date":
		return v.String()
	}

	// Objects usually carry their display value under name or value.
	if v.IsObject() {
		if name := v.Get("name"); name.Exists() {
			return name.String()
		}
		if val := v.Get("value"); val.Exists() {
			return val.String()
		}
		if dn := v.Get("displayName"); dn.Exists() {
			return dn.String()
		}
		return v.Raw
	}
	return v.String()
}

var fieldTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
}

func parseFieldTime(s string) (time.Time, bool) {
	for _, layout := range fieldTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Execute composes the pipeline. A fields fetch failure aborts the
// whole run since everything downstream depends on the catalog; column
// and expand failures are reported but leave earlier steps in place.
func (e *Evolver) Execute(ctx context.Context, projectID string) (*Result, error) {
	result := &Result{}

	synced, err := e.SyncFields(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindOf(err), err, "sync fields")
	}
	result.FieldsSynced = synced

	added, err := e.AddColumns(ctx)
	result.ColumnsAdded = added
	if err != nil {
		e.logger.Error("add columns failed", "error", err)
		return result, err
	}

	expanded, err := e.ExpandIssues(ctx, projectID)
	result.IssuesExpanded = expanded
	if err != nil {
		e.logger.Error("expand issues failed", "error", err)
		return result, err
	}

	e.logger.Info("field pipeline complete",
		"fields_synced", result.FieldsSynced,
		"columns_added", result.ColumnsAdded,
		"issues_expanded", result.IssuesExpanded)
	return result, nil
}
