// Package report aggregates per-project breakdowns from the mirror.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/store"
)

// Builder assembles ReportData from the local store only; no remote
// calls, so reports work offline against the last synced state.
type Builder struct {
	store store.Store
}

func NewBuilder(s store.Store) *Builder {
	return &Builder{store: s}
}

// BuildProject aggregates the project's issues into breakdown maps and
// attaches recent change history.
func (b *Builder) BuildProject(ctx context.Context, projectKey string) (*models.ReportData, error) {
	project, err := b.store.GetProjectByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	issues, err := b.store.ListIssues(ctx, store.IssueListFilter{ProjectID: project.ID})
	if err != nil {
		return nil, err
	}

	data := &models.ReportData{
		Project:     project,
		TotalIssues: len(issues),
		ByStatus:    map[string]int{},
		ByPriority:  map[string]int{},
		ByAssignee:  map[string]int{},
		ByType:      map[string]int{},
		ByComponent: map[string]int{},
		Issues:      issues,
	}

	for _, issue := range issues {
		bump(data.ByStatus, issue.Status)
		bump(data.ByPriority, issue.Priority)
		bump(data.ByAssignee, issue.Assignee)
		bump(data.ByType, issue.IssueType)
		for _, comp := range issue.Components {
			bump(data.ByComponent, comp)
		}
	}

	// Recent history across the project, newest issues first; capped so
	// the report stays readable.
	const historyCap = 50
	for _, issue := range issues {
		if len(data.IssueHistory) >= historyCap {
			break
		}
		items, err := b.store.ListIssueHistory(ctx, issue.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if len(data.IssueHistory) >= historyCap {
				break
			}
			data.IssueHistory = append(data.IssueHistory, item)
		}
	}

	return data, nil
}

func bump(m map[string]int, key string) {
	if key == "" {
		key = "(none)"
	}
	m[key]++
}

// WriteCSV renders the issue list as CSV.
func WriteCSV(w io.Writer, data *models.ReportData) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key", "summary", "status", "priority", "assignee", "type", "updated"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, issue := range data.Issues {
		updated := ""
		if !issue.UpdatedDate.IsZero() {
			updated = issue.UpdatedDate.Format("2006-01-02")
		}
		record := []string{issue.Key, issue.Summary, issue.Status, issue.Priority, issue.Assignee, issue.IssueType, updated}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", issue.Key, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMarkdown renders the breakdowns and issue table as Markdown.
func WriteMarkdown(w io.Writer, data *models.ReportData) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s (%s)\n\n", data.Project.Name, data.Project.Key)
	fmt.Fprintf(&b, "Total issues: %d\n\n", data.TotalIssues)

	writeBreakdown(&b, "By Status", data.ByStatus)
	writeBreakdown(&b, "By Priority", data.ByPriority)
	writeBreakdown(&b, "By Assignee", data.ByAssignee)
	writeBreakdown(&b, "By Type", data.ByType)
	writeBreakdown(&b, "By Component", data.ByComponent)

	b.WriteString("## Issues\n\n")
	b.WriteString("| Key | Summary | Status | Priority | Assignee |\n")
	b.WriteString("|-----|---------|--------|----------|----------|\n")
	for _, issue := range data.Issues {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			issue.Key, issue.Summary, issue.Status, issue.Priority, issue.Assignee)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeBreakdown(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %d\n", k, counts[k])
	}
	b.WriteString("\n")
}
