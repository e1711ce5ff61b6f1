// Package snapshot reconstructs point-in-time issue versions from the
// current issue state and its extracted change history.
package snapshot

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/store"
)

// issueState carries the tracked fields as they evolve through replay.
type issueState struct {
	summary     string
	description string
	status      string
	priority    string
	assignee    string
	issueType   string
	resolution  string
}

func stateFromIssue(issue *models.Issue) issueState {
	return issueState{
		summary:     issue.Summary,
		description: issue.Description,
		status:      issue.Status,
		priority:    issue.Priority,
		assignee:    issue.Assignee,
		issueType:   issue.IssueType,
		resolution:  issue.Resolution,
	}
}

// apply sets the tracked field named by the changelog entry. Changelog
// field names are matched case-insensitively; untracked fields leave
// the state alone (the event still produces a version).
func (st *issueState) apply(field, value string) {
	switch strings.ToLower(field) {
	case "summary":
		st.summary = value
	case "description":
		st.description = value
	case "status":
		st.status = value
	case "priority":
		st.priority = value
	case "assignee":
		st.assignee = value
	case "issuetype":
		st.issueType = value
	case "resolution":
		st.resolution = value
	}
}

func (st issueState) snapshot(issue *models.Issue, version int) *models.IssueSnapshot {
	return &models.IssueSnapshot{
		IssueID:     issue.ID,
		IssueKey:    issue.Key,
		ProjectID:   issue.ProjectID,
		Version:     version,
		Summary:     st.summary,
		Description: st.description,
		Status:      st.status,
		Priority:    st.priority,
		Assignee:    st.assignee,
		IssueType:   st.issueType,
		Resolution:  st.resolution,
	}
}

// Build reconstructs the full version chain for an issue: k history
// events yield k+1 versions. Version 1 starts at the issue's creation;
// each event closes the previous version at its timestamp and opens
// the next. Only the last version has an open interval, and only it
// carries the raw payload.
func Build(issue *models.Issue, history []*models.ChangeHistoryItem) []*models.IssueSnapshot {
	events := make([]*models.ChangeHistoryItem, len(history))
	copy(events, history)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ChangedAt.Before(events[j].ChangedAt)
	})

	// The issue row holds the latest state; rewind through the events
	// newest-first to recover the state at creation.
	state := stateFromIssue(issue)
	for i := len(events) - 1; i >= 0; i-- {
		state.apply(events[i].Field, events[i].FromString)
	}

	snaps := make([]*models.IssueSnapshot, 0, len(events)+1)

	first := state.snapshot(issue, 1)
	first.ValidFrom = issue.CreatedDate
	snaps = append(snaps, first)

	for i, ev := range events {
		at := ev.ChangedAt
		snaps[len(snaps)-1].ValidTo = &at

		state.apply(ev.Field, ev.ToString)
		next := state.snapshot(issue, i+2)
		next.ValidFrom = at
		snaps = append(snaps, next)
	}

	current := snaps[len(snaps)-1]
	current.RawData = issue.RawJSON
	if !issue.UpdatedDate.IsZero() {
		u := issue.UpdatedDate
		current.UpdatedDate = &u
	}

	return snaps
}

// Generator persists rebuilt snapshot chains.
type Generator struct {
	store store.Store
}

func NewGenerator(s store.Store) *Generator {
	return &Generator{store: s}
}

// Regenerate rebuilds one issue's chain from scratch. Delete plus
// insert makes the operation idempotent without version diffing.
func (g *Generator) Regenerate(ctx context.Context, issue *models.Issue) (int, error) {
	history, err := g.store.ListIssueHistory(ctx, issue.ID)
	if err != nil {
		return 0, err
	}

	snaps := Build(issue, history)

	if err := g.store.DeleteIssueSnapshots(ctx, issue.ID); err != nil {
		return 0, err
	}
	if err := g.store.InsertSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// RegenerateProject rebuilds every issue in the project, paging through
// the store so large projects never load fully into memory.
func (g *Generator) RegenerateProject(ctx context.Context, projectID string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	total := 0
	after := ""
	for {
		issues, err := g.store.ListIssuesAfter(ctx, projectID, after, batchSize)
		if err != nil {
			return total, err
		}
		if len(issues) == 0 {
			return total, nil
		}

		for _, issue := range issues {
			n, err := g.Regenerate(ctx, issue)
			if err != nil {
				return total, err
			}
			total += n
		}
		after = issues[len(issues)-1].ID
		slog.Debug("snapshot batch done", "project", projectID, "versions", total)
	}
}
