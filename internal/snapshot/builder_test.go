package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func historyIssue() *models.Issue {
	return &models.Issue{
		ID:          "10001",
		ProjectID:   "p1",
		Key:         "PROJ-1",
		Summary:     "final summary",
		Status:      "Done",
		Priority:    "High",
		IssueType:   "Task",
		CreatedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		RawJSON:     `{"id":"10001","key":"PROJ-1"}`,
	}
}

func historyEvents() []*models.ChangeHistoryItem {
	return []*models.ChangeHistoryItem{
		{
			IssueID: "10001", IssueKey: "PROJ-1", HistoryID: "100",
			Field: "status", FromString: "Open", ToString: "In Progress",
			ChangedAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			IssueID: "10001", IssueKey: "PROJ-1", HistoryID: "101",
			Field: "priority", FromString: "Medium", ToString: "High",
			ChangedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			IssueID: "10001", IssueKey: "PROJ-1", HistoryID: "102",
			Field: "status", FromString: "In Progress", ToString: "Done",
			ChangedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestBuild_VersionChain(t *testing.T) {
	snaps := Build(historyIssue(), historyEvents())

	// Three events give four versions.
	require.Len(t, snaps, 4)

	// Version 1: rewound initial state, valid from creation.
	v1 := snaps[0]
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "Open", v1.Status)
	assert.Equal(t, "Medium", v1.Priority)
	assert.True(t, v1.ValidFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, v1.ValidTo)
	assert.True(t, v1.ValidTo.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))

	// Intervals chain: each valid_from equals the previous valid_to.
	for i := 1; i < len(snaps); i++ {
		require.NotNil(t, snaps[i-1].ValidTo)
		assert.True(t, snaps[i].ValidFrom.Equal(*snaps[i-1].ValidTo),
			"version %d should start where version %d ends", snaps[i].Version, snaps[i-1].Version)
	}

	v2 := snaps[1]
	assert.Equal(t, "In Progress", v2.Status)
	assert.Equal(t, "Medium", v2.Priority)

	v3 := snaps[2]
	assert.Equal(t, "In Progress", v3.Status)
	assert.Equal(t, "High", v3.Priority)

	// Current version: open interval, raw payload attached.
	v4 := snaps[3]
	assert.Equal(t, "Done", v4.Status)
	assert.Nil(t, v4.ValidTo)
	assert.NotEmpty(t, v4.RawData)
	require.NotNil(t, v4.UpdatedDate)

	// Only the current version has an open interval or raw data.
	for _, snap := range snaps[:3] {
		assert.NotNil(t, snap.ValidTo)
		assert.Empty(t, snap.RawData)
	}
}

func TestBuild_NoHistory(t *testing.T) {
	issue := historyIssue()
	snaps := Build(issue, nil)

	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].Version)
	assert.Equal(t, "Done", snaps[0].Status)
	assert.Nil(t, snaps[0].ValidTo)
	assert.Equal(t, issue.RawJSON, snaps[0].RawData)
}

func TestBuild_UnsortedInput(t *testing.T) {
	events := historyEvents()
	events[0], events[2] = events[2], events[0]

	snaps := Build(historyIssue(), events)
	require.Len(t, snaps, 4)
	assert.Equal(t, "Open", snaps[0].Status)
	assert.Equal(t, "Done", snaps[3].Status)
}

func TestBuild_UntrackedFieldStillVersions(t *testing.T) {
	issue := historyIssue()
	events := []*models.ChangeHistoryItem{{
		IssueID: issue.ID, IssueKey: issue.Key, HistoryID: "200",
		Field: "Fix Version", FromString: "", ToString: "1.0",
		ChangedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}}

	snaps := Build(issue, events)
	require.Len(t, snaps, 2)
	// Tracked fields are identical across the boundary.
	assert.Equal(t, snaps[0].Status, snaps[1].Status)
	assert.Equal(t, snaps[0].Summary, snaps[1].Summary)
}

func TestRegenerate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := historyIssue()
	require.NoError(t, s.UpsertProject(ctx, &models.Project{ID: "p1", Key: "PROJ"}))
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{issue}))

	events := historyEvents()
	items := make([]models.ChangeHistoryItem, len(events))
	for i, ev := range events {
		items[i] = *ev
	}
	require.NoError(t, s.InsertHistoryItems(ctx, items))

	g := NewGenerator(s)
	for i := 0; i < 3; i++ {
		n, err := g.Regenerate(ctx, issue)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}

	snaps, err := s.ListIssueSnapshots(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 4)

	open := 0
	for _, snap := range snaps {
		if snap.ValidTo == nil {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestRegenerateProject_Pages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProject(ctx, &models.Project{ID: "p1", Key: "PROJ"}))

	var issues []*models.Issue
	for i := 1; i <= 7; i++ {
		issue := historyIssue()
		issue.ID = fmt.Sprintf("2000%d", i)
		issue.Key = fmt.Sprintf("PROJ-%d", i)
		issues = append(issues, issue)
	}
	require.NoError(t, s.UpsertIssues(ctx, issues))

	g := NewGenerator(s)
	total, err := g.RegenerateProject(ctx, "p1", 3)
	require.NoError(t, err)
	// No history: one version each.
	assert.Equal(t, 7, total)
}

func TestGetSnapshotAt_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := historyIssue()
	require.NoError(t, s.UpsertProject(ctx, &models.Project{ID: "p1", Key: "PROJ"}))
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{issue}))

	events := historyEvents()
	items := make([]models.ChangeHistoryItem, len(events))
	for i, ev := range events {
		items[i] = *ev
	}
	require.NoError(t, s.InsertHistoryItems(ctx, items))

	_, err := NewGenerator(s).Regenerate(ctx, issue)
	require.NoError(t, err)

	// Mid-January: after the first status change, before the priority bump.
	snap, err := s.GetSnapshotAt(ctx, "PROJ-1", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "In Progress", snap.Status)
	assert.Equal(t, "Medium", snap.Priority)
}
