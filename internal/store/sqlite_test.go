package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysksm/jiramirror/internal/apperr"
	"github.com/ysksm/jiramirror/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testProject(key string) *models.Project {
	return &models.Project{
		ID:          "proj-" + key,
		Key:         key,
		Name:        key + " project",
		Description: "test project",
	}
}

func testIssue(projectID, key string, updated time.Time) *models.Issue {
	return &models.Issue{
		ID:          "id-" + key,
		ProjectID:   projectID,
		Key:         key,
		Summary:     "summary of " + key,
		Status:      "Open",
		Priority:    "Medium",
		IssueType:   "Task",
		Labels:      []string{"backend"},
		CreatedDate: updated.Add(-24 * time.Hour),
		UpdatedDate: updated,
		RawJSON:     fmt.Sprintf(`{"id":"id-%s","key":"%s"}`, key, key),
	}
}

func TestUpsertProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))

	got, err := s.GetProjectByKey(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "PROJ project", got.Name)

	// Re-upsert with changed name is an update, not a duplicate.
	p.Name = "renamed"
	require.NoError(t, s.UpsertProject(ctx, p))

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "renamed", projects[0].Name)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProject(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = s.GetProjectByKey(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestUpsertIssues_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))

	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	issues := []*models.Issue{
		testIssue(p.ID, "PROJ-1", updated),
		testIssue(p.ID, "PROJ-2", updated.Add(time.Hour)),
	}
	require.NoError(t, s.UpsertIssues(ctx, issues))
	require.NoError(t, s.UpsertIssues(ctx, issues))

	listed, err := s.ListIssues(ctx, IssueListFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	got, err := s.GetIssueByKey(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "summary of PROJ-1", got.Summary)
	assert.Equal(t, []string{"backend"}, got.Labels)
	require.NotNil(t, got.SyncedAt)
}

func TestUpsertIssues_Empty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertIssues(context.Background(), nil))
}

func TestListIssues_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := testIssue(p.ID, "PROJ-1", base)
	a.Status = "Done"
	a.Assignee = "alice"
	b := testIssue(p.ID, "PROJ-2", base.Add(time.Hour))
	b.Status = "Open"
	b.Assignee = "bob"
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{a, b}))

	done, err := s.ListIssues(ctx, IssueListFilter{ProjectID: p.ID, Status: "Done"})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "PROJ-1", done[0].Key)

	bobs, err := s.ListIssues(ctx, IssueListFilter{Assignee: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "PROJ-2", bobs[0].Key)

	limited, err := s.ListIssues(ctx, IssueListFilter{ProjectID: p.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	// Most recently updated first.
	assert.Equal(t, "PROJ-2", limited[0].Key)
}

func TestListIssuesAfter_Pages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var issues []*models.Issue
	for i := 1; i <= 5; i++ {
		issues = append(issues, testIssue(p.ID, fmt.Sprintf("PROJ-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.UpsertIssues(ctx, issues))

	var seen []string
	after := ""
	for {
		page, err := s.ListIssuesAfter(ctx, p.ID, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, issue := range page {
			seen = append(seen, issue.Key)
		}
		after = page[len(page)-1].ID
	}
	assert.Len(t, seen, 5)
}

func TestMaxIssueUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))

	max, err := s.MaxIssueUpdated(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, max)

	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{
		testIssue(p.ID, "PROJ-1", t2),
		testIssue(p.ID, "PROJ-2", t1),
	}))

	max, err = s.MaxIssueUpdated(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, max)
	assert.True(t, max.Equal(t2))
}

func TestCountIssuesByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))

	base := time.Now().UTC()
	a := testIssue(p.ID, "PROJ-1", base)
	a.Status = "Open"
	b := testIssue(p.ID, "PROJ-2", base)
	b.Status = "Open"
	c := testIssue(p.ID, "PROJ-3", base)
	c.Status = "Done"
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{a, b, c}))

	counts, err := s.CountIssuesByStatus(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Open": 2, "Done": 1}, counts)
}

func TestHistory_DeleteThenInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	changed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []models.ChangeHistoryItem{
		{IssueID: "id-1", IssueKey: "PROJ-1", HistoryID: "100", Field: "status", FromString: "Open", ToString: "Done", ChangedAt: changed},
		{IssueID: "id-1", IssueKey: "PROJ-1", HistoryID: "101", Field: "assignee", ToString: "alice", ChangedAt: changed.Add(time.Hour)},
	}

	// Re-sync pattern: delete then insert, run twice, still two rows.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.DeleteIssueHistory(ctx, "id-1"))
		require.NoError(t, s.InsertHistoryItems(ctx, items))
	}

	got, err := s.ListIssueHistory(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recent first.
	assert.Equal(t, "assignee", got[0].Field)
	assert.Equal(t, "status", got[1].Field)
}

func TestSnapshots_StoreAndQueryAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1From := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v2From := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	snaps := []*models.IssueSnapshot{
		{IssueID: "id-1", IssueKey: "PROJ-1", ProjectID: "p1", Version: 1, ValidFrom: v1From, ValidTo: &v2From, Status: "Open"},
		{IssueID: "id-1", IssueKey: "PROJ-1", ProjectID: "p1", Version: 2, ValidFrom: v2From, Status: "Done", RawData: `{"id":"id-1"}`},
	}
	require.NoError(t, s.InsertSnapshots(ctx, snaps))

	listed, err := s.ListIssueSnapshots(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].Version)
	require.NotNil(t, listed[0].ValidTo)
	assert.Nil(t, listed[1].ValidTo)

	// Mid-January falls in version 1's interval.
	at, err := s.GetSnapshotAt(ctx, "PROJ-1", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, at.Version)
	assert.Equal(t, "Open", at.Status)

	// The boundary instant belongs to the newer version (closed-open).
	at, err = s.GetSnapshotAt(ctx, "PROJ-1", v2From)
	require.NoError(t, err)
	assert.Equal(t, 2, at.Version)

	// After the open end, still version 2.
	at, err = s.GetSnapshotAt(ctx, "PROJ-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, at.Version)

	// Before the first version: no snapshot.
	_, err = s.GetSnapshotAt(ctx, "PROJ-1", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestSnapshots_DeleteRegenerate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := []*models.IssueSnapshot{{IssueID: "id-1", IssueKey: "PROJ-1", ProjectID: "p1", Version: 1, ValidFrom: from}}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.DeleteIssueSnapshots(ctx, "id-1"))
		require.NoError(t, s.InsertSnapshots(ctx, snap))
	}

	listed, err := s.ListIssueSnapshots(ctx, "id-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestUpsertFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fields := []*models.Field{
		{ID: "summary", Key: "summary", Name: "Summary", SchemaType: "string", Orderable: true},
		{ID: "customfield_10001", Key: "customfield_10001", Name: "Story Points", Custom: true, SchemaType: "number", SchemaCustomID: 10001},
	}
	require.NoError(t, s.UpsertFields(ctx, fields))

	fields[1].Name = "Story Points (renamed)"
	require.NoError(t, s.UpsertFields(ctx, fields))

	got, err := s.ListFields(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Story Points (renamed)", got[0].Name)
	assert.True(t, got[0].Custom)
	assert.Equal(t, int64(10001), got[0].SchemaCustomID)
	assert.True(t, got[1].Orderable)
}

func TestMetadata_UpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []models.MetadataItem{
		{ProjectID: "p1", Kind: models.MetadataStatus, Name: "Open"},
		{ProjectID: "p1", Kind: models.MetadataStatus, Name: "Done", Description: "terminal"},
		{ProjectID: "p1", Kind: models.MetadataPriority, Name: "High"},
	}
	require.NoError(t, s.UpsertMetadata(ctx, items))
	require.NoError(t, s.UpsertMetadata(ctx, items))

	statuses, err := s.ListMetadata(ctx, "p1", models.MetadataStatus)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "Done", statuses[0].Name)
	assert.Equal(t, "terminal", statuses[0].Description)

	priorities, err := s.ListMetadata(ctx, "p1", models.MetadataPriority)
	require.NoError(t, err)
	assert.Len(t, priorities, 1)
}

func TestSyncHistory_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := &models.SyncHistory{ProjectID: "p1", SyncType: models.SyncTypeIncremental}
	require.NoError(t, s.CreateSyncHistory(ctx, h))
	require.NotEmpty(t, h.ID)
	assert.Equal(t, models.SyncStatusRunning, h.Status)

	require.NoError(t, s.FinishSyncHistory(ctx, h.ID, models.SyncStatusCompleted, 42, ""))

	latest, err := s.FindLatestSyncHistory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, latest.Status)
	assert.Equal(t, 42, latest.ItemsSynced)
	require.NotNil(t, latest.CompletedAt)

	// A second finish on an already-terminal row is refused.
	err = s.FinishSyncHistory(ctx, h.ID, models.SyncStatusFailed, 0, "late failure")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	latest, err = s.FindLatestSyncHistory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, latest.Status)
}

func TestSweepRunningSyncs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	running := &models.SyncHistory{ProjectID: "p1", SyncType: models.SyncTypeFull}
	require.NoError(t, s.CreateSyncHistory(ctx, running))

	done := &models.SyncHistory{ProjectID: "p2", SyncType: models.SyncTypeFull}
	require.NoError(t, s.CreateSyncHistory(ctx, done))
	require.NoError(t, s.FinishSyncHistory(ctx, done.ID, models.SyncStatusCompleted, 1, ""))

	n, err := s.SweepRunningSyncs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	swept, err := s.FindLatestSyncHistory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, swept.Status)
	assert.Contains(t, swept.ErrorMessage, "interrupted")

	// Completed rows are untouched.
	kept, err := s.FindLatestSyncHistory(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, kept.Status)
}

func TestListSyncHistory_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h := &models.SyncHistory{
			ProjectID: "p1",
			SyncType:  models.SyncTypeIncremental,
			StartedAt: time.Date(2024, 3, 1, i, 0, 0, 0, time.UTC),
		}
		require.NoError(t, s.CreateSyncHistory(ctx, h))
	}

	got, err := s.ListSyncHistory(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].StartedAt.After(got[1].StartedAt))
}

func TestIssueView_AddColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	columns, err := s.IssueViewColumns(ctx)
	require.NoError(t, err)
	assert.Contains(t, columns, "issue_id")
	assert.NotContains(t, columns, "cf_story_points")

	require.NoError(t, s.AddIssueViewColumn(ctx, "cf_story_points", "REAL"))

	columns, err = s.IssueViewColumns(ctx)
	require.NoError(t, err)
	assert.Contains(t, columns, "cf_story_points")

	// Adding again fails at the SQL level; the evolver checks existence
	// first, so here we only care that the error is a repository error.
	err = s.AddIssueViewColumn(ctx, "cf_story_points", "REAL")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Repository))
}

func TestIssueView_RejectsBadIdentifiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AddIssueViewColumn(ctx, `bad"name`, "TEXT")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))

	err = s.AddIssueViewColumn(ctx, "ok_name", "BLOB")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))

	err = s.UpsertIssueViewRow(ctx, "id-1", "PROJ-1", "p1", map[string]any{"drop table": 1})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestIssueView_UpsertRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddIssueViewColumn(ctx, "cf_story_points", "REAL"))
	require.NoError(t, s.AddIssueViewColumn(ctx, "cf_team", "TEXT"))

	values := map[string]any{"cf_story_points": 5.0, "cf_team": "core"}
	require.NoError(t, s.UpsertIssueViewRow(ctx, "id-1", "PROJ-1", "p1", values))

	values["cf_story_points"] = 8.0
	require.NoError(t, s.UpsertIssueViewRow(ctx, "id-1", "PROJ-1", "p1", values))

	columns, rows, err := s.Query(ctx, "SELECT issue_key, cf_story_points, cf_team FROM issue_view")
	require.NoError(t, err)
	assert.Equal(t, []string{"issue_key", "cf_story_points", "cf_team"}, columns)
	require.Len(t, rows, 1)
	assert.Equal(t, "PROJ-1", rows[0][0])
	assert.Equal(t, 8.0, rows[0][1])
	assert.Equal(t, "core", rows[0][2])
}

func TestQuery_Generic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProject("PROJ")
	require.NoError(t, s.UpsertProject(ctx, p))
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{
		testIssue(p.ID, "PROJ-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
	}))

	columns, rows, err := s.Query(ctx, "SELECT key, summary FROM issues ORDER BY key")
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "summary"}, columns)
	require.Len(t, rows, 1)
	assert.Equal(t, "PROJ-1", rows[0][0])
}

func TestQuery_BadSQL(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Query(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Repository))
}

func TestCheckpoint(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Checkpoint(context.Background()))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}
