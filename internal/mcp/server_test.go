package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/snapshot"
	"github.com/ysksm/jiramirror/internal/store"
	"github.com/ysksm/jiramirror/internal/sync"
)

// fakeSource serves one project with one issue for the sync tool.
type fakeSource struct {
	jira.Source
	project *models.Project
	issues  []*models.Issue
}

func (f *fakeSource) GetProject(ctx context.Context, key string) (*models.Project, error) {
	return f.project, nil
}

func (f *fakeSource) SearchIssues(ctx context.Context, req jira.BatchRequest) (*jira.BatchPage, error) {
	return &jira.BatchPage{Issues: f.issues, Total: len(f.issues), FetchedSoFar: len(f.issues)}, nil
}

func (f *fakeSource) GetStatuses(ctx context.Context) ([]models.MetadataItem, error) {
	return nil, nil
}
func (f *fakeSource) GetPriorities(ctx context.Context) ([]models.MetadataItem, error) {
	return nil, nil
}
func (f *fakeSource) GetIssueTypes(ctx context.Context, projectKey string) ([]models.MetadataItem, error) {
	return nil, nil
}
func (f *fakeSource) GetLabels(ctx context.Context) ([]models.MetadataItem, error) { return nil, nil }
func (f *fakeSource) GetComponents(ctx context.Context, projectKey string) ([]models.MetadataItem, error) {
	return nil, nil
}
func (f *fakeSource) GetVersions(ctx context.Context, projectKey string) ([]models.MetadataItem, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	source := &fakeSource{
		project: &models.Project{ID: "p1", Key: "PROJ", Name: "Project"},
		issues: []*models.Issue{{
			ID: "1", ProjectID: "p1", Key: "PROJ-1", Summary: "remote",
			Status: "Open", UpdatedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			RawJSON: `{"id":"1","key":"PROJ-1"}`,
		}},
	}
	return NewServer(s, source, sync.Config{}), s
}

func seedStore(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertProject(ctx, &models.Project{ID: "p1", Key: "PROJ", Name: "Project"}))
	require.NoError(t, s.UpsertIssues(ctx, []*models.Issue{
		{ID: "1", ProjectID: "p1", Key: "PROJ-1", Summary: "first", Status: "Open", Priority: "High",
			UpdatedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", ProjectID: "p1", Key: "PROJ-2", Summary: "second", Status: "Done", Priority: "Low",
			UpdatedDate: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}))
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcpgo.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestHandleListProjects(t *testing.T) {
	srv, s := newTestServer(t)
	seedStore(t, s)

	result, err := srv.handleListProjects(context.Background(), callToolReq("jira_list_projects", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var projects []models.Project
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "PROJ", projects[0].Key)
}

func TestHandleSyncProject(t *testing.T) {
	srv, s := newTestServer(t)

	result, err := srv.handleSyncProject(context.Background(),
		callToolReq("jira_sync_project", map[string]any{"project": "PROJ", "type": "full"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var syncResult models.SyncResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &syncResult))
	assert.True(t, syncResult.Success)
	assert.Equal(t, 1, syncResult.IssuesSynced)

	// Status tool sees the completed run.
	status, err := srv.handleSyncStatus(context.Background(),
		callToolReq("jira_sync_status", map[string]any{"project": "PROJ"}))
	require.NoError(t, err)
	require.False(t, status.IsError)
	assert.Contains(t, textContent(t, status), `"status":"completed"`)

	_, err = s.GetIssueByKey(context.Background(), "PROJ-1")
	require.NoError(t, err)
}

func TestHandleSyncProject_MissingParam(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleSyncProject(context.Background(), callToolReq("jira_sync_project", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListIssues(t *testing.T) {
	srv, s := newTestServer(t)
	seedStore(t, s)

	result, err := srv.handleListIssues(context.Background(),
		callToolReq("jira_list_issues", map[string]any{"project": "PROJ", "status": "Done"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var issues []models.Issue
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "PROJ-2", issues[0].Key)
}

func TestHandleIssueHistory(t *testing.T) {
	srv, s := newTestServer(t)
	seedStore(t, s)

	require.NoError(t, s.InsertHistoryItems(context.Background(), []models.ChangeHistoryItem{{
		IssueID: "1", IssueKey: "PROJ-1", HistoryID: "h1",
		Field: "status", FromString: "Open", ToString: "Done",
		ChangedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}))

	result, err := srv.handleIssueHistory(context.Background(),
		callToolReq("jira_issue_history", map[string]any{"issue": "PROJ-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), `"field":"status"`)
}

func TestHandleIssueSnapshot(t *testing.T) {
	srv, s := newTestServer(t)
	seedStore(t, s)
	ctx := context.Background()

	issue, err := s.GetIssueByKey(ctx, "PROJ-1")
	require.NoError(t, err)
	_, err = snapshot.NewGenerator(s).Regenerate(ctx, issue)
	require.NoError(t, err)

	result, err := srv.handleIssueSnapshot(ctx,
		callToolReq("jira_issue_snapshot", map[string]any{"issue": "PROJ-1", "at": "2024-06-01T00:00:00Z"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), `"version":1`)

	bad, err := srv.handleIssueSnapshot(ctx,
		callToolReq("jira_issue_snapshot", map[string]any{"issue": "PROJ-1", "at": "yesterday"}))
	require.NoError(t, err)
	assert.True(t, bad.IsError)
}

func TestHandleQuerySQL(t *testing.T) {
	srv, s := newTestServer(t)
	seedStore(t, s)

	result, err := srv.handleQuerySQL(context.Background(),
		callToolReq("jira_query_sql", map[string]any{"query": "SELECT key FROM issues ORDER BY key"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), `"row_count":2`)

	rejected, err := srv.handleQuerySQL(context.Background(),
		callToolReq("jira_query_sql", map[string]any{"query": "DROP TABLE issues"}))
	require.NoError(t, err)
	assert.True(t, rejected.IsError)
}

func TestHandleProjectReport(t *testing.T) {
	srv, s := newTestServer(t)
	seedStore(t, s)

	result, err := srv.handleProjectReport(context.Background(),
		callToolReq("jira_project_report", map[string]any{"project": "PROJ"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	out := textContent(t, result)
	assert.Contains(t, out, `"total_issues":2`)
	assert.Contains(t, out, `"Open":1`)
}

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())
}
