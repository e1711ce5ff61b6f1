// Package mcp exposes the mirror as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ysksm/jiramirror/internal/gateway"
	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/report"
	"github.com/ysksm/jiramirror/internal/store"
	"github.com/ysksm/jiramirror/internal/sync"
)

// Server wraps the mirror data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	source  jira.Source
	syncer  *sync.Syncer
	gateway *gateway.Gateway
	reports *report.Builder
}

// NewServer creates the MCP server wrapper. The source may be nil;
// the sync tool then reports an error while the read tools keep
// working against the local mirror.
func NewServer(s store.Store, source jira.Source, syncCfg sync.Config) *Server {
	srv := &Server{
		store:   s,
		source:  source,
		gateway: gateway.New(s),
		reports: report.NewBuilder(s),
	}
	if source != nil {
		srv.syncer = sync.New(source, s, nil, syncCfg)
	}
	return srv
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("jiramirror", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.syncProjectTool())
	srv.AddTool(s.syncStatusTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.issueHistoryTool())
	srv.AddTool(s.issueSnapshotTool())
	srv.AddTool(s.querySQLTool())
	srv.AddTool(s.projectReportTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// jira_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_list_projects",
		mcp.WithDescription("List locally mirrored Jira projects. Returns a JSON array with id, key, name, and description."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}
	return jsonResult(projects)
}

// jira_sync_project
func (s *Server) syncProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_sync_project",
		mcp.WithDescription("Synchronize a project from the remote Jira instance into the local mirror. Returns a SyncResult; sync failures are reported inside the result, not as tool errors."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key, e.g. PROJ")),
		mcp.WithString("type", mcp.Description("Sync type: incremental (default) or full")),
	)
	return tool, s.handleSyncProject
}

func (s *Server) handleSyncProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectKey, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	if s.syncer == nil {
		return mcp.NewToolResultError("remote source not configured"), nil
	}

	syncType := models.SyncTypeIncremental
	if request.GetString("type", "") == "full" {
		syncType = models.SyncTypeFull
	}

	result, err := s.syncer.Run(ctx, projectKey, syncType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed to start: %v", err)), nil
	}
	return jsonResult(result)
}

// jira_sync_status
func (s *Server) syncStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_sync_status",
		mcp.WithDescription("Get the most recent sync run for a project: status, timestamps, item count, error message if any."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
	)
	return tool, s.handleSyncStatus
}

func (s *Server) handleSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectKey, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	project, err := s.store.GetProjectByKey(ctx, projectKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectKey)), nil
	}
	latest, err := s.store.FindLatestSyncHistory(ctx, project.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no sync history for %s", projectKey)), nil
	}
	return jsonResult(latest)
}

// jira_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_list_issues",
		mcp.WithDescription("List mirrored issues for a project, optionally filtered by status, assignee, or type. Most recently updated first."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("status", mcp.Description("Filter by status name")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee display name")),
		mcp.WithString("type", mcp.Description("Filter by issue type")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of issues to return (default 50)")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectKey, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	project, err := s.store.GetProjectByKey(ctx, projectKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectKey)), nil
	}

	filter := store.IssueListFilter{
		ProjectID: project.ID,
		Status:    request.GetString("status", ""),
		Assignee:  request.GetString("assignee", ""),
		IssueType: request.GetString("type", ""),
		Limit:     request.GetInt("limit", 50),
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}
	return jsonResult(issues)
}

// jira_issue_history
func (s *Server) issueHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_issue_history",
		mcp.WithDescription("Get the extracted field-change history for an issue, most recent change first."),
		mcp.WithString("issue", mcp.Required(), mcp.Description("Issue key, e.g. PROJ-123")),
	)
	return tool, s.handleIssueHistory
}

func (s *Server) handleIssueHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueKey, err := request.RequireString("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}
	issue, err := s.store.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueKey)), nil
	}
	items, err := s.store.ListIssueHistory(ctx, issue.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list history: %v", err)), nil
	}
	return jsonResult(items)
}

// jira_issue_snapshot
func (s *Server) issueSnapshotTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_issue_snapshot",
		mcp.WithDescription("Get the point-in-time state of an issue at a given instant, reconstructed from its change history."),
		mcp.WithString("issue", mcp.Required(), mcp.Description("Issue key")),
		mcp.WithString("at", mcp.Required(), mcp.Description("Instant in RFC3339 form, e.g. 2024-03-01T00:00:00Z")),
	)
	return tool, s.handleIssueSnapshot
}

func (s *Server) handleIssueSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueKey, err := request.RequireString("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}
	atParam, err := request.RequireString("at")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: at"), nil
	}
	at, err := time.Parse(time.RFC3339, atParam)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid at parameter: %v", err)), nil
	}

	snap, err := s.store.GetSnapshotAt(ctx, issueKey, at)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no snapshot for %s at %s", issueKey, atParam)), nil
	}
	return jsonResult(snap)
}

// jira_query_sql
func (s *Server) querySQLTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_query_sql",
		mcp.WithDescription("Run a read-only SELECT query against the mirror database. Tables: projects, issues, issue_change_history, issue_snapshots, jira_fields, project_metadata, sync_history, issue_view. A LIMIT 100 is applied if the query has none."),
		mcp.WithString("query", mcp.Required(), mcp.Description("SQL SELECT statement")),
		mcp.WithNumber("limit", mcp.Description("Default row limit when the query has no LIMIT clause")),
	)
	return tool, s.handleQuerySQL
}

func (s *Server) handleQuerySQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	result, err := s.gateway.Execute(ctx, query, request.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

// jira_project_report
func (s *Server) projectReportTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("jira_project_report",
		mcp.WithDescription("Aggregate a project report: totals plus breakdowns by status, priority, assignee, type, and component."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
	)
	return tool, s.handleProjectReport
}

func (s *Server) handleProjectReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectKey, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	data, err := s.reports.BuildProject(ctx, projectKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build report: %v", err)), nil
	}

	// The breakdowns are the useful part for a model; the raw issue
	// list is large and fetchable through jira_list_issues.
	data.Issues = nil
	data.IssueHistory = nil
	return jsonResult(data)
}
