package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP-capable clients query the mirror natively. Configure with:

  {
    "mcpServers": {
      "jiramirror": { "command": "jiramirror", "args": ["mcp"] }
    }
  }

Available tools: jira_list_projects, jira_sync_project, jira_sync_status,
jira_list_issues, jira_issue_history, jira_issue_snapshot, jira_query_sql,
jira_project_report`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	// The sync tool degrades gracefully when credentials are missing.
	var source jira.Source
	if client, err := getSource(); err == nil {
		source = client
	}

	return mcp.NewServer(s, source, syncConfig()).ServeStdio(cmd.Context())
}
