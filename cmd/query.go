package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/gateway"
)

var (
	queryLimit  int
	queryFormat string
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only SQL query against the mirror",
	Long: `Run a SELECT query against the local mirror database.

Tables: projects, issues, issue_change_history, issue_snapshots,
jira_fields, project_metadata, sync_history, issue_view.

Only SELECT statements are accepted; a LIMIT 100 is applied when the
query has none.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryRun(args[0])
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Default row limit when the query has no LIMIT clause")
	queryCmd.Flags().StringVar(&queryFormat, "format", "table", "Output format: table, json")
	rootCmd.AddCommand(queryCmd)
}

func queryRun(sqlQuery string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	result, err := gateway.New(s).Execute(ctx, sqlQuery, queryLimit)
	if err != nil {
		return err
	}

	switch queryFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "table":
		table := ui.Table(result.Columns)
		for _, row := range result.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				if v == nil {
					continue
				}
				cells[i] = fmt.Sprintf("%v", v)
			}
			table.Append(cells)
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "\n%d row(s)\n", result.RowCount)
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: table, json)", queryFormat)
	}
}
