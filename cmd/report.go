package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/report"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report <project-key>",
	Short: "Generate a project report",
	Long:  "Aggregate a project's issues into totals and breakdowns by status, priority, assignee, type, and component.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun(args[0])
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "Output format: markdown, csv, json")
	rootCmd.AddCommand(reportCmd)
}

func reportRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	data, err := report.NewBuilder(s).BuildProject(ctx, projectKey)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "csv":
		return report.WriteCSV(ui.Out, data)
	case "markdown":
		return report.WriteMarkdown(ui.Out, data)
	default:
		return fmt.Errorf("unknown format: %s (use: markdown, csv, json)", reportFormat)
	}
}
