package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/output"
	"github.com/ysksm/jiramirror/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage mirrored projects",
	Long:  "List, show, and refresh the locally mirrored Jira projects.",
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List mirrored projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show detailed project information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the project list from the remote instance",
	Long:  "Fetch all visible projects from the remote Jira instance and upsert them locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRefreshRun()
	},
}

func init() {
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectRefreshCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects mirrored. Use 'jiramirror project refresh' then 'jiramirror sync <key>'.")
		return nil
	}

	table := ui.Table([]string{"Key", "Name", "Description"})
	for _, p := range projects {
		table.Append([]string{output.Cyan(p.Key), p.Name, p.Description})
	}
	return table.Render()
}

func projectShowRun(key string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := s.GetProjectByKey(ctx, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(p.Key), p.Name)
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  %s\n", p.Description)
	}
	fmt.Fprintln(ui.Out)

	counts, err := s.CountIssuesByStatus(ctx, p.ID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintf(ui.Out, "  Issues: %d\n", total)
	for status, n := range counts {
		fmt.Fprintf(ui.Out, "    %-16s %d\n", output.StatusColor(status), n)
	}

	latest, err := s.FindLatestSyncHistory(ctx, p.ID)
	if err == nil {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Last sync: %s (%s, %d items, started %s)\n",
			output.SyncStatusColor(string(latest.Status)), latest.SyncType,
			latest.ItemsSynced, latest.StartedAt.Format("2006-01-02 15:04"))
		if latest.ErrorMessage != "" {
			fmt.Fprintf(ui.Out, "  Error: %s\n", latest.ErrorMessage)
		}
	}
	return nil
}

func projectRefreshRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	source, err := getSource()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := source.GetProjects(ctx)
	if err != nil {
		return fmt.Errorf("fetch projects: %w", err)
	}

	for _, p := range projects {
		if err := s.UpsertProject(ctx, p); err != nil {
			return fmt.Errorf("store project %s: %w", p.Key, err)
		}
		ui.VerboseLog("Refreshed %s (%s)", p.Key, p.Name)
	}

	ui.Success("Refreshed %d project(s)", len(projects))
	return nil
}

// resolveProject looks a project up by key, with a hint when it is missing.
func resolveProject(ctx context.Context, s store.Store, key string) (*models.Project, error) {
	p, err := s.GetProjectByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("project %s not mirrored (run 'jiramirror sync %s' first): %w", key, key, err)
	}
	return p, nil
}
