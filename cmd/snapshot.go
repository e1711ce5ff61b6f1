package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/output"
	"github.com/ysksm/jiramirror/internal/snapshot"
)

var snapshotAt string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Generate and query point-in-time issue snapshots",
	Long: `Reconstruct issue states over time from the extracted change history.

Each issue gets a chain of versioned snapshots; 'snapshot show --at'
answers "what did this issue look like at that instant".`,
}

var snapshotGenerateCmd = &cobra.Command{
	Use:   "generate <project-key>",
	Short: "Regenerate snapshots for all issues of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotGenerateRun(args[0])
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <issue-key>",
	Short: "Show an issue's snapshot chain, or its state at an instant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotShowRun(args[0])
	},
}

func init() {
	snapshotShowCmd.Flags().StringVar(&snapshotAt, "at", "", "Instant in RFC3339 form, e.g. 2024-03-01T00:00:00Z")
	snapshotCmd.AddCommand(snapshotGenerateCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func snapshotGenerateRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectKey)
	if err != nil {
		return err
	}

	gen := snapshot.NewGenerator(s)
	count, err := gen.RegenerateProject(ctx, p.ID, 0)
	if err != nil {
		return err
	}

	ui.Success("Generated %d snapshot(s) for %s", count, output.Cyan(projectKey))
	return nil
}

func snapshotShowRun(issueKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if snapshotAt != "" {
		at, err := time.Parse(time.RFC3339, snapshotAt)
		if err != nil {
			return fmt.Errorf("invalid --at value (want RFC3339, e.g. 2024-03-01T00:00:00Z): %w", err)
		}

		snap, err := s.GetSnapshotAt(ctx, issueKey, at)
		if err != nil {
			return err
		}

		fmt.Fprintf(ui.Out, "%s  version %d (as of %s)\n", output.Cyan(snap.IssueKey), snap.Version, at.Format("2006-01-02 15:04"))
		fmt.Fprintf(ui.Out, "  Summary:    %s\n", snap.Summary)
		fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(snap.Status))
		fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(snap.Priority))
		fmt.Fprintf(ui.Out, "  Assignee:   %s\n", orNone(snap.Assignee))
		fmt.Fprintf(ui.Out, "  Type:       %s\n", snap.IssueType)
		fmt.Fprintf(ui.Out, "  Resolution: %s\n", orNone(snap.Resolution))
		fmt.Fprintf(ui.Out, "  Valid from: %s\n", snap.ValidFrom.Format("2006-01-02 15:04"))
		if snap.ValidTo != nil {
			fmt.Fprintf(ui.Out, "  Valid to:   %s\n", snap.ValidTo.Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(ui.Out, "  Valid to:   (current)\n")
		}
		return nil
	}

	issue, err := s.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return err
	}
	snaps, err := s.ListIssueSnapshots(ctx, issue.ID)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		ui.Info("No snapshots for %s. Run 'jiramirror snapshot generate <project-key>' first.", issueKey)
		return nil
	}

	table := ui.Table([]string{"Version", "Valid From", "Valid To", "Status", "Priority", "Assignee"})
	for _, snap := range snaps {
		validTo := "(current)"
		if snap.ValidTo != nil {
			validTo = snap.ValidTo.Format("2006-01-02 15:04")
		}
		table.Append([]string{
			fmt.Sprintf("%d", snap.Version),
			snap.ValidFrom.Format("2006-01-02 15:04"),
			validTo,
			output.StatusColor(snap.Status),
			output.PriorityColor(snap.Priority),
			snap.Assignee,
		})
	}
	return table.Render()
}
