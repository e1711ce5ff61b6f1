package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/output"
	"github.com/ysksm/jiramirror/internal/store"
)

var (
	issueStatus   string
	issuePriority string
	issueAssignee string
	issueType     string
	issueLimit    int

	createDescription string
	createType        string
	createPriority    string
	createAssignee    string
	createLabels      []string

	transitionTo string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Browse and create issues",
	Long:  "Browse locally mirrored issues, inspect their change history, and create new issues upstream.",
}

var issueListCmd = &cobra.Command{
	Use:     "list <project-key>",
	Aliases: []string{"ls"},
	Short:   "List mirrored issues for a project",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(args[0])
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-key>",
	Short: "Show detailed issue information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueHistoryCmd = &cobra.Command{
	Use:   "history <issue-key>",
	Short: "Show the field-change history of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueHistoryRun(args[0])
	},
}

var issueCreateCmd = &cobra.Command{
	Use:   "create <project-key> <summary>",
	Short: "Create an issue on the remote instance",
	Long: `Create an issue on the remote Jira instance. The created issue is
picked up by the next sync; the local mirror is not written directly.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCreateRun(args[0], args[1])
	},
}

var issueTransitionCmd = &cobra.Command{
	Use:   "transition <issue-key>",
	Short: "List or apply workflow transitions",
	Long: `Without --to, list the transitions currently available for the issue.
With --to <id>, apply that transition on the remote instance.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTransitionRun(args[0])
	},
}

func init() {
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status name")
	issueListCmd.Flags().StringVar(&issuePriority, "priority", "", "Filter by priority name")
	issueListCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Filter by assignee display name")
	issueListCmd.Flags().StringVar(&issueType, "type", "", "Filter by issue type")
	issueListCmd.Flags().IntVar(&issueLimit, "limit", 50, "Maximum number of issues to show")

	issueCreateCmd.Flags().StringVar(&createDescription, "description", "", "Issue description")
	issueCreateCmd.Flags().StringVar(&createType, "type", "Task", "Issue type")
	issueCreateCmd.Flags().StringVar(&createPriority, "priority", "", "Priority name")
	issueCreateCmd.Flags().StringVar(&createAssignee, "assignee", "", "Assignee account id")
	issueCreateCmd.Flags().StringSliceVar(&createLabels, "label", nil, "Label (repeatable)")

	issueTransitionCmd.Flags().StringVar(&transitionTo, "to", "", "Transition id to apply")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueHistoryCmd)
	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueTransitionCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueListRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectKey)
	if err != nil {
		return err
	}

	issues, err := s.ListIssues(ctx, store.IssueListFilter{
		ProjectID: p.ID,
		Status:    issueStatus,
		Priority:  issuePriority,
		Assignee:  issueAssignee,
		IssueType: issueType,
		Limit:     issueLimit,
	})
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		ui.Info("No issues match.")
		return nil
	}

	table := ui.Table([]string{"Key", "Summary", "Status", "Priority", "Assignee", "Updated"})
	for _, i := range issues {
		table.Append([]string{
			output.Cyan(i.Key),
			truncate(i.Summary, 60),
			output.StatusColor(i.Status),
			output.PriorityColor(i.Priority),
			i.Assignee,
			i.UpdatedDate.Format("2006-01-02"),
		})
	}
	return table.Render()
}

func issueShowRun(issueKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	i, err := s.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(i.Key), i.Summary)
	fmt.Fprintf(ui.Out, "  Type:       %s\n", i.IssueType)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(i.Status))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(i.Priority))
	fmt.Fprintf(ui.Out, "  Assignee:   %s\n", orNone(i.Assignee))
	fmt.Fprintf(ui.Out, "  Reporter:   %s\n", orNone(i.Reporter))
	fmt.Fprintf(ui.Out, "  Resolution: %s\n", orNone(i.Resolution))
	if len(i.Labels) > 0 {
		fmt.Fprintf(ui.Out, "  Labels:     %s\n", strings.Join(i.Labels, ", "))
	}
	if len(i.Components) > 0 {
		fmt.Fprintf(ui.Out, "  Components: %s\n", strings.Join(i.Components, ", "))
	}
	if i.Sprint != "" {
		fmt.Fprintf(ui.Out, "  Sprint:     %s\n", i.Sprint)
	}
	if i.ParentKey != "" {
		fmt.Fprintf(ui.Out, "  Parent:     %s\n", i.ParentKey)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", i.CreatedDate.Format("2006-01-02 15:04"))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", i.UpdatedDate.Format("2006-01-02 15:04"))

	if i.Description != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, i.Description)
	}
	return nil
}

func issueHistoryRun(issueKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	i, err := s.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return err
	}

	items, err := s.ListIssueHistory(ctx, i.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		ui.Info("No recorded changes for %s.", issueKey)
		return nil
	}

	table := ui.Table([]string{"Changed", "Field", "From", "To", "Author"})
	for _, item := range items {
		table.Append([]string{
			item.ChangedAt.Format("2006-01-02 15:04"),
			item.Field,
			truncate(item.FromString, 30),
			truncate(item.ToString, 30),
			item.AuthorDisplayName,
		})
	}
	return table.Render()
}

func issueCreateRun(projectKey, summary string) error {
	source, err := getSource()
	if err != nil {
		return err
	}
	ctx := context.Background()

	key, err := source.CreateIssue(ctx, jira.IssueInput{
		ProjectKey:  projectKey,
		Summary:     summary,
		Description: createDescription,
		IssueType:   createType,
		Priority:    createPriority,
		Assignee:    createAssignee,
		Labels:      createLabels,
	})
	if err != nil {
		return err
	}

	ui.Success("Created %s", output.Cyan(key))
	ui.Info("Run 'jiramirror sync %s' to pull it into the mirror.", projectKey)
	return nil
}

func issueTransitionRun(issueKey string) error {
	source, err := getSource()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if transitionTo == "" {
		transitions, err := source.GetTransitions(ctx, issueKey)
		if err != nil {
			return err
		}
		if len(transitions) == 0 {
			ui.Info("No transitions available for %s.", issueKey)
			return nil
		}
		table := ui.Table([]string{"ID", "Name", "To Status"})
		for _, tr := range transitions {
			table.Append([]string{tr.ID, tr.Name, tr.To})
		}
		return table.Render()
	}

	if err := source.DoTransition(ctx, issueKey, transitionTo); err != nil {
		return err
	}
	ui.Success("Applied transition %s to %s", transitionTo, output.Cyan(issueKey))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
