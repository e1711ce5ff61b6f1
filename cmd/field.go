package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/fields"
	"github.com/ysksm/jiramirror/internal/output"
)

var fieldCmd = &cobra.Command{
	Use:   "field",
	Short: "Manage field definitions and the flattened issue view",
	Long: `Sync the remote field catalog and evolve the flattened issue view.

'field sync <project-key>' fetches the field definitions, adds a view
column for every new expandable field (custom fields included), and
re-expands the project's issues into the view.`,
}

var fieldSyncCmd = &cobra.Command{
	Use:   "sync <project-key>",
	Short: "Sync field definitions and expand issues into the view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fieldSyncRun(args[0])
	},
}

var fieldListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List locally stored field definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fieldListRun()
	},
}

func init() {
	fieldCmd.AddCommand(fieldSyncCmd)
	fieldCmd.AddCommand(fieldListCmd)
	rootCmd.AddCommand(fieldCmd)
}

func fieldSyncRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	source, err := getSource()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectKey)
	if err != nil {
		return err
	}

	evolver := fields.NewEvolver(source, s, nil)
	result, err := evolver.Execute(ctx, p.ID)
	if err != nil {
		if result != nil {
			ui.Warning("Partial field sync: %d field(s), %d column(s), %d issue(s) expanded",
				result.FieldsSynced, result.ColumnsAdded, result.IssuesExpanded)
		}
		return err
	}

	ui.Success("Synced %d field(s), added %d column(s), expanded %d issue(s)",
		result.FieldsSynced, result.ColumnsAdded, result.IssuesExpanded)
	return nil
}

func fieldListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	defs, err := s.ListFields(ctx)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		ui.Info("No fields stored. Run 'jiramirror field sync <project-key>' first.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Type", "Custom", "Column"})
	for _, f := range defs {
		custom := ""
		if f.Custom {
			custom = "yes"
		}
		col := ""
		if fields.Expandable(f) {
			col = output.Cyan(fields.ColumnName(f))
		}
		table.Append([]string{f.ID, f.Name, f.SchemaType, custom, col})
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "\n%d field(s)\n", len(defs))
	return nil
}
