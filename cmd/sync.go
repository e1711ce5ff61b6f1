package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/output"
	"github.com/ysksm/jiramirror/internal/sync"
)

var (
	syncFull         bool
	syncHistoryLimit int
)

var syncCmd = &cobra.Command{
	Use:   "sync <project-key>",
	Short: "Synchronize a project from the remote instance",
	Long: `Synchronize a project's issues, change history, and metadata from
the remote Jira instance into the local mirror.

By default the sync is incremental and resumes from the newest locally
stored update timestamp. Use --full to re-fetch everything.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun(args[0])
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <project-key>",
	Short: "Show the most recent sync run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncStatusRun(args[0])
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history <project-key>",
	Short: "List recent sync runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncHistoryRun(args[0])
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Re-fetch all issues instead of resuming from the watermark")
	syncHistoryCmd.Flags().IntVar(&syncHistoryLimit, "limit", 20, "Maximum number of runs to show")
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	rootCmd.AddCommand(syncCmd)
}

func syncRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	source, err := getSource()
	if err != nil {
		return err
	}
	ctx := context.Background()

	syncType := models.SyncTypeIncremental
	if syncFull {
		syncType = models.SyncTypeFull
	}

	ui.Info("Syncing %s (%s)...", output.Cyan(projectKey), syncType)

	syncer := sync.New(source, s, nil, syncConfig())
	result, err := syncer.Run(ctx, projectKey, syncType)
	if err != nil {
		return err
	}

	if !result.Success {
		ui.Error("Sync failed: %s", result.ErrorMessage)
		ui.Info("Partial progress is kept; re-run to resume from the watermark.")
		return nil
	}

	ui.Success("Synced %d issue(s), %d history item(s)", result.IssuesSynced, result.HistoryItemsSynced)
	if result.LastIssueUpdatedAt != nil {
		ui.VerboseLog("Watermark: %s", result.LastIssueUpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func syncStatusRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectKey)
	if err != nil {
		return err
	}

	latest, err := s.FindLatestSyncHistory(ctx, p.ID)
	if err != nil {
		ui.Info("No sync runs recorded for %s.", projectKey)
		return nil
	}

	printSyncRun(latest)
	return nil
}

func syncHistoryRun(projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectKey)
	if err != nil {
		return err
	}

	runs, err := s.ListSyncHistory(ctx, p.ID, syncHistoryLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No sync runs recorded for %s.", projectKey)
		return nil
	}

	table := ui.Table([]string{"Started", "Type", "Status", "Items", "Error"})
	for _, run := range runs {
		table.Append([]string{
			run.StartedAt.Format("2006-01-02 15:04"),
			string(run.SyncType),
			output.SyncStatusColor(string(run.Status)),
			strconv.Itoa(run.ItemsSynced),
			run.ErrorMessage,
		})
	}
	return table.Render()
}

func printSyncRun(run *models.SyncHistory) {
	ui.Info("Status: %s", output.SyncStatusColor(string(run.Status)))
	ui.Info("Type: %s", run.SyncType)
	ui.Info("Started: %s", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		ui.Info("Completed: %s", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	ui.Info("Items synced: %d", run.ItemsSynced)
	if run.ErrorMessage != "" {
		ui.Error("Error: %s", run.ErrorMessage)
	}
}
