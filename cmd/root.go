package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/output"
	"github.com/ysksm/jiramirror/internal/store"
	"github.com/ysksm/jiramirror/internal/sync"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore *store.SQLiteStore

	verbose bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "jiramirror",
	Short: "Mirror Jira projects into a local SQLite database",
	Long: `jiramirror keeps a local, queryable mirror of remote Jira projects.
It syncs issues incrementally, extracts change history, reconstructs
point-in-time snapshots, and exposes everything over SQL, REST, and MCP.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/jiramirror/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "jiramirror")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("JIRAMIRROR")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "jiramirror")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "jiramirror.db"))
	viper.SetDefault("jira.url", "")
	viper.SetDefault("jira.username", "")
	viper.SetDefault("jira.api_token", "")
	viper.SetDefault("sync.page_size", sync.DefaultPageSize)
	viper.SetDefault("sync.chunk_size", sync.DefaultChunkSize)
	viper.SetDefault("port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store opens lazily so config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
// Sync runs abandoned by a previous process are marked failed here.
func getStore() (*store.SQLiteStore, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	swept, err := s.SweepRunningSyncs(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("sweep stale syncs: %w", err)
	}
	if swept > 0 {
		ui.VerboseLog("Marked %d interrupted sync run(s) as failed", swept)
	}

	dataStore = s
	return dataStore, nil
}

// closeStore checkpoints the WAL and closes the shared store.
func closeStore() {
	if dataStore == nil {
		return
	}
	if err := dataStore.Checkpoint(context.Background()); err != nil {
		slog.Warn("wal checkpoint failed", "error", err)
	}
	_ = dataStore.Close()
	dataStore = nil
}

// getSource builds a Jira client from the configured credentials.
func getSource() (jira.Source, error) {
	client, err := jira.NewClient(jira.Config{
		URL:      viper.GetString("jira.url"),
		Username: viper.GetString("jira.username"),
		APIToken: viper.GetString("jira.api_token"),
	})
	if err != nil {
		return nil, fmt.Errorf("jira client: %w (run 'jiramirror config init' to configure)", err)
	}
	return client, nil
}

// syncConfig reads sync tuning from viper.
func syncConfig() sync.Config {
	return sync.Config{
		PageSize:  viper.GetInt("sync.page_size"),
		ChunkSize: viper.GetInt("sync.chunk_size"),
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "jiramirror %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
