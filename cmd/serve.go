package cmd

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ysksm/jiramirror/internal/api"
	"github.com/ysksm/jiramirror/internal/daemon"
	"github.com/ysksm/jiramirror/internal/jira"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the mirror under /api/v1.

Read endpoints work from the local mirror alone. Sync, issue creation,
and transitions additionally need configured Jira credentials; without
them those endpoints return 503.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func serveRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	// One server per database. Sync runs mutate the mirror, and the
	// store holds a single SQLite connection.
	guard := daemon.NewGuard(filepath.Join(filepath.Dir(viper.GetString("db_path")), "serve.pid"))
	if err := guard.Acquire(); err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	// Credentials are optional here; a nil source keeps read endpoints up.
	var source jira.Source
	if client, err := getSource(); err == nil {
		source = client
	} else {
		ui.Warning("Jira credentials not configured; sync and write endpoints disabled")
	}

	srv := api.NewServer(s, source, syncConfig(), nil)

	port := viper.GetInt("port")
	addr := fmt.Sprintf(":%d", port)
	ui.Info("Serving API at http://localhost%s/api/v1", addr)
	return http.ListenAndServe(addr, srv.Router())
}
