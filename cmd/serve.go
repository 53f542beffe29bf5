package cmd

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API, the backup scheduler and the container watchdog",
	Long: `Run the long-lived service.

serve exposes the admin API on server.listen, fires the saved backup
schedule every minute and, when monitor.enabled is set, restarts crashed
world and auth server containers. SIGINT or SIGTERM stops accepting
requests, waits for running restores to bring the servers back, then exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "admin API listen address (default :8080)")
	bindServeFlag("server.listen", "listen")
}

func bindServeFlag(key, flag string) {
	if err := v.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
		configErr = err
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}

	rt.logger.WithFields(map[string]interface{}{
		"version":    version,
		"backup_dir": rt.cfg.Backup.Dir,
		"databases":  app.Backups.Catalog().Names(),
		"watchdog":   rt.cfg.Monitor.Enabled,
	}).Info("Starting acore-backup")

	return app.ListenAndServe(cmd.Context())
}
