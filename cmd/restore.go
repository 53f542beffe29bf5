package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"acore-backup/internal/api"
	"acore-backup/internal/application"
	"acore-backup/internal/errors"
	"acore-backup/internal/restore"
)

var (
	serverURL    string
	pollInterval time.Duration
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup set and inspect restore operations",
	Long: `Restore a backup set into MySQL.

A restore validates the set, takes a pre-restore snapshot, stops the world
and auth servers, replays every dump, then starts the servers again. The
servers are restarted even when the restore fails or is cancelled.

"restore start" runs the workflow in this process. The list, status and
cancel subcommands talk to a running "acore-backup serve" through its
admin API.

Examples:
  # Restore a set, asking for confirmation first
  acore-backup restore start 2024-06-01T03-00-00-000Z

  # Check on a restore started through the admin API
  acore-backup restore status 3f0c... --server http://127.0.0.1:8080`,
}

var restoreStartCmd = &cobra.Command{
	Use:   "start <set-id>",
	Short: "Restore a backup set and follow its progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreStart,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore operations known to the server",
	Args:  cobra.NoArgs,
	RunE:  runRestoreList,
}

var restoreStatusCmd = &cobra.Command{
	Use:   "status <operation-id>",
	Short: "Show the progress of a restore operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreStatus,
}

var restoreCancelCmd = &cobra.Command{
	Use:   "cancel <operation-id>",
	Short: "Cancel a running restore at the next step boundary",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreCancel,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.AddCommand(restoreStartCmd)
	restoreCmd.AddCommand(restoreListCmd)
	restoreCmd.AddCommand(restoreStatusCmd)
	restoreCmd.AddCommand(restoreCancelCmd)

	restoreStartCmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "how often progress is refreshed")
	for _, c := range []*cobra.Command{restoreListCmd, restoreStatusCmd, restoreCancelCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "admin API URL (default: derived from server.listen)")
	}
}

func runRestoreStart(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	set, err := app.Backups.Sets().GetSet(args[0])
	if err != nil {
		return err
	}
	question := fmt.Sprintf("Restore backup set %s? The world and auth servers will be stopped.", set.ID)
	if err := confirm(rt, question, "databases: "+strings.Join(set.Databases, ", ")); err != nil {
		return err
	}

	id, err := app.Restores.StartRestore(cmd.Context(), set.ID)
	if err != nil {
		return err
	}
	rt.logger.WithField("operation_id", id).Info("Restore operation started")

	op := followRestore(cmd.Context(), rt, app, id)
	if err := rt.printer.RestoreOperation(op); err != nil {
		return err
	}
	return restoreOutcome(op)
}

// followRestore polls the operation until it finishes. An interrupt asks
// the workflow to cancel, and the poll continues so the servers are back
// up before the process exits.
func followRestore(ctx context.Context, rt *runtime, app *application.Application, id string) restore.Operation {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner := rt.printer.NewSpinner(true)
	spinner.Start("Restoring")
	defer spinner.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	interrupted := sigCtx.Done()
	for {
		op, err := app.Restores.GetProgress(id)
		if err != nil {
			// Operations only expire after they finish.
			return restore.Operation{OperationID: id, Status: restore.StatusFailed}
		}
		if op.Terminal() {
			return op
		}
		spinner.Update(currentStep(op))

		select {
		case <-interrupted:
			interrupted = nil
			if err := app.Restores.Cancel(id); err == nil {
				spinner.Update("Cancelling, waiting for servers to restart")
			}
		case <-ticker.C:
		}
	}
}

func currentStep(op restore.Operation) string {
	for _, s := range op.Steps {
		if s.Status == restore.StepInProgress {
			return s.Label
		}
	}
	return "Restoring"
}

func restoreOutcome(op restore.Operation) error {
	switch op.Status {
	case restore.StatusCompleted:
		return nil
	case restore.StatusCancelled:
		return errors.NewCancelledError(fmt.Sprintf("restore %s was cancelled", op.OperationID), nil)
	default:
		var failed []string
		if op.Result != nil {
			for _, e := range op.Result.Errors {
				failed = append(failed, e.Database)
			}
		}
		return errors.NewPartialFailureError(fmt.Sprintf("restore %s failed", op.OperationID), failed)
	}
}

// apiClient resolves --server, falling back to the configured listen address
func apiClient(rt *runtime) (*api.Client, error) {
	base := serverURL
	if base == "" {
		addr := rt.cfg.Server.Listen
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		base = "http://" + addr
	}
	return api.NewClient(base, 10*time.Second)
}

func runRestoreList(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	client, err := apiClient(rt)
	if err != nil {
		return err
	}
	ops, err := client.ListRestores(cmd.Context())
	if err != nil {
		return err
	}
	return rt.printer.Print(ops, func() {
		if len(ops) == 0 {
			rt.printer.Info("No restore operations")
			return
		}
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			rows = append(rows, []string{op.OperationID, op.SetID, string(op.Status), op.StartedAt.Format(time.RFC3339)})
		}
		rt.printer.Table([]string{"Operation", "Set", "Status", "Started"}, rows)
	})
}

func runRestoreStatus(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	client, err := apiClient(rt)
	if err != nil {
		return err
	}
	op, err := client.GetRestore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return rt.printer.RestoreOperation(op)
}

func runRestoreCancel(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	client, err := apiClient(rt)
	if err != nil {
		return err
	}
	if err := client.CancelRestore(cmd.Context(), args[0]); err != nil {
		return err
	}
	rt.printer.Success("Cancel requested for %s", args[0])
	return nil
}
