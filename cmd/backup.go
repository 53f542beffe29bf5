package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"acore-backup/internal/backup"
	"acore-backup/internal/errors"
)

var (
	createDatabases []string
	pruneDays       int
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, validate and delete backup sets",
	Long: `Manage backup sets in the backup directory.

A backup set is every dump file sharing one timestamp. Files are named
<database>_<timestamp>.sql.gz; pre-restore snapshots carry a pre-restore_
prefix.

Examples:
  # Back up every configured database
  acore-backup backup create

  # Back up a single database
  acore-backup backup create --databases acore_characters

  # Show one set and check it can be restored
  acore-backup backup show 2024-06-01T03-00-00-000Z
  acore-backup backup validate 2024-06-01T03-00-00-000Z

  # Remove sets older than 14 days
  acore-backup backup prune --days 14`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a manual backup",
	Args:  cobra.NoArgs,
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List backup sets, newest first",
	Args:    cobra.NoArgs,
	RunE:    runBackupList,
}

var backupShowCmd = &cobra.Command{
	Use:   "show <set-id>",
	Short: "Show the files of one backup set",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupShow,
}

var backupValidateCmd = &cobra.Command{
	Use:   "validate <set-id>",
	Short: "Check that every file of a set is readable and non-empty",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupValidate,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <set-id>",
	Short: "Delete every file of a backup set",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

var backupDeleteFileCmd = &cobra.Command{
	Use:   "delete-file <filename>",
	Short: "Delete a single dump file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDeleteFile,
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backup sets older than the retention period",
	Long: `Delete backup sets older than the retention period.

Without --days the retention of the saved schedule is used.`,
	Args: cobra.NoArgs,
	RunE: runBackupPrune,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupValidateCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupDeleteFileCmd)
	backupCmd.AddCommand(backupPruneCmd)

	backupCreateCmd.Flags().StringSliceVar(&createDatabases, "databases", nil, "databases to back up (default: every configured database)")
	backupPruneCmd.Flags().IntVar(&pruneDays, "days", 0, "retention in days")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	databases := createDatabases
	if len(databases) == 0 {
		databases = app.Backups.Catalog().Names()
	}

	spinner := rt.printer.NewSpinner(true)
	spinner.Start(fmt.Sprintf("Backing up %s", strings.Join(databases, ", ")))
	run, err := app.Backups.TriggerBackup(cmd.Context(), databases, backup.SourceManual)
	spinner.Stop()
	if err != nil {
		return err
	}

	if err := rt.printer.RunResult(run); err != nil {
		return err
	}
	if !run.Succeeded() {
		return errors.NewPartialFailureError("some databases could not be backed up", failedDumps(run))
	}
	return nil
}

func failedDumps(run backup.RunResult) []string {
	var failed []string
	for _, r := range run.Results {
		if !r.Success && !r.Skipped {
			failed = append(failed, r.Database)
		}
	}
	return failed
}

func runBackupList(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	sets, err := app.Backups.Sets().ListSets()
	if err != nil {
		return err
	}
	return rt.printer.BackupSets(sets)
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	set, err := app.Backups.Sets().GetSet(args[0])
	if err != nil {
		return err
	}
	return rt.printer.BackupSet(set)
}

func runBackupValidate(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	report, err := app.Backups.Sets().ValidateSet(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := rt.printer.SetReport(report); err != nil {
		return err
	}
	if !report.Valid {
		return errors.NewValidationError(fmt.Sprintf("backup set %s failed validation", args[0]), nil)
	}
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	set, err := app.Backups.Sets().GetSet(args[0])
	if err != nil {
		return err
	}

	details := make([]string, 0, len(set.Files))
	for _, f := range set.Files {
		details = append(details, f.Filename)
	}
	if err := confirm(rt, fmt.Sprintf("Delete backup set %s?", set.ID), details...); err != nil {
		return err
	}

	n, err := app.Backups.Sets().DeleteSet(set.ID)
	if err != nil {
		return err
	}
	rt.printer.Success("Deleted %d file(s) of backup set %s", n, set.ID)
	return nil
}

func runBackupDeleteFile(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := confirm(rt, fmt.Sprintf("Delete %s?", args[0])); err != nil {
		return err
	}
	if err := app.Backups.DeleteFile(args[0]); err != nil {
		return err
	}
	rt.printer.Success("Deleted %s", args[0])
	return nil
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}

	days := pruneDays
	if !cmd.Flags().Changed("days") {
		days = app.Schedules.Get().RetentionDays
	}

	pruned, err := app.Backups.Prune(days)
	if err != nil {
		return err
	}
	return rt.printer.Print(map[string]interface{}{"retentionDays": days, "pruned": pruned}, func() {
		if len(pruned) == 0 {
			rt.printer.Info("No backup sets older than %d day(s)", days)
			return
		}
		for _, id := range pruned {
			rt.printer.Info("Pruned %s", id)
		}
		rt.printer.Success("Pruned %d backup set(s)", len(pruned))
	})
}
