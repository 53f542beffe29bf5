package cmd

import (
	"github.com/spf13/cobra"
)

var (
	scheduleEnabled   bool
	scheduleCron      string
	scheduleDatabases []string
	scheduleRetention int
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show or change the scheduled backup",
	Long: `Show or change the scheduled backup.

The schedule is a five-field cron expression evaluated in UTC. Each run
backs up the listed databases and then prunes sets older than the
retention period. Changes are picked up by a running server on its next
minute tick.

Examples:
  # Back up the core databases every six hours, keep a week
  acore-backup schedule set --enabled --cron "0 */6 * * *" --retention-days 7

  # Turn the schedule off and restore the defaults
  acore-backup schedule reset`,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved schedule and its next run",
	Args:  cobra.NoArgs,
	RunE:  runScheduleShow,
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the schedule; unset flags keep their saved value",
	Args:  cobra.NoArgs,
	RunE:  runScheduleSet,
}

var scheduleResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved schedule",
	Args:  cobra.NoArgs,
	RunE:  runScheduleReset,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.AddCommand(scheduleShowCmd)
	scheduleCmd.AddCommand(scheduleSetCmd)
	scheduleCmd.AddCommand(scheduleResetCmd)

	scheduleSetCmd.Flags().BoolVar(&scheduleEnabled, "enabled", false, "enable scheduled backups")
	scheduleSetCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (UTC)")
	scheduleSetCmd.Flags().StringSliceVar(&scheduleDatabases, "databases", nil, "databases to back up")
	scheduleSetCmd.Flags().IntVar(&scheduleRetention, "retention-days", 0, "delete sets older than this many days")
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	return rt.printer.Schedule(app.Schedules.Get(), app.Engine.Next())
}

func runScheduleSet(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}

	cfg := app.Schedules.Get()
	flags := cmd.Flags()
	if flags.Changed("enabled") {
		cfg.Enabled = scheduleEnabled
	}
	if flags.Changed("cron") {
		cfg.Cron = scheduleCron
	}
	if flags.Changed("databases") {
		cfg.Databases = scheduleDatabases
	}
	if flags.Changed("retention-days") {
		cfg.RetentionDays = scheduleRetention
	}

	saved, err := app.Schedules.Set(cfg)
	if err != nil {
		return err
	}
	rt.printer.Success("Schedule saved")
	return rt.printer.Schedule(saved, app.Engine.Next())
}

func runScheduleReset(cmd *cobra.Command, args []string) error {
	rt, app, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg, err := app.Schedules.Reset()
	if err != nil {
		return err
	}
	rt.printer.Success("Schedule deleted")
	return rt.printer.Schedule(cfg, app.Engine.Next())
}
