package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"acore-backup/internal/config"
	"acore-backup/internal/display"
	"acore-backup/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write or inspect the configuration",
	Long: `Write or inspect the configuration.

Every key can also be set from the environment with the ACORE_BACKUP_
prefix, dots becoming underscores: database.password is read from
ACORE_BACKUP_DATABASE_PASSWORD.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file holding every default",
	Long: `Write a configuration file holding every default.

Without a path the file is written to $HOME/.acore-backup.yaml. An existing
file is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.NewInputError("cannot determine home directory, pass a path")
		}
		path = filepath.Join(home, ".acore-backup.yaml")
	}

	if err := config.WriteSample(path); err != nil {
		return err
	}
	printer := display.NewPrinter(display.DefaultConfig())
	printer.Success("Wrote %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	format := display.FormatYAML
	if rt.printer.Format() == display.FormatJSON {
		format = display.FormatJSON
	}
	return display.Encode(cmd.OutOrStdout(), format, rt.cfg.Redacted())
}
