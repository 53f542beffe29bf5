package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"acore-backup/internal/application"
	"acore-backup/internal/config"
	"acore-backup/internal/display"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
)

var cfgFile string

// Global flag variables
var (
	verbose     bool
	quiet       bool
	noColor     bool
	autoApprove bool
	askPassword bool
)

// v carries defaults, environment overrides, the config file and flags
var v, configErr = newViper()

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "acore-backup",
	Short: "Backup, restore and watchdog service for AzerothCore databases",
	Long: `acore-backup dumps the AzerothCore MySQL databases into timestamped,
gzip-compressed backup sets, restores a chosen set while the world and auth
servers are stopped, runs scheduled backups with retention, and restarts
crashed server containers.

Examples:
  # Run the admin API, scheduler and watchdog
  acore-backup serve --config /etc/acore-backup.yaml

  # Take a manual backup of two databases
  acore-backup backup create --databases acore_world,acore_characters

  # Restore a set and follow its progress
  acore-backup restore start 2024-06-01T03-00-00-000Z

  # List backup sets as JSON
  acore-backup backup list --format json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprint("Error:"), userMessage(err))
		os.Exit(exitCode(err))
	}
}

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(ver, bt, gc, gv string) {
	version = ver
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func newViper() (*viper.Viper, error) {
	vp, err := config.NewViper()
	if err != nil {
		return viper.New(), err
	}
	return vp, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.acore-backup.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	pf.BoolVar(&noColor, "no-color", false, "disable color output")
	pf.BoolVarP(&autoApprove, "yes", "y", false, "answer yes to confirmation prompts")
	pf.BoolVar(&askPassword, "ask-password", false, "prompt for the MySQL password")

	pf.String("format", "table", "output format (table, json, yaml)")
	pf.String("backup-dir", "", "directory holding backup files")
	pf.String("db-host", "", "MySQL host")
	pf.Int("db-port", 0, "MySQL port")
	pf.String("db-user", "", "MySQL username")
	pf.String("log-format", "", "log format (text, json)")
	pf.String("log-file", "", "also write logs to this file")

	bindFlag("display.output_format", "format")
	bindFlag("backup.dir", "backup-dir")
	bindFlag("database.host", "db-host")
	bindFlag("database.port", "db-port")
	bindFlag("database.username", "db-user")
	bindFlag("logging.format", "log-format")
	bindFlag("logging.file", "log-file")

	rootCmd.AddCommand(newVersionCommand())
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		configErr = err
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".acore-backup")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !stderrors.As(err, &notFound) {
			configErr = errors.NewInputError(fmt.Sprintf("failed to read config file: %v", err))
		}
		return
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
}

// runtime is what every command needs before doing work
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	printer *display.Printer
}

func loadRuntime() (*runtime, error) {
	if configErr != nil {
		return nil, configErr
	}
	if verbose && quiet {
		return nil, errors.NewInputError("--verbose and --quiet flags are mutually exclusive")
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	switch {
	case verbose:
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	case quiet:
		cfg.Logging.Level = string(logging.LogLevelQuiet)
		cfg.Display.Quiet = true
	}
	if _, set := os.LookupEnv("NO_COLOR"); noColor || set {
		cfg.Display.ColorEnabled = false
		color.NoColor = true
	}

	logger, err := logging.NewLogger(cfg.Logging.LoggerConfig())
	if err != nil {
		return nil, errors.NewInputError(err.Error())
	}
	printer := display.NewPrinter(&cfg.Display)

	if askPassword {
		if !display.IsInteractive() {
			return nil, errors.NewInputError("--ask-password needs a terminal, set ACORE_BACKUP_DATABASE_PASSWORD instead")
		}
		pw, err := printer.ReadPassword(fmt.Sprintf("MySQL password for %s@%s: ", cfg.Database.Username, cfg.Database.Host))
		if err != nil {
			return nil, errors.NewInputError(err.Error())
		}
		cfg.Database.Password = pw
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		printer: printer,
	}, nil
}

// setup loads the runtime and builds the application
func setup(cmd *cobra.Command) (*runtime, *application.Application, error) {
	rt, err := loadRuntime()
	if err != nil {
		return nil, nil, err
	}
	app, err := application.New(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, app, nil
}

// confirm asks before destructive work unless --yes was given
func confirm(rt *runtime, question string, details ...string) error {
	if autoApprove {
		return nil
	}
	if !display.IsInteractive() {
		return errors.NewInputError("confirmation required, rerun with --yes")
	}
	ok, err := rt.printer.Confirm(os.Stdin, question, details...)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewCancelledError("aborted", nil)
	}
	return nil
}

func userMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}
	return err.Error()
}

// exitCode maps the error taxonomy onto process exit codes
func exitCode(err error) int {
	var invalid errors.ValidationErrors
	if stderrors.As(err, &invalid) {
		return 2
	}
	switch errors.GetErrorType(err) {
	case errors.ErrorTypeInput, errors.ErrorTypeValidation:
		return 2
	case errors.ErrorTypeConflict:
		return 3
	case errors.ErrorTypeNotFound:
		return 4
	case errors.ErrorTypePartialFailure:
		return 5
	case errors.ErrorTypeCancelled:
		return 130
	default:
		return 1
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "acore-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
