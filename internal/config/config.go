// Package config loads the acore-backup configuration from file, flags and
// ACORE_BACKUP_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"acore-backup/internal/backup"
	"acore-backup/internal/container"
	"acore-backup/internal/database"
	"acore-backup/internal/display"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/monitor"
	"acore-backup/internal/notify"
	"acore-backup/internal/restore"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "ACORE_BACKUP"

// Config is the complete service configuration
type Config struct {
	Database      database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup        BackupConfig            `mapstructure:"backup" yaml:"backup"`
	Containers    ContainersConfig        `mapstructure:"containers" yaml:"containers"`
	Monitor       monitor.Config          `mapstructure:"monitor" yaml:"monitor"`
	Notifications notify.Config           `mapstructure:"notifications" yaml:"notifications"`
	Mirror        backup.MirrorConfig     `mapstructure:"mirror" yaml:"mirror"`
	Server        ServerConfig            `mapstructure:"server" yaml:"server"`
	Logging       LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Display       display.Config          `mapstructure:"display" yaml:"display"`
}

// BackupConfig holds the dump directory and dump/restore tuning
type BackupConfig struct {
	Dir               string        `mapstructure:"dir" yaml:"dir"`
	Databases         []string      `mapstructure:"databases" yaml:"databases"` // catalog of known databases
	InsertBatchRows   int           `mapstructure:"insert_batch_rows" yaml:"insert_batch_rows"`
	MaxStatementBytes int           `mapstructure:"max_statement_bytes" yaml:"max_statement_bytes"`
	MinDumpBytes      int64         `mapstructure:"min_dump_bytes" yaml:"min_dump_bytes"`
	CompressionLevel  int           `mapstructure:"compression_level" yaml:"compression_level"`
	DumpTimeout       time.Duration `mapstructure:"dump_timeout" yaml:"dump_timeout"`
	RestoreTimeout    time.Duration `mapstructure:"restore_timeout" yaml:"restore_timeout"`
	RetentionDays     int           `mapstructure:"retention_days" yaml:"retention_days"`
	OperationTTL      time.Duration `mapstructure:"operation_ttl" yaml:"operation_ttl"`
}

// ContainersConfig locates the Docker daemon and the game server containers
type ContainersConfig struct {
	Socket      string        `mapstructure:"socket" yaml:"socket"`
	APIVersion  string        `mapstructure:"api_version" yaml:"api_version"`
	WorldServer string        `mapstructure:"worldserver" yaml:"worldserver"`
	AuthServer  string        `mapstructure:"authserver" yaml:"authserver"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	StopRetries int           `mapstructure:"stop_retries" yaml:"stop_retries"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// ServerConfig configures the admin API listener
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig selects log level, format and destination
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Default returns a configuration with every default applied
func Default() Config {
	cfg := Config{
		Monitor: monitor.DefaultConfig(),
		Display: *display.DefaultConfig(),
		Mirror:  backup.MirrorConfig{Provider: backup.MirrorNone},
	}
	cfg.Containers.StopRetries = restore.DefaultConfig().StopRetries
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Backup.SetDefaults()
	c.Containers.SetDefaults()
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Display.SetDefaults()

	if c.Monitor.WorldServer == "" {
		c.Monitor.WorldServer = c.Containers.WorldServer
	}
	if c.Monitor.AuthServer == "" {
		c.Monitor.AuthServer = c.Containers.AuthServer
	}
	if c.Monitor.StopTimeout <= 0 {
		c.Monitor.StopTimeout = c.Containers.StopTimeout
	}
	if c.Notifications.RateLimit <= 0 {
		c.Notifications.RateLimit = time.Minute
	}
	if c.Notifications.Timeout <= 0 {
		c.Notifications.Timeout = 10 * time.Second
	}
	if c.Mirror.Provider == "" {
		c.Mirror.Provider = backup.MirrorNone
	}
}

// SetDefaults fills unset backup options
func (bc *BackupConfig) SetDefaults() {
	def := backup.DefaultDumperOptions()
	if bc.Dir == "" {
		bc.Dir = "/backups"
	}
	if len(bc.Databases) == 0 {
		bc.Databases = slices.Clone(backup.DefaultDatabases)
	}
	if bc.InsertBatchRows <= 0 {
		bc.InsertBatchRows = def.InsertBatchRows
	}
	if bc.MaxStatementBytes <= 0 {
		bc.MaxStatementBytes = def.MaxStatementBytes
	}
	if bc.MinDumpBytes <= 0 {
		bc.MinDumpBytes = def.MinDumpBytes
	}
	if bc.CompressionLevel == 0 {
		bc.CompressionLevel = def.CompressionLevel
	}
	if bc.DumpTimeout <= 0 {
		bc.DumpTimeout = def.Timeout
	}
	if bc.RestoreTimeout <= 0 {
		bc.RestoreTimeout = 10 * time.Minute
	}
	if bc.RetentionDays <= 0 {
		bc.RetentionDays = 30
	}
	if bc.OperationTTL <= 0 {
		bc.OperationTTL = time.Hour
	}
}

// DumperOptions converts the backup section for the dumper
func (bc BackupConfig) DumperOptions() backup.DumperOptions {
	return backup.DumperOptions{
		InsertBatchRows:   bc.InsertBatchRows,
		MaxStatementBytes: bc.MaxStatementBytes,
		MinDumpBytes:      bc.MinDumpBytes,
		Timeout:           bc.DumpTimeout,
		CompressionLevel:  bc.CompressionLevel,
	}
}

// SetDefaults fills unset container options
func (cc *ContainersConfig) SetDefaults() {
	def := restore.DefaultConfig()
	if cc.Socket == "" {
		cc.Socket = "/var/run/docker.sock"
	}
	if cc.APIVersion == "" {
		cc.APIVersion = "v1.45"
	}
	if cc.WorldServer == "" {
		cc.WorldServer = def.WorldServer
	}
	if cc.AuthServer == "" {
		cc.AuthServer = def.AuthServer
	}
	if cc.StopTimeout <= 0 {
		cc.StopTimeout = def.StopTimeout
	}
	if cc.StopRetries < 0 {
		cc.StopRetries = def.StopRetries
	}
	if cc.SettleDelay <= 0 {
		cc.SettleDelay = def.SettleDelay
	}
}

// ClientConfig is the Docker client view of the section. Only the two game
// servers may be touched.
func (cc ContainersConfig) ClientConfig() container.Config {
	return container.Config{
		Socket:     cc.Socket,
		APIVersion: cc.APIVersion,
		Allowed:    []string{cc.WorldServer, cc.AuthServer},
	}
}

// RestoreConfig combines the container section with the operation TTL
func (c *Config) RestoreConfig() restore.Config {
	return restore.Config{
		WorldServer:  c.Containers.WorldServer,
		AuthServer:   c.Containers.AuthServer,
		StopTimeout:  c.Containers.StopTimeout,
		StopRetries:  c.Containers.StopRetries,
		SettleDelay:  c.Containers.SettleDelay,
		OperationTTL: c.Backup.OperationTTL,
	}
}

// SetDefaults fills unset server options
func (sc *ServerConfig) SetDefaults() {
	if sc.Listen == "" {
		sc.Listen = ":8080"
	}
	if sc.ReadTimeout <= 0 {
		sc.ReadTimeout = 30 * time.Second
	}
	if sc.ShutdownTimeout <= 0 {
		sc.ShutdownTimeout = 15 * time.Second
	}
}

// SetDefaults fills unset logging options
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = string(logging.LogLevelNormal)
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
}

// LoggerConfig converts the section for logging.NewLogger
func (lc LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(lc.Level),
		Format:  lc.Format,
		LogFile: lc.File,
	}
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs errors.ValidationErrors

	if err := c.Database.Validate(); err != nil {
		errs.Add("%v", err)
	}

	if c.Backup.Dir == "" {
		errs.Add("backup.dir is required")
	}
	if len(c.Backup.Databases) == 0 {
		errs.Add("backup.databases must list at least one database")
	}
	seen := make(map[string]bool, len(c.Backup.Databases))
	for _, db := range c.Backup.Databases {
		if db == "" || strings.ContainsAny(db, "/\\` ") {
			errs.Add("backup.databases: invalid database name %q", db)
		}
		if seen[db] {
			errs.Add("backup.databases: %q listed twice", db)
		}
		seen[db] = true
	}
	if c.Backup.InsertBatchRows <= 0 {
		errs.Add("backup.insert_batch_rows must be positive")
	}
	if c.Backup.CompressionLevel < -2 || c.Backup.CompressionLevel > 9 {
		errs.Add("backup.compression_level must be between -2 and 9")
	}
	if c.Backup.DumpTimeout <= 0 || c.Backup.RestoreTimeout <= 0 {
		errs.Add("backup.dump_timeout and backup.restore_timeout must be positive")
	}
	if c.Backup.RetentionDays < 1 {
		errs.Add("backup.retention_days must be at least 1")
	}

	if c.Containers.WorldServer == "" || c.Containers.AuthServer == "" {
		errs.Add("containers.worldserver and containers.authserver are required")
	}
	if c.Containers.WorldServer == c.Containers.AuthServer {
		errs.Add("containers.worldserver and containers.authserver must differ")
	}
	if c.Containers.StopRetries < 0 {
		errs.Add("containers.stop_retries must not be negative")
	}

	if c.Monitor.Enabled {
		if c.Monitor.PollInterval <= 0 {
			errs.Add("monitor.poll_interval must be positive")
		}
		if c.Monitor.CrashLoopThreshold < 1 {
			errs.Add("monitor.crash_loop_threshold must be at least 1")
		}
	}

	if c.Notifications.WebhookURL != "" {
		u, err := url.Parse(c.Notifications.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add("notifications.webhook_url must be an http(s) URL")
		}
	}
	for _, ev := range c.Notifications.Events {
		if !slices.Contains(notify.DefaultEvents, ev) {
			errs.Add("notifications.events: unknown event %q", ev)
		}
	}

	if err := c.Mirror.Validate(); err != nil {
		if ve, ok := err.(errors.ValidationErrors); ok {
			errs = append(errs, ve...)
		} else {
			errs.Add("%v", err)
		}
	}

	if c.Server.Listen == "" {
		errs.Add("server.listen is required")
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("logging.level must be one of quiet, normal, verbose, debug")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs.Add("logging.format must be text or json")
	}

	if err := c.Display.Validate(); err != nil {
		errs.Add("display: %v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

const redacted = "********"

// Redacted returns a copy with passwords and keys masked
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Database.Password)
	mask(&c.Mirror.S3.SecretKey)
	mask(&c.Mirror.Azure.AccountKey)
	return c
}

// NewViper returns a viper instance carrying every default and reading
// ACORE_BACKUP_* overrides, so "database.host" maps to
// ACORE_BACKUP_DATABASE_HOST.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	if err := RegisterDefaults(v); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// RegisterDefaults seeds v with Default() so that every key is known to
// viper and can be overridden from the environment
func RegisterDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	for key, value := range tree {
		v.SetDefault(key, value)
	}
	return nil
}

// Load unmarshals v into a Config, applies defaults and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file on top of the defaults
func LoadFile(path string) (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Load(v)
}

// WriteSample writes the default configuration to path. An existing file
// is never overwritten.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.NewConflictError(fmt.Sprintf("config file %s already exists", path))
	}
	cfg := Default()
	cfg.Database.Password = ""

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	header := "# acore-backup configuration\n# Secrets can be supplied as ACORE_BACKUP_DATABASE_PASSWORD etc.\n"
	return os.WriteFile(path, append([]byte(header), raw...), 0o600)
}
