package schedule

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"acore-backup/internal/backup"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
)

// FileName is the schedule file kept inside the backup directory
const FileName = "schedule.json"

// Config is the persisted schedule
type Config struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	Cron          string   `json:"cron" yaml:"cron"`
	Databases     []string `json:"databases" yaml:"databases"`
	RetentionDays int      `json:"retentionDays" yaml:"retention_days"`
}

// DefaultConfig is used until a schedule is saved
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Cron:          "0 3 * * *",
		Databases:     slices.Clone(backup.CoreDatabases),
		RetentionDays: 30,
	}
}

// Store keeps the active schedule in memory and on disk. Every update is
// written before it takes effect.
type Store struct {
	path    string
	catalog *backup.Catalog
	logger  *logging.Logger
	mu      sync.RWMutex
	config  Config
}

// NewStore loads the schedule from dir, falling back to defaults when the
// file is missing or unreadable
func NewStore(dir string, catalog *backup.Catalog, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	s := &Store{
		path:    filepath.Join(dir, FileName),
		catalog: catalog,
		logger:  logger,
		config:  DefaultConfig(),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			s.logger.WithField("error", err.Error()).Warn("Failed to read schedule, using defaults")
		}
		return
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Malformed schedule file, using defaults")
		return
	}
	if err := s.validate(cfg); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Invalid saved schedule, using defaults")
		return
	}
	s.config = cfg
	s.logger.WithFields(map[string]interface{}{
		"enabled": cfg.Enabled,
		"cron":    cfg.Cron,
	}).Debug("Loaded backup schedule")
}

// Path returns the schedule file location
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the active schedule
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.config
	cfg.Databases = slices.Clone(cfg.Databases)
	return cfg
}

// Set validates, persists and activates a new schedule
func (s *Store) Set(cfg Config) (Config, error) {
	if err := s.validate(cfg); err != nil {
		return Config{}, err
	}
	cfg.Databases = slices.Clone(cfg.Databases)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Config{}, errors.WrapError(err, "failed to encode schedule")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data); err != nil {
		return Config{}, err
	}
	s.config = cfg
	s.logger.WithFields(map[string]interface{}{
		"enabled":        cfg.Enabled,
		"cron":           cfg.Cron,
		"databases":      cfg.Databases,
		"retention_days": cfg.RetentionDays,
	}).Info("Backup schedule updated")
	return cfg, nil
}

// Reset removes the saved schedule and restores the defaults
func (s *Store) Reset() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return Config{}, errors.WrapError(err, "failed to remove schedule file")
	}
	s.config = DefaultConfig()
	s.logger.Info("Backup schedule reset to defaults")
	return s.config, nil
}

func (s *Store) validate(cfg Config) error {
	if _, err := ParseCron(cfg.Cron); err != nil {
		return err
	}
	if err := s.catalog.Validate(cfg.Databases); err != nil {
		return err
	}
	if cfg.RetentionDays < 1 {
		return errors.NewInputError("retention days must be at least 1")
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.WrapError(err, "failed to create schedule directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".schedule-*.json")
	if err != nil {
		return errors.WrapError(err, "failed to write schedule")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.WrapError(err, "failed to write schedule")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, "failed to write schedule")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, "failed to save schedule")
	}
	return nil
}
