package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/metrics"
	"acore-backup/internal/notify"
)

// DumpRunner writes one database to a file
type DumpRunner interface {
	Dump(ctx context.Context, db, path string) (DumpStats, error)
}

// Service runs backups into the backup directory and exposes the sets
// stored there
type Service struct {
	dir      string
	catalog  *Catalog
	dumper   DumpRunner
	sets     *SetManager
	locks    *LockManager
	notifier notify.Notifier
	mirror   Mirror
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates a backup service
func NewService(dir string, catalog *Catalog, dumper DumpRunner, locks *LockManager, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if locks == nil {
		locks = NewLockManager()
	}
	return &Service{
		dir:      dir,
		catalog:  catalog,
		dumper:   dumper,
		sets:     NewSetManager(dir, catalog, locks, logger),
		locks:    locks,
		notifier: notify.Nop{},
		logger:   logger,
		now:      time.Now,
	}
}

// WithNotifier sets the notification sink
func (s *Service) WithNotifier(n notify.Notifier) *Service {
	if n != nil {
		s.notifier = n
	}
	return s
}

// WithMirror enables offsite copies of successful dumps
func (s *Service) WithMirror(m Mirror) *Service {
	s.mirror = m
	return s
}

// WithClock overrides the time source used for set timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Sets returns the set manager over the backup directory
func (s *Service) Sets() *SetManager {
	return s.sets
}

// Catalog returns the known databases
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Locks returns the shared lock table
func (s *Service) Locks() *LockManager {
	return s.locks
}

// TriggerBackup dumps every requested database under one shared timestamp.
// A manual run fails with a conflict when any database is busy; a scheduled
// run skips busy databases instead. Per-database failures are reported in
// the result, not as an error.
func (s *Service) TriggerBackup(ctx context.Context, databases []string, source Source) (RunResult, error) {
	if err := s.catalog.Validate(databases); err != nil {
		return RunResult{}, err
	}

	owner := "backup:" + string(source)
	var guards []*Guard
	defer func() {
		for _, g := range guards {
			g.Release()
		}
	}()

	locked := make(map[string]bool, len(databases))
	if source == SourceScheduled {
		for _, db := range databases {
			g, err := s.locks.Acquire(owner, db)
			if err != nil {
				s.logger.WithField("database", db).Warn("Database busy, skipping scheduled backup")
				continue
			}
			guards = append(guards, g)
			locked[db] = true
		}
	} else {
		g, err := s.locks.Acquire(owner, databases...)
		if err != nil {
			return RunResult{}, err
		}
		guards = append(guards, g)
		for _, db := range databases {
			locked[db] = true
		}
	}

	started := s.now()
	run := RunResult{
		SetID:     FormatTimestamp(started),
		Source:    source,
		StartedAt: started,
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return RunResult{}, errors.WrapError(err, "failed to create backup directory")
	}

	for _, db := range databases {
		if !locked[db] {
			run.Results = append(run.Results, DumpResult{Database: db, Skipped: true, Error: "database busy"})
			metrics.RecordDump(db, metrics.ResultSkipped, 0, 0)
			continue
		}
		run.Results = append(run.Results, s.dumpOne(ctx, db, run.SetID, false))
	}

	s.report(run)
	s.mirrorResults(ctx, run)
	return run, nil
}

// SnapshotPreRestore writes pre-restore dumps of databases under timestamp
// ts. The caller must already hold the database locks.
func (s *Service) SnapshotPreRestore(ctx context.Context, databases []string, ts string) []DumpResult {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		results := make([]DumpResult, 0, len(databases))
		for _, db := range databases {
			results = append(results, DumpResult{Database: db, Error: err.Error()})
		}
		return results
	}

	results := make([]DumpResult, 0, len(databases))
	for _, db := range databases {
		results = append(results, s.dumpOne(ctx, db, ts, true))
	}
	return results
}

// PreRestoreSetID returns the set id a snapshot taken at ts will have
func PreRestoreSetID(ts string) string {
	return SetID(FileRecord{Timestamp: ts, IsPreRestore: true})
}

func (s *Service) dumpOne(ctx context.Context, db, ts string, preRestore bool) DumpResult {
	result := DumpResult{Database: db}

	filename, err := s.catalog.Encode(FileRecord{Database: db, Timestamp: ts, IsPreRestore: preRestore})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	stats, err := s.dumper.Dump(ctx, db, filepath.Join(s.dir, filename))
	if err != nil {
		result.Error = err.Error()
		metrics.RecordDump(db, metrics.ResultFailed, 0, stats.Duration)
		return result
	}

	result.Filename = filename
	result.SizeBytes = stats.SizeBytes
	result.Tables = stats.Tables
	result.Success = true
	metrics.RecordDump(db, metrics.ResultSuccess, stats.SizeBytes, stats.Duration)
	return result
}

func (s *Service) report(run RunResult) {
	var ok, failed []string
	for _, r := range run.Results {
		switch {
		case r.Success:
			ok = append(ok, fmt.Sprintf("%s (%d tables, %d bytes)", r.Database, r.Tables, r.SizeBytes))
		case !r.Skipped:
			failed = append(failed, fmt.Sprintf("%s: %s", r.Database, r.Error))
		}
	}
	if len(ok) == 0 && len(failed) == 0 {
		return
	}
	if len(ok) > 0 {
		metrics.LastBackupTimestamp.Set(float64(run.StartedAt.Unix()))
	}

	fields := map[string]interface{}{
		"set_id":    run.SetID,
		"source":    string(run.Source),
		"succeeded": len(ok),
		"failed":    len(failed),
	}
	if len(failed) > 0 {
		s.logger.WithFields(fields).Warn("Backup run finished with failures")
		s.notifier.Notify(notify.Event{
			Type:     notify.EventBackupFailed,
			Severity: notify.SeverityHigh,
			Title:    fmt.Sprintf("Backup failed (%s)", run.Source),
			Details:  strings.Join(failed, "\n"),
			Time:     s.now(),
		})
		return
	}

	s.logger.WithFields(fields).Info("Backup run completed")
	s.notifier.Notify(notify.Event{
		Type:     notify.EventBackupSuccess,
		Severity: notify.SeverityInfo,
		Title:    fmt.Sprintf("Backup completed (%s)", run.Source),
		Details:  strings.Join(ok, "\n"),
		Time:     s.now(),
	})
}

func (s *Service) mirrorResults(ctx context.Context, run RunResult) {
	if s.mirror == nil {
		return
	}
	for _, r := range run.Results {
		if !r.Success {
			continue
		}
		err := s.mirror.Upload(ctx, filepath.Join(s.dir, r.Filename), r.Filename)
		metrics.RecordMirrorUpload(err)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"file":   r.Filename,
				"mirror": s.mirror.Name(),
				"error":  err.Error(),
			}).Warn("Offsite upload failed")
			continue
		}
		s.logger.WithFields(map[string]interface{}{
			"file":   r.Filename,
			"mirror": s.mirror.Name(),
		}).Debug("Offsite upload completed")
	}
}

// Prune removes sets older than retentionDays
func (s *Service) Prune(retentionDays int) ([]string, error) {
	if retentionDays < 1 {
		return nil, errors.NewInputError("retention days must be at least 1")
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	pruned, err := s.sets.PruneOlderThan(cutoff)
	metrics.PrunedSets.Add(float64(len(pruned)))
	return pruned, err
}

// DownloadPath resolves a dump filename for reading
func (s *Service) DownloadPath(filename string) (string, error) {
	return s.sets.FilePath(filename)
}

// DeleteFile removes one dump file
func (s *Service) DeleteFile(filename string) error {
	return s.sets.DeleteFile(filename)
}
