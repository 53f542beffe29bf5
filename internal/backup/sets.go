package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	appErrors "acore-backup/internal/errors"
	"acore-backup/internal/logging"
)

// SetManager catalogs the dump files in the backup directory as sets
type SetManager struct {
	dir       string
	catalog   *Catalog
	inspector *Inspector
	locks     *LockManager
	logger    *logging.Logger
}

// NewSetManager creates a set manager
func NewSetManager(dir string, catalog *Catalog, locks *LockManager, logger *logging.Logger) *SetManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SetManager{
		dir:       dir,
		catalog:   catalog,
		inspector: NewInspector(dir, catalog),
		locks:     locks,
		logger:    logger,
	}
}

// Inspector returns the file validator bound to the same directory
func (sm *SetManager) Inspector() *Inspector {
	return sm.inspector
}

// ListFiles returns every well-formed dump file; others are ignored
func (sm *SetManager) ListFiles() ([]BackupFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, appErrors.WrapError(err, "failed to read backup directory")
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		rec, ok := sm.catalog.Decode(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		createdAt, _ := ParseTimestamp(rec.Timestamp)
		files = append(files, BackupFile{
			Filename:     entry.Name(),
			Database:     rec.Database,
			Timestamp:    rec.Timestamp,
			IsPreRestore: rec.IsPreRestore,
			SizeBytes:    info.Size(),
			CreatedAt:    createdAt,
		})
	}
	return files, nil
}

// ListSets groups files into sets, newest first
func (sm *SetManager) ListSets() ([]BackupSet, error) {
	files, err := sm.ListFiles()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*BackupSet)
	var order []string
	for _, f := range files {
		id := SetID(FileRecord{Database: f.Database, Timestamp: f.Timestamp, IsPreRestore: f.IsPreRestore})
		set, ok := byID[id]
		if !ok {
			label := LabelManual
			if f.IsPreRestore {
				label = LabelPreRestore
			}
			set = &BackupSet{
				ID:           id,
				Timestamp:    f.Timestamp,
				CreatedAt:    f.CreatedAt,
				Label:        label,
				IsPreRestore: f.IsPreRestore,
			}
			byID[id] = set
			order = append(order, id)
		}
		set.Files = append(set.Files, f)
		set.Databases = append(set.Databases, f.Database)
		set.TotalSize += f.SizeBytes
	}

	sets := make([]BackupSet, 0, len(order))
	for _, id := range order {
		set := byID[id]
		slices.Sort(set.Databases)
		slices.SortFunc(set.Files, func(a, b BackupFile) int { return strings.Compare(a.Database, b.Database) })
		sets = append(sets, *set)
	}
	slices.SortFunc(sets, func(a, b BackupSet) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sets, nil
}

// GetSet returns one set
func (sm *SetManager) GetSet(id string) (BackupSet, error) {
	if _, _, err := ParseSetID(id); err != nil {
		return BackupSet{}, appErrors.NewNotFoundError("backup set", id)
	}

	sets, err := sm.ListSets()
	if err != nil {
		return BackupSet{}, err
	}
	for _, set := range sets {
		if set.ID == id {
			return set, nil
		}
	}
	return BackupSet{}, appErrors.NewNotFoundError("backup set", id)
}

// DeleteSet removes every file of a set and returns how many were removed
func (sm *SetManager) DeleteSet(id string) (int, error) {
	set, err := sm.GetSet(id)
	if err != nil {
		return 0, err
	}
	if err := sm.ensureUnlocked(set); err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, f := range set.Files {
		if err := os.Remove(filepath.Join(sm.dir, f.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	sm.logger.WithFields(map[string]interface{}{
		"set_id":  id,
		"deleted": deleted,
	}).Info("Backup set deleted")

	if len(errs) > 0 {
		return deleted, appErrors.WrapError(errors.Join(errs...), fmt.Sprintf("failed to delete %d file(s) of set %s", len(errs), id))
	}
	return deleted, nil
}

// ValidateSet inspects every file of a set
func (sm *SetManager) ValidateSet(ctx context.Context, id string) (SetReport, error) {
	set, err := sm.GetSet(id)
	if err != nil {
		return SetReport{}, err
	}

	report := SetReport{SetID: id, Valid: true}
	for _, f := range set.Files {
		fr, err := sm.inspector.InspectFile(ctx, f.Filename)
		if err != nil {
			if appErrors.IsType(err, appErrors.ErrorTypeCancelled) {
				return report, err
			}
			fr = FileReport{
				Filename: f.Filename,
				Database: f.Database,
				Tables:   []string{},
				Errors:   []string{appErrors.FormatUserError(err)},
			}
		}
		report.Files = append(report.Files, fr)
		report.Valid = report.Valid && fr.Valid
	}
	return report, nil
}

// PruneOlderThan deletes every set created before cutoff. Sets whose
// databases are locked are left for the next run.
func (sm *SetManager) PruneOlderThan(cutoff time.Time) ([]string, error) {
	sets, err := sm.ListSets()
	if err != nil {
		return nil, err
	}

	var pruned []string
	var errs []error
	for _, set := range sets {
		if !set.CreatedAt.Before(cutoff) {
			continue
		}
		if sm.ensureUnlocked(set) != nil {
			sm.logger.WithField("set_id", set.ID).Warn("Skipping retention for locked backup set")
			continue
		}
		if _, err := sm.DeleteSet(set.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		pruned = append(pruned, set.ID)
	}

	if len(pruned) > 0 {
		sm.logger.WithFields(map[string]interface{}{
			"pruned": len(pruned),
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		}).Info("Retention pruning completed")
	}
	return pruned, errors.Join(errs...)
}

// FilePath resolves a dump filename inside the backup directory
func (sm *SetManager) FilePath(filename string) (string, error) {
	if _, ok := sm.catalog.Decode(filename); !ok {
		return "", appErrors.NewInputError(fmt.Sprintf("invalid backup filename %q", filename))
	}
	path := filepath.Join(sm.dir, filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", appErrors.NewNotFoundError("backup file", filename)
		}
		return "", appErrors.WrapError(err, "failed to stat backup file")
	}
	return path, nil
}

// DeleteFile removes a single dump file
func (sm *SetManager) DeleteFile(filename string) error {
	path, err := sm.FilePath(filename)
	if err != nil {
		return err
	}
	rec, _ := sm.catalog.Decode(filename)
	if sm.locks != nil && sm.locks.IsHeld(rec.Database) {
		return appErrors.NewConflictError(fmt.Sprintf("database %s is busy", rec.Database))
	}
	if err := os.Remove(path); err != nil {
		return appErrors.WrapError(err, "failed to delete backup file")
	}
	sm.logger.WithField("file", filename).Info("Backup file deleted")
	return nil
}

func (sm *SetManager) ensureUnlocked(set BackupSet) error {
	if sm.locks == nil {
		return nil
	}
	for _, db := range set.Databases {
		if sm.locks.IsHeld(db) {
			return appErrors.NewConflictError(fmt.Sprintf("database %s is busy", db))
		}
	}
	return nil
}
