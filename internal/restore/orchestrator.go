// Package restore runs the restore workflow for a backup set: stop the
// game servers, snapshot, replace each database and bring the servers back.
package restore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"acore-backup/internal/backup"
	"acore-backup/internal/container"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/metrics"
	"acore-backup/internal/notify"
)

// Lifecycle stops and starts game server containers
type Lifecycle interface {
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Start(ctx context.Context, name string) error
	State(ctx context.Context, name string) (container.State, error)
}

// AutoRestart is the crash watchdog control surface
type AutoRestart interface {
	Suppress()
	Resume()
	ClearCrashLoop(name string)
}

// SetSource resolves and validates backup sets
type SetSource interface {
	GetSet(id string) (backup.BackupSet, error)
	ValidateSet(ctx context.Context, id string) (backup.SetReport, error)
	FilePath(filename string) (string, error)
}

// Snapshotter takes pre-restore dumps
type Snapshotter interface {
	SnapshotPreRestore(ctx context.Context, databases []string, ts string) []backup.DumpResult
}

// DatabaseRestorer replays one dump file into a database
type DatabaseRestorer interface {
	Restore(ctx context.Context, db, path string) (backup.RestoreStats, error)
}

const setupErrorKey = "setup"

// Config tunes server handling during a restore
type Config struct {
	WorldServer  string        `mapstructure:"worldserver" yaml:"worldserver"`
	AuthServer   string        `mapstructure:"authserver" yaml:"authserver"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	StopRetries  int           `mapstructure:"stop_retries" yaml:"stop_retries"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	OperationTTL time.Duration `mapstructure:"operation_ttl" yaml:"operation_ttl"`
}

// DefaultConfig returns the restore defaults
func DefaultConfig() Config {
	return Config{
		WorldServer:  container.WorldServer,
		AuthServer:   container.AuthServer,
		StopTimeout:  120 * time.Second,
		StopRetries:  2,
		SettleDelay:  3 * time.Second,
		OperationTTL: time.Hour,
	}
}

// Orchestrator owns the restore operation table
type Orchestrator struct {
	config      Config
	sets        SetSource
	snapshots   Snapshotter
	restorer    DatabaseRestorer
	locks       *backup.LockManager
	lifecycle   Lifecycle
	autoRestart AutoRestart
	notifier    notify.Notifier
	logger      *logging.Logger
	now         func() time.Time

	mu      sync.Mutex
	ops     map[string]*operation
	running sync.WaitGroup
}

// Dependencies bundles the orchestrator's collaborators
type Dependencies struct {
	Sets        SetSource
	Snapshots   Snapshotter
	Restorer    DatabaseRestorer
	Locks       *backup.LockManager
	Lifecycle   Lifecycle
	AutoRestart AutoRestart
	Notifier    notify.Notifier
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(config Config, deps Dependencies, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	defaults := DefaultConfig()
	if config.WorldServer == "" {
		config.WorldServer = defaults.WorldServer
	}
	if config.AuthServer == "" {
		config.AuthServer = defaults.AuthServer
	}
	if config.OperationTTL <= 0 {
		config.OperationTTL = defaults.OperationTTL
	}
	if config.StopRetries < 0 {
		config.StopRetries = 0
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	return &Orchestrator{
		config:      config,
		sets:        deps.Sets,
		snapshots:   deps.Snapshots,
		restorer:    deps.Restorer,
		locks:       deps.Locks,
		lifecycle:   deps.Lifecycle,
		autoRestart: deps.AutoRestart,
		notifier:    deps.Notifier,
		logger:      logger,
		now:         time.Now,
		ops:         make(map[string]*operation),
	}
}

// WithClock overrides the time source
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// StartRestore validates and locks the set, registers an operation and
// runs the workflow in the background. Validation, lookup and lock errors
// are returned before any server is touched.
func (o *Orchestrator) StartRestore(ctx context.Context, setID string) (string, error) {
	o.expire()

	set, err := o.sets.GetSet(setID)
	if err != nil {
		return "", err
	}

	report, err := o.sets.ValidateSet(ctx, setID)
	if err != nil {
		return "", err
	}
	if !report.Valid {
		return "", validationFailure(report)
	}

	owner := "restore:" + setID
	guard, err := o.locks.Acquire(owner, append(slices.Clone(set.Databases), backup.ServerLifecycleLock)...)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	op := newOperation(id, setID, o.buildSteps(set), o.now())
	op.setStep(stepValidate, StepDone, "")
	op.setStep(stepAcquireLock, StepDone, "")

	o.mu.Lock()
	o.ops[id] = op
	o.mu.Unlock()

	o.logger.WithFields(map[string]interface{}{
		"operation_id": id,
		"set_id":       setID,
		"databases":    strings.Join(set.Databases, ","),
	}).Info("Restore started")

	workflowCtx := logging.ContextWithOperationID(context.WithoutCancel(ctx), id)
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		o.run(workflowCtx, op, set, guard)
	}()
	return id, nil
}

// GetProgress returns a snapshot of an operation
func (o *Orchestrator) GetProgress(id string) (Operation, error) {
	o.expire()
	o.mu.Lock()
	op, ok := o.ops[id]
	o.mu.Unlock()
	if !ok {
		return Operation{}, errors.NewNotFoundError("restore operation", id)
	}
	return op.snapshot(), nil
}

// List returns snapshots of every tracked operation, newest first
func (o *Orchestrator) List() []Operation {
	o.expire()
	o.mu.Lock()
	out := make([]Operation, 0, len(o.ops))
	for _, op := range o.ops {
		out = append(out, op.snapshot())
	}
	o.mu.Unlock()
	slices.SortFunc(out, func(a, b Operation) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}

// Cancel requests cancellation. The workflow stops at the next step
// boundary and still restarts the servers.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	op, ok := o.ops[id]
	o.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("restore operation", id)
	}
	if !op.requestCancel() {
		return errors.NewConflictError(fmt.Sprintf("restore operation %s has already finished", id))
	}
	o.logger.WithField("operation_id", id).Info("Restore cancellation requested")
	return nil
}

// Wait blocks until every running workflow has finished
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

func (o *Orchestrator) expire() {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, op := range o.ops {
		if op.expired(now, o.config.OperationTTL) {
			delete(o.ops, id)
		}
	}
}

func validationFailure(report backup.SetReport) error {
	var problems []string
	for _, f := range report.Files {
		if f.Valid {
			continue
		}
		for _, e := range f.Errors {
			problems = append(problems, fmt.Sprintf("%s: %s", f.Filename, e))
		}
	}
	err := errors.NewValidationError(
		fmt.Sprintf("backup set %s failed validation: %s", report.SetID, strings.Join(problems, "; ")), nil)
	err.UserMessage = err.Message
	return err.WithContext("report", report)
}

// Step ids
const (
	stepValidate       = "validate"
	stepAcquireLock    = "acquire_lock"
	stepSuppress       = "suppress_auto_restart"
	stepStopWorld      = "stop_worldserver"
	stepStopAuth       = "stop_authserver"
	stepVerifyStopped  = "verify_stopped"
	stepStartAuth      = "start_authserver"
	stepStartWorld     = "start_worldserver"
	stepResume         = "resume_auto_restart"
	stepReleaseLocks   = "release_locks"
	preBackupPrefix    = "pre_backup_"
	restorePrefix      = "restore_"
	clearCrashLoopStep = "clear_crash_loop_"
)

func (o *Orchestrator) buildSteps(set backup.BackupSet) []Step {
	steps := []Step{
		{ID: stepValidate, Label: "Validating backup files"},
		{ID: stepAcquireLock, Label: "Locking databases"},
		{ID: stepSuppress, Label: "Suspending auto-restart"},
		{ID: stepStopWorld, Label: "Stopping worldserver"},
		{ID: stepStopAuth, Label: "Stopping authserver"},
		{ID: stepVerifyStopped, Label: "Verifying servers stopped"},
	}
	for _, f := range set.Files {
		steps = append(steps, Step{ID: preBackupPrefix + f.Database, Label: "Pre-backup " + f.Database})
	}
	for _, f := range set.Files {
		steps = append(steps, Step{ID: restorePrefix + f.Database, Label: "Restoring " + f.Database})
	}
	steps = append(steps,
		Step{ID: stepStartAuth, Label: "Starting authserver"},
		Step{ID: stepStartWorld, Label: "Starting worldserver"},
		Step{ID: stepResume, Label: "Resuming auto-restart"},
		Step{ID: clearCrashLoopStep + o.config.WorldServer, Label: "Clearing crash loop " + o.config.WorldServer},
		Step{ID: clearCrashLoopStep + o.config.AuthServer, Label: "Clearing crash loop " + o.config.AuthServer},
		Step{ID: stepReleaseLocks, Label: "Releasing locks"},
	)
	for i := range steps {
		steps[i].Status = StepPending
	}
	return steps
}

func isDestructiveStep(id string) bool {
	return id == stepStopAuth || id == stepVerifyStopped ||
		strings.HasPrefix(id, preBackupPrefix) || strings.HasPrefix(id, restorePrefix)
}

// workflow carries the per-run state shared by the phases
type workflow struct {
	op         *operation
	set        backup.BackupSet
	result     Result
	suppressed bool
	cancelled  bool
}

func (w *workflow) fail(database string, err error) {
	w.result.Errors = append(w.result.Errors, DatabaseError{Database: database, Error: err.Error()})
}

func (o *Orchestrator) run(ctx context.Context, op *operation, set backup.BackupSet, guard *backup.Guard) {
	start := o.now()
	done := o.logger.LogOperationStart("restore", map[string]interface{}{
		"operation_id": op.id,
		"set_id":       set.ID,
	})

	w := &workflow{
		op:  op,
		set: set,
		result: Result{
			SetID:     set.ID,
			Databases: slices.Clone(set.Databases),
			Errors:    []DatabaseError{},
			Warnings:  []string{},
		},
	}

	defer guard.Release()

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.fail(setupErrorKey, fmt.Errorf("restore cleanup panicked: %v", r))
				o.logger.WithField("panic", fmt.Sprint(r)).Error("Restore cleanup panicked")
			}
		}()
		defer o.cleanup(ctx, w, guard)
		defer func() {
			if r := recover(); r != nil {
				w.fail(setupErrorKey, fmt.Errorf("restore workflow panicked: %v", r))
				o.logger.WithField("panic", fmt.Sprint(r)).Error("Restore workflow panicked")
			}
		}()
		o.execute(ctx, w)
	}()

	w.result.Success = o.succeeded(w)
	w.result.DurationMs = o.now().Sub(start).Milliseconds()

	status := StatusFailed
	switch {
	case w.cancelled:
		status = StatusCancelled
	case w.result.Success:
		status = StatusCompleted
	}
	op.finish(status, w.result, o.now())
	metrics.RecordRestore(string(status), o.now().Sub(start))

	if status == StatusFailed {
		done(errors.NewPartialFailureError(fmt.Sprintf("restore of set %s failed", set.ID), failedDatabases(w.result)))
	} else {
		done(nil)
	}
	o.notifyOutcome(status, w.result)
}

func (o *Orchestrator) succeeded(w *workflow) bool {
	if w.cancelled || len(w.result.Errors) > 0 {
		return false
	}
	for _, s := range w.op.snapshot().Steps {
		if strings.HasPrefix(s.ID, restorePrefix) && s.Status != StepDone {
			return false
		}
	}
	return true
}

func failedDatabases(res Result) []string {
	var dbs []string
	for _, e := range res.Errors {
		dbs = append(dbs, e.Database)
	}
	return dbs
}

// checkpoint reports whether the workflow may begin another destructive
// step. Once cancellation is observed every remaining destructive step is
// skipped.
func (o *Orchestrator) checkpoint(w *workflow) bool {
	if w.cancelled {
		return false
	}
	if !w.op.isCancelled() {
		return true
	}
	w.cancelled = true
	w.result.Warnings = append(w.result.Warnings, "Restore cancelled by user")
	o.logger.WithField("operation_id", w.op.id).Warn("Restore cancelled; skipping remaining steps")
	w.op.skipPending(func(id string) bool { return id == stepSuppress || id == stepStopWorld || isDestructiveStep(id) })
	return false
}

func (o *Orchestrator) step(w *workflow, id string, fn func() error) error {
	w.op.setStep(id, StepInProgress, "")
	o.logger.LogStep(w.op.id, id, string(StepInProgress), nil)
	err := fn()
	if err != nil {
		w.op.setStep(id, StepFailed, err.Error())
		o.logger.LogStep(w.op.id, id, string(StepFailed), err)
		return err
	}
	w.op.setStep(id, StepDone, "")
	o.logger.LogStep(w.op.id, id, string(StepDone), nil)
	return nil
}

// execute runs everything up to and including the per-database restores
func (o *Orchestrator) execute(ctx context.Context, w *workflow) {
	abort := func() {
		w.op.skipPending(isDestructiveStep)
	}

	if !o.checkpoint(w) {
		return
	}
	o.step(w, stepSuppress, func() error {
		o.autoRestart.Suppress()
		w.suppressed = true
		return nil
	})

	if !o.checkpoint(w) {
		return
	}
	if err := o.step(w, stepStopWorld, func() error { return o.stopServer(ctx, o.config.WorldServer) }); err != nil {
		w.fail(setupErrorKey, err)
		abort()
		return
	}

	if !o.checkpoint(w) {
		return
	}
	if err := o.step(w, stepStopAuth, func() error { return o.stopServer(ctx, o.config.AuthServer) }); err != nil {
		w.fail(setupErrorKey, err)
		abort()
		return
	}

	if !o.checkpoint(w) {
		return
	}
	if err := o.step(w, stepVerifyStopped, func() error { return o.verifyStopped(ctx) }); err != nil {
		w.fail(setupErrorKey, err)
		abort()
		return
	}

	ts := backup.FormatTimestamp(o.now())
	for _, f := range w.set.Files {
		if !o.checkpoint(w) {
			return
		}
		db := f.Database
		err := o.step(w, preBackupPrefix+db, func() error {
			res := o.snapshots.SnapshotPreRestore(ctx, []string{db}, ts)
			if len(res) == 0 || !res[0].Success {
				msg := "no result"
				if len(res) > 0 {
					msg = res[0].Error
				}
				return errors.NewTransientIOError(fmt.Sprintf("pre-restore backup of %s failed: %s", db, msg), nil)
			}
			return nil
		})
		if err != nil {
			w.result.Warnings = append(w.result.Warnings, err.Error())
			continue
		}
		w.result.PreRestoreSetID = backup.PreRestoreSetID(ts)
	}

	for _, f := range w.set.Files {
		if !o.checkpoint(w) {
			return
		}
		db, filename := f.Database, f.Filename
		var stats backup.RestoreStats
		err := o.step(w, restorePrefix+db, func() error {
			path, err := o.sets.FilePath(filename)
			if err != nil {
				return err
			}
			stats, err = o.restorer.Restore(ctx, db, path)
			return err
		})
		if err != nil {
			w.fail(db, err)
			continue
		}
		w.result.FilesRestored++
		w.result.TotalTablesRestored += stats.TablesRestored
		w.result.TotalStatementsExecuted += stats.StatementsExecuted
	}
}

// stopServer stops a container, retrying while it is still reported
// running
func (o *Orchestrator) stopServer(ctx context.Context, name string) error {
	var lastErr error
	for attempt := 0; attempt <= o.config.StopRetries; attempt++ {
		if err := o.lifecycle.Stop(ctx, name, o.config.StopTimeout); err != nil {
			lastErr = err
			o.logger.WithFields(map[string]interface{}{
				"container": name,
				"attempt":   attempt + 1,
				"error":     err.Error(),
			}).Warn("Container stop attempt failed")
			continue
		}
		state, err := o.lifecycle.State(ctx, name)
		if err == nil && !state.Running() {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%s still %s", name, state.Status)
		}
	}
	return errors.NewFatalWorkflowError(
		fmt.Sprintf("failed to stop %s after %d attempt(s): %v", name, o.config.StopRetries+1, lastErr), lastErr)
}

func (o *Orchestrator) verifyStopped(ctx context.Context) error {
	sleepCtx(ctx, o.config.SettleDelay)

	var running []string
	for _, name := range []string{o.config.WorldServer, o.config.AuthServer} {
		state, err := o.lifecycle.State(ctx, name)
		if err != nil {
			return errors.NewFatalWorkflowError(fmt.Sprintf("could not verify %s is stopped", name), err)
		}
		if state.Running() {
			running = append(running, name)
		}
	}
	if len(running) > 0 {
		return errors.NewFatalWorkflowError(
			fmt.Sprintf("servers still running after stop: %s; refusing to restore", strings.Join(running, ", ")), nil)
	}
	return nil
}

// cleanup brings the servers back and releases everything the workflow
// holds. It runs exactly once per workflow whatever happened before.
func (o *Orchestrator) cleanup(ctx context.Context, w *workflow, guard *backup.Guard) {
	if err := o.step(w, stepStartAuth, func() error { return o.lifecycle.Start(ctx, o.config.AuthServer) }); err != nil {
		w.fail(setupErrorKey, fmt.Errorf("failed to start %s: %w", o.config.AuthServer, err))
	}
	sleepCtx(ctx, o.config.SettleDelay)
	if err := o.step(w, stepStartWorld, func() error { return o.lifecycle.Start(ctx, o.config.WorldServer) }); err != nil {
		w.fail(setupErrorKey, fmt.Errorf("failed to start %s: %w", o.config.WorldServer, err))
	}

	if w.suppressed {
		o.step(w, stepResume, func() error {
			o.autoRestart.Resume()
			return nil
		})
	} else {
		w.op.setStep(stepResume, StepSkipped, "")
	}

	for _, name := range []string{o.config.WorldServer, o.config.AuthServer} {
		o.step(w, clearCrashLoopStep+name, func() error {
			o.autoRestart.ClearCrashLoop(name)
			return nil
		})
	}

	o.step(w, stepReleaseLocks, func() error {
		guard.Release()
		return nil
	})
}

func (o *Orchestrator) notifyOutcome(status Status, res Result) {
	event := notify.Event{Time: o.now()}
	switch status {
	case StatusCompleted:
		event.Type = notify.EventRestoreSuccess
		event.Severity = notify.SeverityInfo
		event.Title = "Databases restored: " + strings.Join(res.Databases, ", ")
		event.Details = fmt.Sprintf("Set %s: %d file(s), %d table(s), %d statement(s) in %s",
			res.SetID, res.FilesRestored, res.TotalTablesRestored, res.TotalStatementsExecuted,
			(time.Duration(res.DurationMs) * time.Millisecond).Round(time.Second))
		if len(res.Warnings) > 0 {
			event.Details += "\nWarnings: " + strings.Join(res.Warnings, "; ")
		}
	case StatusCancelled:
		event.Type = notify.EventRestoreCancelled
		event.Severity = notify.SeverityWarning
		event.Title = "Restore cancelled for set " + res.SetID
		event.Details = fmt.Sprintf("%d of %d file(s) restored before cancellation", res.FilesRestored, len(res.Databases))
	default:
		event.Type = notify.EventRestoreFailed
		event.Severity = notify.SeverityHigh
		event.Title = "Restore failed for set " + res.SetID
		var lines []string
		for _, e := range res.Errors {
			lines = append(lines, fmt.Sprintf("%s: %s", e.Database, e.Error))
		}
		event.Details = strings.Join(lines, "\n")
		if res.PreRestoreSetID != "" {
			event.Details += "\nPre-restore backup: " + res.PreRestoreSetID
		}
	}
	o.notifier.Notify(event)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
