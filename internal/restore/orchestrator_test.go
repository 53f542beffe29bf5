package restore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/backup"
	"acore-backup/internal/container"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/notify"
)

const testSetID = "2024-06-01T03-00-00-123Z"

type fakeSets struct {
	set    backup.BackupSet
	report backup.SetReport
	getErr error
}

func (f *fakeSets) GetSet(id string) (backup.BackupSet, error) {
	if f.getErr != nil {
		return backup.BackupSet{}, f.getErr
	}
	return f.set, nil
}

func (f *fakeSets) ValidateSet(context.Context, string) (backup.SetReport, error) {
	return f.report, nil
}

func (f *fakeSets) FilePath(filename string) (string, error) {
	return "/backups/" + filename, nil
}

type fakeLifecycle struct {
	mu           sync.Mutex
	calls        []string
	states       map[string]string
	stopErr      error
	stopFailures int
	startPanics  bool
}

func (f *fakeLifecycle) Stop(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop "+name)
	if f.stopErr != nil {
		return f.stopErr
	}
	if f.stopFailures > 0 {
		f.stopFailures--
		return fmt.Errorf("docker busy")
	}
	f.states[name] = container.StatusExited
	return nil
}

func (f *fakeLifecycle) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start "+name)
	if f.startPanics {
		panic("docker client crashed")
	}
	f.states[name] = container.StatusRunning
	return nil
}

func (f *fakeLifecycle) State(_ context.Context, name string) (container.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return container.State{Name: name, Status: f.states[name]}, nil
}

func (f *fakeLifecycle) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeAutoRestart struct {
	mu       sync.Mutex
	suppress int
	resume   int
	cleared  []string
}

func (f *fakeAutoRestart) Suppress() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppress++
}

func (f *fakeAutoRestart) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resume++
}

func (f *fakeAutoRestart) ClearCrashLoop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, name)
}

type fakeSnapshots struct {
	mu      sync.Mutex
	failFor map[string]bool
	taken   []string
}

func (f *fakeSnapshots) SnapshotPreRestore(_ context.Context, dbs []string, ts string) []backup.DumpResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []backup.DumpResult
	for _, db := range dbs {
		f.taken = append(f.taken, db+"@"+ts)
		if f.failFor[db] {
			out = append(out, backup.DumpResult{Database: db, Error: "connection refused"})
			continue
		}
		out = append(out, backup.DumpResult{Database: db, Success: true})
	}
	return out
}

type fakeRestorer struct {
	mu      sync.Mutex
	errFor  map[string]error
	paths   []string
	started chan struct{}
	release chan struct{}
}

func (f *fakeRestorer) Restore(_ context.Context, db, path string) (backup.RestoreStats, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	first := len(f.paths) == 1
	f.mu.Unlock()

	if first && f.started != nil {
		close(f.started)
		<-f.release
	}
	if err := f.errFor[db]; err != nil {
		return backup.RestoreStats{}, err
	}
	return backup.RestoreStats{StatementsExecuted: 10, TablesRestored: 2}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *eventLog) Notify(ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

type harness struct {
	orch      *Orchestrator
	sets      *fakeSets
	lifecycle *fakeLifecycle
	auto      *fakeAutoRestart
	snapshots *fakeSnapshots
	restorer  *fakeRestorer
	locks     *backup.LockManager
	events    *eventLog
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sets: &fakeSets{
			set: backup.BackupSet{
				ID:        testSetID,
				Timestamp: testSetID,
				Databases: []string{"acore_auth", "acore_world"},
				Files: []backup.BackupFile{
					{Filename: "acore_auth_" + testSetID + ".sql.gz", Database: "acore_auth"},
					{Filename: "acore_world_" + testSetID + ".sql.gz", Database: "acore_world"},
				},
			},
			report: backup.SetReport{SetID: testSetID, Valid: true},
		},
		lifecycle: &fakeLifecycle{states: map[string]string{
			container.WorldServer: container.StatusRunning,
			container.AuthServer:  container.StatusRunning,
		}},
		auto:      &fakeAutoRestart{},
		snapshots: &fakeSnapshots{failFor: map[string]bool{}},
		restorer:  &fakeRestorer{errFor: map[string]error{}},
		locks:     backup.NewLockManager(),
		events:    &eventLog{},
		clock:     time.Date(2024, 6, 2, 10, 30, 0, 0, time.UTC),
	}

	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	h.orch = NewOrchestrator(cfg, Dependencies{
		Sets:        h.sets,
		Snapshots:   h.snapshots,
		Restorer:    h.restorer,
		Locks:       h.locks,
		Lifecycle:   h.lifecycle,
		AutoRestart: h.auto,
		Notifier:    h.events,
	}, logging.NewNopLogger()).WithClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) run(t *testing.T) Operation {
	t.Helper()
	id, err := h.orch.StartRestore(t.Context(), testSetID)
	require.NoError(t, err)
	h.orch.Wait()
	op, err := h.orch.GetProgress(id)
	require.NoError(t, err)
	return op
}

func stepStatus(op Operation, id string) StepStatus {
	for _, s := range op.Steps {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

func TestRestoreHappyPath(t *testing.T) {
	h := newHarness(t)
	op := h.run(t)

	assert.Equal(t, StatusCompleted, op.Status)
	require.NotNil(t, op.Result)
	assert.True(t, op.Result.Success)
	assert.Equal(t, 2, op.Result.FilesRestored)
	assert.Equal(t, 4, op.Result.TotalTablesRestored)
	assert.Equal(t, 20, op.Result.TotalStatementsExecuted)
	assert.Equal(t, "pre-restore_2024-06-02T10-30-00-000Z", op.Result.PreRestoreSetID)
	assert.Empty(t, op.Result.Errors)

	for _, s := range op.Steps {
		assert.Equal(t, StepDone, s.Status, s.ID)
	}

	assert.Equal(t, []string{
		"stop ac-worldserver", "stop ac-authserver",
		"start ac-authserver", "start ac-worldserver",
	}, h.lifecycle.calls)
	assert.Equal(t, 1, h.auto.suppress)
	assert.Equal(t, 1, h.auto.resume)
	assert.ElementsMatch(t, []string{container.WorldServer, container.AuthServer}, h.auto.cleared)
	assert.Equal(t, []string{
		"/backups/acore_auth_" + testSetID + ".sql.gz",
		"/backups/acore_world_" + testSetID + ".sql.gz",
	}, h.restorer.paths)

	assert.False(t, h.locks.IsHeld("acore_auth"))
	assert.False(t, h.locks.IsHeld(backup.ServerLifecycleLock))

	require.Len(t, h.events.events, 1)
	assert.Equal(t, notify.EventRestoreSuccess, h.events.events[0].Type)
	assert.Equal(t, "Databases restored: acore_auth, acore_world", h.events.events[0].Title)
}

func TestRestoreValidationFailureTouchesNothing(t *testing.T) {
	h := newHarness(t)
	h.sets.report = backup.SetReport{SetID: testSetID, Valid: false, Files: []backup.FileReport{{
		Filename: "acore_auth_" + testSetID + ".sql.gz",
		Errors:   []string{"Statement #1: disallowed: DROP DATABASE acore_auth;"},
	}}}

	_, err := h.orch.StartRestore(t.Context(), testSetID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "disallowed")

	assert.Zero(t, h.lifecycle.count("stop"))
	assert.Zero(t, h.auto.suppress)
	assert.Empty(t, h.orch.List())
	assert.False(t, h.locks.IsHeld("acore_auth"))
	assert.Empty(t, h.events.events)
}

func TestRestoreUnknownSet(t *testing.T) {
	h := newHarness(t)
	h.sets.getErr = errors.NewNotFoundError("backup set", "nope")

	_, err := h.orch.StartRestore(t.Context(), "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Zero(t, h.lifecycle.count("stop"))
}

func TestRestoreLockConflict(t *testing.T) {
	h := newHarness(t)
	guard, err := h.locks.Acquire("backup:manual", "acore_world")
	require.NoError(t, err)
	defer guard.Release()

	_, err = h.orch.StartRestore(t.Context(), testSetID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.Zero(t, h.lifecycle.count("stop"))
	assert.False(t, h.locks.IsHeld("acore_auth"))
}

func TestRestoreStopFailureStillRestartsServers(t *testing.T) {
	h := newHarness(t)
	h.lifecycle.stopErr = fmt.Errorf("docker socket unavailable")

	op := h.run(t)

	assert.Equal(t, StatusFailed, op.Status)
	assert.False(t, op.Result.Success)
	assert.Equal(t, 3, h.lifecycle.count("stop ac-worldserver"))
	assert.Zero(t, h.lifecycle.count("stop ac-authserver"))
	assert.Equal(t, 1, h.lifecycle.count("start ac-authserver"))
	assert.Equal(t, 1, h.lifecycle.count("start ac-worldserver"))
	assert.Equal(t, 1, h.auto.resume)

	assert.Equal(t, StepFailed, stepStatus(op, "stop_worldserver"))
	assert.Equal(t, StepSkipped, stepStatus(op, "verify_stopped"))
	assert.Equal(t, StepSkipped, stepStatus(op, "pre_backup_acore_auth"))
	assert.Equal(t, StepSkipped, stepStatus(op, "restore_acore_world"))
	assert.Equal(t, StepDone, stepStatus(op, "release_locks"))
	assert.Empty(t, h.restorer.paths)
	assert.Empty(t, h.snapshots.taken)

	require.NotEmpty(t, op.Result.Errors)
	assert.Equal(t, "setup", op.Result.Errors[0].Database)
	require.Len(t, h.events.events, 1)
	assert.Equal(t, notify.EventRestoreFailed, h.events.events[0].Type)
	assert.False(t, h.locks.IsHeld(backup.ServerLifecycleLock))
}

func TestRestoreStopRetries(t *testing.T) {
	h := newHarness(t)
	h.lifecycle.stopFailures = 1

	op := h.run(t)

	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, 2, h.lifecycle.count("stop ac-worldserver"))
}

func TestRestorePreBackupFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.snapshots.failFor["acore_world"] = true

	op := h.run(t)

	assert.Equal(t, StatusCompleted, op.Status)
	assert.True(t, op.Result.Success)
	assert.Equal(t, StepFailed, stepStatus(op, "pre_backup_acore_world"))
	assert.Equal(t, StepDone, stepStatus(op, "restore_acore_world"))
	require.Len(t, op.Result.Warnings, 1)
	assert.Contains(t, op.Result.Warnings[0], "acore_world")
	assert.Equal(t, "pre-restore_2024-06-02T10-30-00-000Z", op.Result.PreRestoreSetID)
}

func TestRestoreCleanupPanicReleasesLocks(t *testing.T) {
	h := newHarness(t)
	h.lifecycle.startPanics = true

	op := h.run(t)

	assert.Equal(t, StatusFailed, op.Status)
	require.NotNil(t, op.Result)
	assert.False(t, op.Result.Success)
	require.NotEmpty(t, op.Result.Errors)
	assert.Contains(t, op.Result.Errors[len(op.Result.Errors)-1].Error, "docker client crashed")

	assert.False(t, h.locks.IsHeld("acore_auth"))
	assert.False(t, h.locks.IsHeld("acore_world"))
	assert.False(t, h.locks.IsHeld(backup.ServerLifecycleLock))

	_, err := h.orch.StartRestore(t.Context(), testSetID)
	assert.NoError(t, err)
	h.orch.Wait()
}

func TestRestoreDatabaseFailureContinuesSiblings(t *testing.T) {
	h := newHarness(t)
	h.restorer.errFor["acore_auth"] = fmt.Errorf("statement #2 failed")

	op := h.run(t)

	assert.Equal(t, StatusFailed, op.Status)
	assert.Equal(t, StepFailed, stepStatus(op, "restore_acore_auth"))
	assert.Equal(t, StepDone, stepStatus(op, "restore_acore_world"))
	assert.Equal(t, 1, op.Result.FilesRestored)
	require.Len(t, op.Result.Errors, 1)
	assert.Equal(t, "acore_auth", op.Result.Errors[0].Database)

	require.Len(t, h.events.events, 1)
	ev := h.events.events[0]
	assert.Equal(t, notify.EventRestoreFailed, ev.Type)
	assert.Equal(t, notify.SeverityHigh, ev.Severity)
	assert.Equal(t, "Restore failed for set "+testSetID, ev.Title)
	assert.Contains(t, ev.Details, "pre-restore_2024-06-02T10-30-00-000Z")
}

func TestRestoreCancelAtStepBoundary(t *testing.T) {
	h := newHarness(t)
	h.restorer.started = make(chan struct{})
	h.restorer.release = make(chan struct{})

	id, err := h.orch.StartRestore(t.Context(), testSetID)
	require.NoError(t, err)

	<-h.restorer.started
	require.NoError(t, h.orch.Cancel(id))
	close(h.restorer.release)
	h.orch.Wait()

	op, err := h.orch.GetProgress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, op.Status)
	assert.Equal(t, StepDone, stepStatus(op, "restore_acore_auth"))
	assert.Equal(t, StepSkipped, stepStatus(op, "restore_acore_world"))
	assert.Equal(t, StepDone, stepStatus(op, "start_authserver"))
	assert.Equal(t, StepDone, stepStatus(op, "start_worldserver"))
	assert.Equal(t, 1, h.auto.resume)
	assert.Len(t, h.restorer.paths, 1)

	require.Len(t, h.events.events, 1)
	assert.Equal(t, notify.EventRestoreCancelled, h.events.events[0].Type)

	err = h.orch.Cancel(id)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestRestoreOperationsExpire(t *testing.T) {
	h := newHarness(t)
	op := h.run(t)

	_, err := h.orch.GetProgress("missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	h.clock = h.clock.Add(59 * time.Minute)
	_, err = h.orch.GetProgress(op.OperationID)
	assert.NoError(t, err)

	h.clock = h.clock.Add(2 * time.Minute)
	_, err = h.orch.GetProgress(op.OperationID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestStepTransitionsAreMonotonic(t *testing.T) {
	op := newOperation("id", "set", []Step{{ID: "a", Status: StepPending}}, time.Now())

	assert.True(t, op.setStep("a", StepInProgress, ""))
	assert.True(t, op.setStep("a", StepFailed, "boom"))
	assert.False(t, op.setStep("a", StepInProgress, ""))
	assert.False(t, op.setStep("a", StepDone, ""))

	snap := op.snapshot()
	assert.Equal(t, StepFailed, snap.Steps[0].Status)
	assert.Equal(t, "boom", snap.Steps[0].Error)
}
