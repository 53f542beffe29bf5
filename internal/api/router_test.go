package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/backup"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/restore"
	"acore-backup/internal/schedule"
)

const testSetID = "2024-06-01T03-00-00-123Z"

type fakeBackups struct {
	triggered []string
	source    backup.Source
	dir       string
	deleted   string
}

func (f *fakeBackups) TriggerBackup(_ context.Context, dbs []string, source backup.Source) (backup.RunResult, error) {
	if len(dbs) == 0 {
		return backup.RunResult{}, errors.NewInputError("at least one database is required")
	}
	f.triggered = dbs
	f.source = source
	return backup.RunResult{SetID: testSetID, Source: source, Results: []backup.DumpResult{{Database: dbs[0], Success: true}}}, nil
}

func (f *fakeBackups) DownloadPath(filename string) (string, error) {
	if strings.Contains(filename, "..") || !strings.HasSuffix(filename, ".sql.gz") {
		return "", errors.NewInputError("invalid backup filename")
	}
	path := filepath.Join(f.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", errors.NewNotFoundError("backup file", filename)
	}
	return path, nil
}

func (f *fakeBackups) DeleteFile(filename string) error {
	f.deleted = filename
	return nil
}

type fakeSets struct{}

func (fakeSets) ListSets() ([]backup.BackupSet, error) { return nil, nil }

func (fakeSets) GetSet(id string) (backup.BackupSet, error) {
	if id != testSetID {
		return backup.BackupSet{}, errors.NewNotFoundError("backup set", id)
	}
	return backup.BackupSet{ID: id, Timestamp: id, Databases: []string{"acore_world"}}, nil
}

func (s fakeSets) DeleteSet(id string) (int, error) {
	if _, err := s.GetSet(id); err != nil {
		return 0, err
	}
	return 1, nil
}

func (fakeSets) ValidateSet(_ context.Context, id string) (backup.SetReport, error) {
	return backup.SetReport{SetID: id, Valid: true}, nil
}

type fakeRestores struct {
	busy bool
}

func (f *fakeRestores) StartRestore(_ context.Context, setID string) (string, error) {
	switch {
	case setID != testSetID:
		return "", errors.NewNotFoundError("backup set", setID)
	case f.busy:
		return "", errors.NewConflictError("database acore_world is locked by another operation")
	}
	return "op-1", nil
}

func (f *fakeRestores) GetProgress(id string) (restore.Operation, error) {
	if id != "op-1" {
		return restore.Operation{}, errors.NewNotFoundError("restore operation", id)
	}
	return restore.Operation{OperationID: id, SetID: testSetID, Status: restore.StatusRunning}, nil
}

func (f *fakeRestores) List() []restore.Operation { return nil }

func (f *fakeRestores) Cancel(id string) error {
	if id != "op-1" {
		return errors.NewNotFoundError("restore operation", id)
	}
	return nil
}

type fakeSchedules struct {
	cfg schedule.Config
}

func (f *fakeSchedules) Get() schedule.Config { return f.cfg }

func (f *fakeSchedules) Set(cfg schedule.Config) (schedule.Config, error) {
	if cfg.RetentionDays < 1 {
		return schedule.Config{}, errors.NewInputError("retentionDays must be at least 1")
	}
	f.cfg = cfg
	return cfg, nil
}

func (f *fakeSchedules) Reset() (schedule.Config, error) {
	f.cfg = schedule.DefaultConfig()
	return f.cfg, nil
}

type harness struct {
	backups   *fakeBackups
	restores  *fakeRestores
	schedules *fakeSchedules
	server    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backups:   &fakeBackups{dir: t.TempDir()},
		restores:  &fakeRestores{},
		schedules: &fakeSchedules{cfg: schedule.DefaultConfig()},
	}
	next := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
	router := NewRouter(Dependencies{
		Backups:   h.backups,
		Sets:      fakeSets{},
		Restores:  h.restores,
		Schedules: h.schedules,
		NextRun:   func() time.Time { return next },
	}, logging.NewNopLogger())
	h.server = httptest.NewServer(router.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/healthz", "")

	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerBackup(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/backups", `{"databases":["acore_world"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testSetID, body["setId"])
	assert.Equal(t, []string{"acore_world"}, h.backups.triggered)
	assert.Equal(t, backup.SourceManual, h.backups.source)
}

func TestTriggerBackupRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/backups", `{"databases":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "input", body["error"])

	resp, _ = h.do(t, http.MethodPost, "/api/backups", `{"dbs":["acore_world"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSetsReturnsEmptyArray(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/api/backups")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sets []interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sets))
	assert.NotNil(t, sets)
	assert.Empty(t, sets)
}

func TestSetRoutes(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/backups/sets/"+testSetID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testSetID, body["id"])

	resp, body = h.do(t, http.MethodGet, "/api/backups/sets/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])

	resp, body = h.do(t, http.MethodPost, "/api/backups/sets/"+testSetID+"/validate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])

	resp, body = h.do(t, http.MethodDelete, "/api/backups/sets/"+testSetID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["deletedFiles"])
}

func TestRestoreRoutes(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/backups/sets/"+testSetID+"/restore", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "op-1", body["operationId"])

	resp, body = h.do(t, http.MethodGet, "/api/backups/restore-operations/op-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["status"])

	resp, _ = h.do(t, http.MethodPost, "/api/backups/restore-operations/op-1/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/backups/restore-operations/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h.restores.busy = true
	resp, body = h.do(t, http.MethodPost, "/api/backups/sets/"+testSetID+"/restore", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["error"])
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.ErrorTypeInput))
	assert.Equal(t, http.StatusNotFound, statusFor(errors.ErrorTypeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(errors.ErrorTypeConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(errors.ErrorTypeValidation))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.ErrorTypeTransientIO))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.ErrorTypeUnknown))
}

func TestScheduleRoutes(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/backups/schedule", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])
	assert.Nil(t, body["nextRun"])

	resp, body = h.do(t, http.MethodPut, "/api/backups/schedule",
		`{"enabled":true,"cron":"0 */6 * * *","databases":["acore_world"],"retentionDays":14}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0 */6 * * *", body["cron"])
	assert.Equal(t, float64(14), body["retentionDays"])
	assert.Equal(t, "2024-06-02T03:00:00Z", body["nextRun"])

	resp, _ = h.do(t, http.MethodPut, "/api/backups/schedule",
		`{"enabled":true,"cron":"0 3 * * *","databases":["acore_world"],"retentionDays":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodDelete, "/api/backups/schedule", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Schedule deleted", body["message"])
	assert.False(t, h.schedules.cfg.Enabled)
}

func TestFileRoutes(t *testing.T) {
	h := newHarness(t)
	name := "acore_world_" + testSetID + ".sql.gz"
	require.NoError(t, os.WriteFile(filepath.Join(h.backups.dir, name), []byte("gzip-bytes"), 0o644))

	resp, err := http.Get(h.server.URL + "/api/backups/files/" + name)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/gzip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), name)

	missing, _ := h.do(t, http.MethodGet, "/api/backups/files/acore_auth_"+testSetID+".sql.gz", "")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	bad, _ := h.do(t, http.MethodGet, "/api/backups/files/notes.txt", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	del, body := h.do(t, http.MethodDelete, "/api/backups/files/"+name, "")
	assert.Equal(t, http.StatusOK, del.StatusCode)
	assert.Equal(t, "Backup deleted", body["message"])
	assert.Equal(t, name, h.backups.deleted)
}
