package schedule

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/backup"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	return NewStore(dir, backup.NewCatalog(nil), logging.NewNopLogger())
}

func TestStoreDefaults(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	cfg := s.Get()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.Cron)
	assert.Equal(t, []string{"acore_auth", "acore_characters", "acore_world"}, cfg.Databases)
	assert.Equal(t, 30, cfg.RetentionDays)
}

func TestStoreSetPersists(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	want := Config{Enabled: true, Cron: "15 4 * * 1", Databases: []string{"acore_world"}, RetentionDays: 7}
	got, err := s.Set(want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	var onDisk map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "15 4 * * 1", onDisk["cron"])
	assert.Equal(t, float64(7), onDisk["retentionDays"])

	reloaded := newTestStore(t, dir)
	assert.Equal(t, want, reloaded.Get())
}

func TestStoreSetValidates(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	for _, cfg := range []Config{
		{Cron: "bad", Databases: []string{"acore_world"}, RetentionDays: 1},
		{Cron: "0 3 * * *", Databases: []string{"mysql"}, RetentionDays: 1},
		{Cron: "0 3 * * *", Databases: nil, RetentionDays: 1},
		{Cron: "0 3 * * *", Databases: []string{"acore_world"}, RetentionDays: 0},
	} {
		_, err := s.Set(cfg)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInput), "%+v", cfg)
	}

	_, err := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, DefaultConfig(), s.Get())
}

func TestStoreReset(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.Set(Config{Enabled: true, Cron: "0 * * * *", Databases: []string{"acore_auth"}, RetentionDays: 3})
	require.NoError(t, err)

	cfg, err := s.Reset()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))

	_, err = s.Reset()
	assert.NoError(t, err)
}

func TestStoreIgnoresMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0640))
	assert.Equal(t, DefaultConfig(), newTestStore(t, dir).Get())

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName),
		[]byte(`{"enabled":true,"cron":"99 * * * *","databases":["acore_world"],"retentionDays":5}`), 0640))
	assert.Equal(t, DefaultConfig(), newTestStore(t, dir).Get())
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	cfg := s.Get()
	cfg.Databases[0] = "mutated"
	assert.Equal(t, "acore_auth", s.Get().Databases[0])
}
