package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/backup"
	"acore-backup/internal/logging"
)

type fakeRunner struct {
	mu        sync.Mutex
	backups   [][]string
	sources   []backup.Source
	prunes    []int
	block     chan struct{}
	started   chan struct{}
	pruneErr  error
	runResult backup.RunResult
}

func (f *fakeRunner) TriggerBackup(_ context.Context, dbs []string, source backup.Source) (backup.RunResult, error) {
	f.mu.Lock()
	f.backups = append(f.backups, dbs)
	f.sources = append(f.sources, source)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.runResult, nil
}

func (f *fakeRunner) Prune(days int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes = append(f.prunes, days)
	return nil, f.pruneErr
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *fakeRunner) {
	t.Helper()
	store := newTestStore(t, t.TempDir())
	if cfg != nil {
		_, err := store.Set(*cfg)
		require.NoError(t, err)
	}
	runner := &fakeRunner{}
	return NewEngine(store, runner, logging.NewNopLogger()), runner
}

func TestEngineRunsOnMatch(t *testing.T) {
	e, runner := newTestEngine(t, &Config{Enabled: true, Cron: "0 3 * * *", Databases: []string{"acore_world"}, RetentionDays: 14})

	assert.False(t, e.RunAt(t.Context(), at("2024-06-01T02:59:00Z")))
	assert.True(t, e.RunAt(t.Context(), at("2024-06-01T03:00:00Z")))

	assert.Equal(t, [][]string{{"acore_world"}}, runner.backups)
	assert.Equal(t, []backup.Source{backup.SourceScheduled}, runner.sources)
	assert.Equal(t, []int{14}, runner.prunes)
}

func TestEngineDisabledDoesNothing(t *testing.T) {
	e, runner := newTestEngine(t, nil)
	assert.False(t, e.RunAt(t.Context(), at("2024-06-01T03:00:00Z")))
	assert.Empty(t, runner.backups)
	assert.True(t, e.Next().IsZero())
}

func TestEngineSkipsOverlappingTick(t *testing.T) {
	e, runner := newTestEngine(t, &Config{Enabled: true, Cron: "* * * * *", Databases: []string{"acore_auth"}, RetentionDays: 1})
	runner.block = make(chan struct{})
	runner.started = make(chan struct{})

	done := make(chan bool)
	go func() { done <- e.RunAt(context.Background(), at("2024-06-01T03:00:00Z")) }()
	<-runner.started

	assert.False(t, e.RunAt(t.Context(), at("2024-06-01T03:01:00Z")))
	close(runner.block)
	assert.True(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.backups, 1)
}

func TestEngineNext(t *testing.T) {
	e, _ := newTestEngine(t, &Config{Enabled: true, Cron: "0 3 * * *", Databases: []string{"acore_auth"}, RetentionDays: 1})
	e.now = func() time.Time { return at("2024-06-01T04:00:00Z") }
	assert.Equal(t, at("2024-06-02T03:00:00Z"), e.Next())
}

func TestEngineStartStop(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Start())
	assert.Error(t, e.Start())

	select {
	case <-e.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}
