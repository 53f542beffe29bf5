package schedule

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"acore-backup/internal/backup"
	"acore-backup/internal/logging"
)

// Runner performs the work a schedule match triggers
type Runner interface {
	TriggerBackup(ctx context.Context, databases []string, source backup.Source) (backup.RunResult, error)
	Prune(retentionDays int) ([]string, error)
}

// Engine checks the active schedule once a minute and runs a scheduled
// backup followed by retention pruning on a match. A tick that arrives
// while the previous run is still busy is skipped.
type Engine struct {
	store   *Store
	runner  Runner
	cron    *cron.Cron
	logger  *logging.Logger
	now     func() time.Time
	busy    atomic.Bool
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewEngine creates a schedule engine
func NewEngine(store *Store, runner Runner, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		runner: runner,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the minute tick
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return stderrors.New("schedule engine already running")
	}

	if _, err := e.cron.AddFunc("* * * * *", e.tick); err != nil {
		return err
	}
	e.cron.Start()
	e.started = true

	cfg := e.store.Get()
	e.logger.WithFields(map[string]interface{}{
		"enabled": cfg.Enabled,
		"cron":    cfg.Cron,
	}).Info("Schedule engine started")
	return nil
}

// Stop halts the tick and cancels a running backup. The returned context
// is done once in-flight jobs have returned.
func (e *Engine) Stop() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel()
	if !e.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	e.started = false
	e.logger.Info("Stopping schedule engine")
	return e.cron.Stop()
}

func (e *Engine) tick() {
	e.RunAt(e.ctx, e.now().UTC().Truncate(time.Minute))
}

// RunAt evaluates the schedule for the minute at and runs it on a match.
// It reports whether a run happened.
func (e *Engine) RunAt(ctx context.Context, at time.Time) bool {
	cfg := e.store.Get()
	if !cfg.Enabled {
		return false
	}
	expr, err := ParseCron(cfg.Cron)
	if err != nil {
		e.logger.WithField("cron", cfg.Cron).Warn("Active schedule has an invalid cron expression")
		return false
	}
	if !expr.Matches(at) {
		return false
	}

	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Warn("Previous scheduled backup still running, skipping tick")
		return false
	}
	defer e.busy.Store(false)

	done := e.logger.LogOperationStart("scheduled_backup", map[string]interface{}{
		"databases": cfg.Databases,
		"cron":      cfg.Cron,
	})

	run, err := e.runner.TriggerBackup(ctx, cfg.Databases, backup.SourceScheduled)
	if err == nil && !run.Succeeded() {
		e.logger.WithField("failed", run.Failed()).Warn("Scheduled backup incomplete")
	}

	pruned, pruneErr := e.runner.Prune(cfg.RetentionDays)
	if pruneErr != nil {
		e.logger.WithField("error", pruneErr.Error()).Warn("Retention pruning failed")
	} else if len(pruned) > 0 {
		e.logger.WithField("pruned", pruned).Info("Old backup sets removed")
	}

	done(err)
	return true
}

// Next returns the next time the active schedule fires, or the zero time
// when it is disabled
func (e *Engine) Next() time.Time {
	cfg := e.store.Get()
	if !cfg.Enabled {
		return time.Time{}
	}
	expr, err := ParseCron(cfg.Cron)
	if err != nil {
		return time.Time{}
	}
	return expr.Next(e.now())
}
