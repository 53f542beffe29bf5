// Package monitor watches the game server containers and restarts them
// when they crash.
package monitor

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"acore-backup/internal/container"
	"acore-backup/internal/logging"
	"acore-backup/internal/metrics"
	"acore-backup/internal/notify"
)

// Lifecycle is the container control surface the watchdog needs
type Lifecycle interface {
	State(ctx context.Context, name string) (container.State, error)
	Restart(ctx context.Context, name string, timeout time.Duration) error
}

// LogSource is implemented by lifecycles that can return container output
type LogSource interface {
	Logs(ctx context.Context, name string, tail int) (string, error)
}

const logTailLines = 30

var crashPatterns = regexp.MustCompile(`(?i)>> ABORTED|segmentation fault|SEGFAULT|SIGABRT|signal 6|signal 11|core dumped`)

// Config holds watchdog tuning
type Config struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	AutoRestart        bool          `mapstructure:"auto_restart" yaml:"auto_restart"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RestartCooldown    time.Duration `mapstructure:"restart_cooldown" yaml:"restart_cooldown"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval      time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	StopTimeout        time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	CrashLoopThreshold int           `mapstructure:"crash_loop_threshold" yaml:"crash_loop_threshold"`
	CrashLoopWindow    time.Duration `mapstructure:"crash_loop_window" yaml:"crash_loop_window"`
	WorldServer        string        `mapstructure:"worldserver" yaml:"worldserver"`
	AuthServer         string        `mapstructure:"authserver" yaml:"authserver"`
}

// DefaultConfig returns the watchdog defaults
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		AutoRestart:        true,
		PollInterval:       5 * time.Second,
		RestartCooldown:    10 * time.Second,
		MaxRetries:         3,
		RetryInterval:      15 * time.Second,
		SettleDelay:        3 * time.Second,
		StopTimeout:        120 * time.Second,
		CrashLoopThreshold: 3,
		CrashLoopWindow:    5 * time.Minute,
		WorldServer:        container.WorldServer,
		AuthServer:         container.AuthServer,
	}
}

type tracker struct {
	status     string
	crashLoop  bool
	restarting bool
	crashedAt  time.Time
	crashes    []time.Time
	restarts   []time.Time
}

// ContainerStatus is the watchdog's view of one container
type ContainerStatus struct {
	Name       string `json:"name" yaml:"name"`
	State      string `json:"state" yaml:"state"`
	CrashLoop  bool   `json:"crashLoop" yaml:"crash_loop"`
	Restarting bool   `json:"restarting" yaml:"restarting"`
}

// Watchdog polls container state, reports crashes and restarts crashed
// containers. While suppressed, state changes are tracked but never
// treated as crashes.
type Watchdog struct {
	lifecycle Lifecycle
	notifier  notify.Notifier
	logger    *logging.Logger
	config    Config
	now       func() time.Time

	mu         sync.Mutex
	suppressed int
	trackers   map[string]*tracker
	restarts   sync.WaitGroup
}

// NewWatchdog creates a watchdog for the configured world and auth servers
func NewWatchdog(lifecycle Lifecycle, config Config, notifier notify.Notifier, logger *logging.Logger) *Watchdog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if config.WorldServer == "" {
		config.WorldServer = container.WorldServer
	}
	if config.AuthServer == "" {
		config.AuthServer = container.AuthServer
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.CrashLoopThreshold <= 0 {
		config.CrashLoopThreshold = 3
	}

	return &Watchdog{
		lifecycle: lifecycle,
		notifier:  notifier,
		logger:    logger,
		config:    config,
		now:       time.Now,
		trackers: map[string]*tracker{
			config.AuthServer:  {status: container.StatusUnknown},
			config.WorldServer: {status: container.StatusUnknown},
		},
	}
}

// Suppress pauses crash handling. Calls nest; each must be paired with
// Resume.
func (w *Watchdog) Suppress() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppressed++
	w.logger.WithField("depth", w.suppressed).Info("Auto-restart suppressed")
}

// Resume undoes one Suppress
func (w *Watchdog) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.suppressed == 0 {
		w.logger.Warn("Resume called without matching Suppress")
		return
	}
	w.suppressed--
	w.logger.WithField("depth", w.suppressed).Info("Auto-restart resumed")
}

// Suppressed reports whether crash handling is paused
func (w *Watchdog) Suppressed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suppressed > 0
}

// ClearCrashLoop re-enables auto-restart for a container
func (w *Watchdog) ClearCrashLoop(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.trackers[name]
	if !ok {
		return
	}
	if t.crashLoop {
		w.logger.WithField("container", name).Info("Crash loop cleared")
	}
	t.crashLoop = false
	t.crashes = nil
	t.restarts = nil
}

// Status returns the last observed state of every watched container
func (w *Watchdog) Status() []ContainerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ContainerStatus, 0, len(w.trackers))
	for _, name := range []string{w.config.WorldServer, w.config.AuthServer} {
		t := w.trackers[name]
		out = append(out, ContainerStatus{Name: name, State: t.status, CrashLoop: t.crashLoop, Restarting: t.restarting})
	}
	return out
}

// Run polls until ctx is cancelled, then waits for restarts in flight
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.config.PollInterval.String()).Info("Container watchdog started")
	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Wait()
			w.logger.Info("Container watchdog stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Wait blocks until every auto-restart in flight has finished
func (w *Watchdog) Wait() {
	w.restarts.Wait()
}

// Poll performs one observation pass. The auth server is observed first
// so that the world server dependency check sees its fresh state.
func (w *Watchdog) Poll(ctx context.Context) {
	for _, name := range []string{w.config.AuthServer, w.config.WorldServer} {
		state, err := w.lifecycle.State(ctx, name)
		if err != nil {
			w.logger.WithFields(map[string]interface{}{"container": name, "error": err.Error()}).Debug("Container state unavailable")
			state.Status = container.StatusUnknown
		}
		w.observe(ctx, name, state.Status)
	}
}

func isDown(status string) bool {
	return status == container.StatusExited || status == container.StatusDead
}

func (w *Watchdog) observe(ctx context.Context, name, status string) {
	now := w.now()

	w.mu.Lock()
	t := w.trackers[name]
	prev := t.status
	if prev == container.StatusUnknown || prev == status {
		t.status = status
		w.mu.Unlock()
		return
	}
	t.status = status

	if isDown(prev) && status == container.StatusRunning {
		fields := map[string]interface{}{"container": name}
		if !t.crashedAt.IsZero() {
			fields["downtime"] = now.Sub(t.crashedAt).Round(time.Second).String()
		}
		t.crashedAt = time.Time{}
		w.mu.Unlock()
		w.logger.WithFields(fields).Info("Container recovered")
		return
	}

	if prev != container.StatusRunning || !isDown(status) {
		w.mu.Unlock()
		w.logger.WithFields(map[string]interface{}{"container": name, "from": prev, "to": status}).Info("Container state changed")
		return
	}

	if w.suppressed > 0 {
		w.mu.Unlock()
		w.logger.WithField("container", name).Info("Container stopped while auto-restart is suppressed")
		return
	}

	t.crashedAt = now
	t.crashes = append(t.crashes, now)
	startRestart := w.config.AutoRestart && !t.crashLoop && !t.restarting
	if startRestart {
		t.restarting = true
	}
	w.mu.Unlock()

	details := fmt.Sprintf("State changed from %s to %s", prev, status)
	if sig := w.crashSignature(ctx, name); sig != "" {
		details += fmt.Sprintf(" (log: %s)", sig)
	}
	w.logger.WithField("container", name).Warn("Container crashed")
	w.notifier.Notify(notify.Event{
		Type:     notify.EventCrash,
		Severity: notify.SeverityHigh,
		Title:    name + " crashed",
		Details:  details,
		Time:     now,
	})

	if startRestart {
		w.restarts.Add(1)
		go func() {
			defer w.restarts.Done()
			w.autoRestart(ctx, name)
		}()
	}
}

func (w *Watchdog) crashSignature(ctx context.Context, name string) string {
	src, ok := w.lifecycle.(LogSource)
	if !ok {
		return ""
	}
	logs, err := src.Logs(ctx, name, logTailLines)
	if err != nil {
		return ""
	}
	return crashPatterns.FindString(logs)
}

func (w *Watchdog) autoRestart(ctx context.Context, name string) {
	defer func() {
		w.mu.Lock()
		w.trackers[name].restarting = false
		w.mu.Unlock()
	}()
	logger := w.logger.WithField("container", name)

	if name == w.config.WorldServer {
		w.mu.Lock()
		auth := w.trackers[w.config.AuthServer].status
		w.mu.Unlock()
		if auth != container.StatusRunning && auth != container.StatusUnknown {
			logger.WithField("authserver", auth).Warn("Skipping auto-restart: authserver is not running")
			metrics.ContainerRestarts.WithLabelValues(name, metrics.ResultSkipped).Inc()
			return
		}
	}

	if !sleepCtx(ctx, w.config.RestartCooldown) {
		return
	}

	for attempt := 1; attempt <= w.config.MaxRetries; attempt++ {
		if w.Suppressed() {
			logger.Info("Auto-restart abandoned: suppressed")
			return
		}
		logger.WithField("attempt", attempt).Info("Auto-restart attempt")

		err := w.lifecycle.Restart(ctx, name, w.config.StopTimeout)
		if err == nil && sleepCtx(ctx, w.config.SettleDelay) {
			state, serr := w.lifecycle.State(ctx, name)
			if serr == nil && state.Running() {
				metrics.ContainerRestarts.WithLabelValues(name, metrics.ResultSuccess).Inc()
				logger.WithField("attempt", attempt).Info("Container recovered by auto-restart")
				w.recordRestart(name)
				return
			}
		} else if err != nil {
			logger.WithField("error", err.Error()).Error("Auto-restart attempt failed")
		}
		metrics.ContainerRestarts.WithLabelValues(name, metrics.ResultFailed).Inc()

		if ctx.Err() != nil {
			return
		}
		if attempt < w.config.MaxRetries && !sleepCtx(ctx, w.config.RetryInterval) {
			return
		}
	}

	logger.WithField("attempts", w.config.MaxRetries).Error("Auto-restart attempts exhausted")
	w.notifier.Notify(notify.Event{
		Type:     notify.EventRestartFailed,
		Severity: notify.SeverityCritical,
		Title:    name + " restart failed",
		Details:  fmt.Sprintf("All %d auto-restart attempts exhausted. Manual intervention required.", w.config.MaxRetries),
		Time:     w.now(),
	})
}

// recordRestart notes a successful restart and raises the crash loop
// alarm once crashes or restarts within the window reach the threshold.
func (w *Watchdog) recordRestart(name string) {
	now := w.now()
	since := now.Add(-w.config.CrashLoopWindow)

	w.mu.Lock()
	t := w.trackers[name]
	t.restarts = append(t.restarts, now)
	t.crashes = within(t.crashes, since)
	t.restarts = within(t.restarts, since)
	crashes, restarts := len(t.crashes), len(t.restarts)
	tripped := !t.crashLoop && (crashes >= w.config.CrashLoopThreshold || restarts >= w.config.CrashLoopThreshold)
	if tripped {
		t.crashLoop = true
	}
	w.mu.Unlock()

	if !tripped {
		return
	}
	w.logger.WithFields(map[string]interface{}{
		"container": name,
		"crashes":   crashes,
		"restarts":  restarts,
		"window":    w.config.CrashLoopWindow.String(),
	}).Error("Crash loop detected")
	w.notifier.Notify(notify.Event{
		Type:     notify.EventCrashLoop,
		Severity: notify.SeverityCritical,
		Title:    "CRASH LOOP: " + name,
		Details:  fmt.Sprintf("%d crashes in %s. Auto-restart suspended. Manual intervention required.", crashes, w.config.CrashLoopWindow),
		Time:     now,
	})
}

func within(times []time.Time, since time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if !t.Before(since) {
			kept = append(kept, t)
		}
	}
	return kept
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
