// Package notify delivers operator notifications about backups, restores
// and container crashes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"acore-backup/internal/logging"
)

// Severity of a notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event types emitted by this module
const (
	EventBackupSuccess    = "backup_success"
	EventBackupFailed     = "backup_failed"
	EventRestoreSuccess   = "restore_success"
	EventRestoreFailed    = "restore_failed"
	EventRestoreCancelled = "restore_cancelled"
	EventCrash            = "crash"
	EventRestartFailed    = "restart_failed"
	EventCrashLoop        = "crash_loop"
)

// DefaultEvents is the event filter used when none is configured
var DefaultEvents = []string{
	EventCrash, EventRestartFailed, EventCrashLoop,
	EventBackupSuccess, EventBackupFailed,
	EventRestoreSuccess, EventRestoreFailed, EventRestoreCancelled,
}

var severityColors = map[Severity]int{
	SeverityInfo:     0x3b82f6,
	SeverityWarning:  0xeab308,
	SeverityHigh:     0xef4444,
	SeverityCritical: 0x7f1d1d,
}

// Event is one notification
type Event struct {
	Type     string    `json:"type"`
	Severity Severity  `json:"severity"`
	Title    string    `json:"title"`
	Details  string    `json:"details,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier accepts events. Notify must not block on delivery.
type Notifier interface {
	Notify(event Event)
}

// Nop discards every event
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(Event) {}

// Config configures the webhook notifier
type Config struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Events     []string      `mapstructure:"events" yaml:"events"`
	RateLimit  time.Duration `mapstructure:"rate_limit" yaml:"rate_limit"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	File       string        `mapstructure:"file" yaml:"file"`
}

// WebhookNotifier posts Discord-style embeds. Events are filtered by type
// and each type is limited to one delivery per RateLimit window.
type WebhookNotifier struct {
	url     string
	events  map[string]bool
	every   time.Duration
	client  *http.Client
	logger  *logging.Logger
	now     func() time.Time
	mu      sync.Mutex
	limits  map[string]*rate.Limiter
	pending sync.WaitGroup
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(config Config, logger *logging.Logger) *WebhookNotifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	events := config.Events
	if len(events) == 0 {
		events = DefaultEvents
	}
	enabled := make(map[string]bool, len(events))
	for _, e := range events {
		enabled[strings.TrimSpace(e)] = true
	}
	every := config.RateLimit
	if every <= 0 {
		every = time.Minute
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		url:    config.WebhookURL,
		events: enabled,
		every:  every,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
		limits: make(map[string]*rate.Limiter),
	}
}

// Notify filters, rate-limits and delivers the event in the background
func (wn *WebhookNotifier) Notify(event Event) {
	if wn.url == "" || !wn.events[event.Type] {
		return
	}
	if event.Time.IsZero() {
		event.Time = wn.now()
	}
	if !wn.allow(event.Type, event.Time) {
		wn.logger.WithField("event", event.Type).Debug("Notification rate limited")
		return
	}

	wn.pending.Add(1)
	go func() {
		defer wn.pending.Done()
		if err := wn.Send(context.Background(), event); err != nil {
			wn.logger.WithFields(map[string]interface{}{
				"event": event.Type,
				"error": err.Error(),
			}).Warn("Webhook delivery failed")
		}
	}()
}

func (wn *WebhookNotifier) allow(eventType string, at time.Time) bool {
	wn.mu.Lock()
	defer wn.mu.Unlock()
	lim, ok := wn.limits[eventType]
	if !ok {
		lim = rate.NewLimiter(rate.Every(wn.every), 1)
		wn.limits[eventType] = lim
	}
	return lim.AllowN(at, 1)
}

// Send delivers an event synchronously, bypassing filter and rate limit
func (wn *WebhookNotifier) Send(ctx context.Context, event Event) error {
	if wn.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{{
			"title":       event.Title,
			"description": event.Details,
			"color":       severityColors[event.Severity],
			"timestamp":   event.Time.UTC().Format(time.RFC3339),
			"footer":      map[string]string{"text": "acore-backup • " + event.Type},
			"fields": []map[string]interface{}{{
				"name":   "Severity",
				"value":  strings.ToUpper(string(event.Severity)),
				"inline": true,
			}},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish
func (wn *WebhookNotifier) Wait() {
	wn.pending.Wait()
}

// FileNotifier appends events as JSON lines to a file
type FileNotifier struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewFileNotifier creates a file notifier
func NewFileNotifier(path string, logger *logging.Logger) *FileNotifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &FileNotifier{path: path, logger: logger}
}

// Notify implements Notifier
func (fn *FileNotifier) Notify(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	fn.mu.Lock()
	defer fn.mu.Unlock()

	file, err := os.OpenFile(fn.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		fn.logger.WithField("error", err.Error()).Warn("Failed to open notification file")
		return
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		fn.logger.WithField("error", err.Error()).Warn("Failed to write notification")
	}
}

// Multi fans an event out to several notifiers
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(event Event) {
	for _, n := range m {
		n.Notify(event)
	}
}

// Wait blocks until every member's in-flight deliveries finish
func (m Multi) Wait() {
	for _, n := range m {
		Flush(n)
	}
}

// Flush waits for n's background deliveries when it has any
func Flush(n Notifier) {
	if w, ok := n.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// New builds the notifier described by config
func New(config Config, logger *logging.Logger) Notifier {
	var out Multi
	if config.WebhookURL != "" {
		out = append(out, NewWebhookNotifier(config, logger))
	}
	if config.File != "" {
		out = append(out, NewFileNotifier(config.File, logger))
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	default:
		return out
	}
}
