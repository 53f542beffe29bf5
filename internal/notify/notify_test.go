package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/logging"
)

type capture struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestWebhookNotifierDeliversEmbed(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(t))
	defer srv.Close()

	wn := NewWebhookNotifier(Config{WebhookURL: srv.URL}, logging.NewNopLogger())
	wn.Notify(Event{Type: EventRestoreFailed, Severity: SeverityHigh, Title: "Restore failed", Details: "acore_world"})
	wn.Wait()

	require.Equal(t, 1, c.count())
	embeds := c.bodies[0]["embeds"].([]interface{})
	embed := embeds[0].(map[string]interface{})
	assert.Equal(t, "Restore failed", embed["title"])
	assert.Equal(t, float64(0xef4444), embed["color"])
	assert.True(t, strings.HasSuffix(embed["footer"].(map[string]interface{})["text"].(string), EventRestoreFailed))
}

func TestWebhookNotifierFiltersEvents(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(t))
	defer srv.Close()

	wn := NewWebhookNotifier(Config{WebhookURL: srv.URL, Events: []string{EventBackupFailed}}, logging.NewNopLogger())
	wn.Notify(Event{Type: EventBackupSuccess, Severity: SeverityInfo, Title: "ok"})
	wn.Wait()

	assert.Equal(t, 0, c.count())
}

func TestWebhookNotifierRateLimitsPerType(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(t))
	defer srv.Close()

	base := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	wn := NewWebhookNotifier(Config{WebhookURL: srv.URL}, logging.NewNopLogger())

	wn.Notify(Event{Type: EventBackupFailed, Severity: SeverityHigh, Title: "1", Time: base})
	wn.Notify(Event{Type: EventBackupFailed, Severity: SeverityHigh, Title: "2", Time: base.Add(30 * time.Second)})
	wn.Notify(Event{Type: EventCrash, Severity: SeverityHigh, Title: "3", Time: base.Add(30 * time.Second)})
	wn.Notify(Event{Type: EventBackupFailed, Severity: SeverityHigh, Title: "4", Time: base.Add(61 * time.Second)})
	wn.Wait()

	assert.Equal(t, 3, c.count())
}

func TestWebhookNotifierWithoutURLIsSilent(t *testing.T) {
	wn := NewWebhookNotifier(Config{}, logging.NewNopLogger())
	wn.Notify(Event{Type: EventCrash})
	wn.Wait()
	assert.Error(t, wn.Send(t.Context(), Event{Type: EventCrash}))
}

func TestFileNotifierAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	fn := NewFileNotifier(path, logging.NewNopLogger())

	fn.Notify(Event{Type: EventBackupSuccess, Severity: SeverityInfo, Title: "a"})
	fn.Notify(Event{Type: EventBackupFailed, Severity: SeverityHigh, Title: "b"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, EventBackupFailed, ev.Type)
	assert.Equal(t, SeverityHigh, ev.Severity)
}

func TestNewSelectsNotifiers(t *testing.T) {
	assert.IsType(t, Nop{}, New(Config{}, nil))
	assert.IsType(t, &WebhookNotifier{}, New(Config{WebhookURL: "http://x"}, nil))
	assert.IsType(t, Multi{}, New(Config{WebhookURL: "http://x", File: "/tmp/x"}, nil))
}
