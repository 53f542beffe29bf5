package backup

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/notify"
)

type stubConnector struct {
	db    *sql.DB
	err   error
	mu    sync.Mutex
	calls []string
}

func (c *stubConnector) Connect(_ context.Context, database string) (*sql.DB, error) {
	c.mu.Lock()
	c.calls = append(c.calls, database)
	c.mu.Unlock()
	return c.db, c.err
}

func writeGzipFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0640))
	return path
}

func readGzipFile(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func fixedTime() time.Time {
	return time.Date(2024, 6, 1, 3, 0, 0, 123000000, time.UTC)
}

const validDump = "-- Pure Node.js dump of acore_world\n" +
	"-- Generated: 2024-06-01T03:00:00.123Z\n\n" +
	"/*!40101 SET NAMES utf8mb4 */;\n" +
	"DROP TABLE IF EXISTS `creature`;\n" +
	"CREATE TABLE `creature` (`guid` int NOT NULL);\n" +
	"LOCK TABLES `creature` WRITE;\n" +
	"INSERT INTO `creature` VALUES\n(1),\n(2);\n" +
	"UNLOCK TABLES;\n" +
	"DROP TABLE IF EXISTS `item_template`;\n" +
	"CREATE TABLE `item_template` (`entry` int NOT NULL);\n"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}
