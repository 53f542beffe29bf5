// Package metrics exposes Prometheus instrumentation for backup, restore
// and watchdog activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acore_backup_dumps_total",
			Help: "Total number of database dumps by result",
		},
		[]string{"database", "result"}, // success, failed, skipped
	)

	BackupBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acore_backup_dump_bytes_total",
			Help: "Compressed bytes written by database dumps",
		},
		[]string{"database"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acore_backup_dump_duration_seconds",
			Help:    "Duration of single database dumps",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"database"},
	)

	LastBackupTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acore_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last backup run with at least one successful dump",
		},
	)

	RestoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acore_restore_operations_total",
			Help: "Total number of restore workflows by terminal status",
		},
		[]string{"status"},
	)

	RestoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acore_restore_duration_seconds",
			Help:    "Duration of restore workflows",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	MirrorUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acore_backup_mirror_uploads_total",
			Help: "Offsite mirror uploads by result",
		},
		[]string{"result"},
	)

	PrunedSets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acore_backup_pruned_sets_total",
			Help: "Backup sets removed by retention",
		},
	)

	ContainerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acore_watchdog_restarts_total",
			Help: "Container restarts attempted by the watchdog",
		},
		[]string{"container", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acore_backup_http_requests_total",
			Help: "Admin API requests by route pattern, method and status code",
		},
		[]string{"route", "method", "status"},
	)
)

// Result labels
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// RecordDump records the outcome of a single database dump
func RecordDump(database, result string, size int64, duration time.Duration) {
	BackupsTotal.WithLabelValues(database, result).Inc()
	if result == ResultSuccess {
		BackupBytes.WithLabelValues(database).Add(float64(size))
		BackupDuration.WithLabelValues(database).Observe(duration.Seconds())
	}
}

// RecordRestore records a finished restore workflow
func RecordRestore(status string, duration time.Duration) {
	RestoreOperations.WithLabelValues(status).Inc()
	RestoreDuration.Observe(duration.Seconds())
}

// RecordMirrorUpload records one offsite upload
func RecordMirrorUpload(err error) {
	if err != nil {
		MirrorUploads.WithLabelValues(ResultFailed).Inc()
		return
	}
	MirrorUploads.WithLabelValues(ResultSuccess).Inc()
}
