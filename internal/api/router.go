// Package api serves the backup admin HTTP API.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"acore-backup/internal/backup"
	"acore-backup/internal/logging"
	"acore-backup/internal/metrics"
	"acore-backup/internal/monitor"
	"acore-backup/internal/restore"
	"acore-backup/internal/schedule"
)

// Backups triggers runs and serves single files
type Backups interface {
	TriggerBackup(ctx context.Context, databases []string, source backup.Source) (backup.RunResult, error)
	DownloadPath(filename string) (string, error)
	DeleteFile(filename string) error
}

// Sets lists, inspects and deletes backup sets
type Sets interface {
	ListSets() ([]backup.BackupSet, error)
	GetSet(id string) (backup.BackupSet, error)
	DeleteSet(id string) (int, error)
	ValidateSet(ctx context.Context, id string) (backup.SetReport, error)
}

// Restores drives restore operations
type Restores interface {
	StartRestore(ctx context.Context, setID string) (string, error)
	GetProgress(id string) (restore.Operation, error)
	List() []restore.Operation
	Cancel(id string) error
}

// Schedules reads and writes the persisted schedule
type Schedules interface {
	Get() schedule.Config
	Set(cfg schedule.Config) (schedule.Config, error)
	Reset() (schedule.Config, error)
}

// Containers reports what the watchdog last saw
type Containers interface {
	Status() []monitor.ContainerStatus
}

// Dependencies are the services behind the routes. NextRun and Containers
// are optional.
type Dependencies struct {
	Backups    Backups
	Sets       Sets
	Restores   Restores
	Schedules  Schedules
	NextRun    func() time.Time
	Containers Containers
}

// Router holds handler dependencies
type Router struct {
	deps   Dependencies
	logger *logging.Logger
}

// NewRouter creates the API router
func NewRouter(deps Dependencies, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Router{deps: deps, logger: logger}
}

// Handler builds the chi route tree
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", rt.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/backups", func(r chi.Router) {
		r.Get("/", rt.listSets)
		r.Post("/", rt.triggerBackup)

		r.Route("/sets/{setID}", func(r chi.Router) {
			r.Get("/", rt.getSet)
			r.Delete("/", rt.deleteSet)
			r.Post("/validate", rt.validateSet)
			r.Post("/restore", rt.startRestore)
		})

		r.Get("/restore-operations", rt.listRestores)
		r.Get("/restore-operations/{operationID}", rt.getRestore)
		r.Post("/restore-operations/{operationID}/cancel", rt.cancelRestore)

		r.Get("/schedule", rt.getSchedule)
		r.Put("/schedule", rt.setSchedule)
		r.Delete("/schedule", rt.resetSchedule)

		r.Get("/files/{filename}", rt.downloadFile)
		r.Delete("/files/{filename}", rt.deleteFile)
	})

	r.Get("/api/containers", rt.containers)

	return r
}

// requestLogger logs each request and counts it by route pattern
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()

		entry := rt.logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   time.Since(start).String(),
			"request_id": chimiddleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("HTTP request failed")
		} else {
			entry.Debug("HTTP request")
		}
	})
}
