// Package application wires configuration into the running services.
package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"acore-backup/internal/api"
	"acore-backup/internal/backup"
	"acore-backup/internal/config"
	"acore-backup/internal/container"
	"acore-backup/internal/database"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/monitor"
	"acore-backup/internal/notify"
	"acore-backup/internal/restore"
	"acore-backup/internal/schedule"
)

// Application holds every long-lived service
type Application struct {
	Backups    *backup.Service
	Containers *container.Client
	Watchdog   *monitor.Watchdog
	Restores   *restore.Orchestrator
	Schedules  *schedule.Store
	Engine     *schedule.Engine
	Notifier   notify.Notifier

	config *config.Config
	logger *logging.Logger
}

// New builds the service graph. Nothing connects to MySQL or Docker until
// an operation needs it.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if err := os.MkdirAll(cfg.Backup.Dir, 0o750); err != nil {
		return nil, errors.NewTransientIOError(fmt.Sprintf("failed to create backup directory %s", cfg.Backup.Dir), err)
	}

	notifier := notify.New(cfg.Notifications, logger)
	catalog := backup.NewCatalog(cfg.Backup.Databases)
	connector := database.NewService(cfg.Database, logger)

	dumper := backup.NewDumper(connector, cfg.Backup.DumperOptions(), logger)
	restorer := backup.NewRestorer(connector, cfg.Backup.RestoreTimeout, logger)

	backups := backup.NewService(cfg.Backup.Dir, catalog, dumper, backup.NewLockManager(), logger).
		WithNotifier(notifier)

	mirror, err := backup.NewMirror(ctx, cfg.Mirror)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		backups.WithMirror(mirror)
		logger.WithField("mirror", mirror.Name()).Info("Offsite mirror enabled")
	}

	docker, err := container.NewClient(cfg.Containers.ClientConfig(), logger)
	if err != nil {
		return nil, err
	}
	watchdog := monitor.NewWatchdog(docker, cfg.Monitor, notifier, logger)

	restores := restore.NewOrchestrator(cfg.RestoreConfig(), restore.Dependencies{
		Sets:        backups.Sets(),
		Snapshots:   backups,
		Restorer:    restorer,
		Locks:       backups.Locks(),
		Lifecycle:   docker,
		AutoRestart: watchdog,
		Notifier:    notifier,
	}, logger)

	schedules := schedule.NewStore(cfg.Backup.Dir, catalog, logger)

	return &Application{
		Backups:    backups,
		Containers: docker,
		Watchdog:   watchdog,
		Restores:   restores,
		Schedules:  schedules,
		Engine:     schedule.NewEngine(schedules, backups, logger),
		Notifier:   notifier,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Config returns the configuration the application was built from
func (app *Application) Config() *config.Config {
	return app.config
}

// Router returns the admin API handler
func (app *Application) Router() http.Handler {
	return api.NewRouter(api.Dependencies{
		Backups:    app.Backups,
		Sets:       app.Backups.Sets(),
		Restores:   app.Restores,
		Schedules:  app.Schedules,
		NextRun:    app.Engine.Next,
		Containers: app.Watchdog,
	}, app.logger).Handler()
}

// ListenAndServe serves on the configured address until ctx is done or a
// termination signal arrives
func (app *Application) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.config.Server.Listen)
	if err != nil {
		return errors.NewInputError(fmt.Sprintf("cannot listen on %s: %v", app.config.Server.Listen, err))
	}
	return app.Serve(ctx, ln)
}

// Serve runs the schedule engine, the watchdog and the admin API on ln.
// Shutdown stops accepting requests first, then waits for running restores
// to bring the servers back, then stops the watchdog and the engine.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	shutdown := errors.NewShutdownHandler()

	if err := app.Engine.Start(); err != nil {
		ln.Close()
		return err
	}
	shutdown.RegisterShutdownFunc(func() error {
		<-app.Engine.Stop().Done()
		return nil
	})

	if app.config.Monitor.Enabled {
		watchCtx, stopWatch := context.WithCancel(context.Background())
		watchDone := make(chan struct{})
		go func() {
			defer close(watchDone)
			app.Watchdog.Run(watchCtx)
		}()
		shutdown.RegisterShutdownFunc(func() error {
			stopWatch()
			<-watchDone
			return nil
		})
	}

	shutdown.RegisterShutdownFunc(func() error {
		app.logger.Info("Waiting for running restores to finish")
		app.Restores.Wait()
		return nil
	})

	srv := &http.Server{
		Handler:           app.Router(),
		ReadHeaderTimeout: app.config.Server.ReadTimeout,
	}
	shutdown.RegisterShutdownFunc(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	shutdown.Start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	app.logger.WithField("addr", ln.Addr().String()).Info("Admin API listening")

	var err error
	select {
	case <-ctx.Done():
		app.logger.Info("Shutdown requested")
	case <-shutdown.Done():
	case err = <-serveErr:
	}

	shutdownErr := shutdown.Shutdown()
	app.Close()

	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return shutdownErr
}

// Close waits for pending notifications and drops idle docker connections
func (app *Application) Close() {
	notify.Flush(app.Notifier)
	if err := app.Containers.Close(); err != nil {
		app.logger.WithField("error", err.Error()).Warn("Failed to close docker client")
	}
}
