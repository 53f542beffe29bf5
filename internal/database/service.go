package database

import (
	"context"
	"database/sql"
	"time"

	"acore-backup/internal/errors"
	"acore-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Connector opens a connection pool scoped to one logical database
type Connector interface {
	Connect(ctx context.Context, database string) (*sql.DB, error)
}

// OpenFunc opens a *sql.DB for a DSN. Tests substitute sqlmock here.
type OpenFunc func(dsn string) (*sql.DB, error)

// Service implements Connector against a single MySQL server. Connection
// failures are classified and returned; they are never retried here.
type Service struct {
	config DatabaseConfig
	open   OpenFunc
	logger *logging.Logger
}

// NewService creates a database service for the given server
func NewService(config DatabaseConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	config.SetDefaults()
	return &Service{
		config: config,
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
		logger: logger,
	}
}

// WithOpenFunc replaces the driver open function
func (s *Service) WithOpenFunc(open OpenFunc) *Service {
	s.open = open
	return s
}

// Connect opens and pings a pool bound to the named database. Dumps and
// restores hold one connection for their whole run so the pool stays small.
func (s *Service) Connect(ctx context.Context, database string) (*sql.DB, error) {
	startTime := time.Now()

	db, err := s.open(s.config.DSN(database))
	if err != nil {
		err = errors.WrapError(err, "failed to open database connection")
		s.logger.LogDatabaseConnection(s.config.Host, database, false, time.Since(startTime), err)
		return nil, err
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		err = errors.WrapError(err, "failed to ping database")
		s.logger.LogDatabaseConnection(s.config.Host, database, false, time.Since(startTime), err)
		return nil, err
	}

	s.logger.LogDatabaseConnection(s.config.Host, database, true, time.Since(startTime), nil)
	return db, nil
}
