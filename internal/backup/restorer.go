package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"acore-backup/internal/database"
	appErrors "acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/sqlstream"
)

const readChunkSize = 64 * 1024

// Restorer replays a dump file into its database
type Restorer struct {
	connector database.Connector
	timeout   time.Duration
	logger    *logging.Logger
}

// NewRestorer creates a restorer; timeout <= 0 selects ten minutes
func NewRestorer(connector database.Connector, timeout time.Duration, logger *logging.Logger) *Restorer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Restorer{connector: connector, timeout: timeout, logger: logger}
}

// Restore streams path through the splitter and executes every statement
// in order on a single session. Each statement is checked against the
// allowlist again right before it runs. The first failure stops the
// restore of this database.
func (r *Restorer) Restore(ctx context.Context, db, path string) (stats RestoreStats, err error) {
	done := r.logger.LogOperationStart("restore_database", map[string]interface{}{
		"database": db,
		"file":     path,
	})
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		done(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	in, err := openCompressedFile(path)
	if err != nil {
		return stats, err
	}
	defer in.Close()

	pool, err := r.connector.Connect(ctx, db)
	if err != nil {
		return stats, err
	}
	defer pool.Close()

	conn, err := pool.Conn(ctx)
	if err != nil {
		return stats, appErrors.WrapError(err, "failed to reserve session connection")
	}
	defer conn.Close()

	splitter := sqlstream.NewSplitter()
	index := 0
	exec := func(statements []string) error {
		for _, stmt := range statements {
			index++
			verb := sqlstream.Verb(stmt)
			if verb == "" {
				return appErrors.NewValidationError(
					fmt.Sprintf("statement #%d is not allowed: %s", index, firstLine(stmt, 100)), nil).
					WithContext("statement_index", index)
			}

			execStart := time.Now()
			res, err := conn.ExecContext(ctx, stmt)
			var affected int64
			if res != nil {
				affected, _ = res.RowsAffected()
			}
			r.logger.LogSQLExecution(stmt, time.Since(execStart), affected, err)
			if err != nil {
				return appErrors.WrapError(err, fmt.Sprintf("statement #%d failed", index)).(*appErrors.AppError).
					WithContext("statement_index", index)
			}

			stats.StatementsExecuted++
			if verb == sqlstream.VerbCreateTable {
				stats.TablesRestored++
			}
		}
		return nil
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if err := exec(splitter.Feed(buf[:n])); err != nil {
				return stats, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return stats, appErrors.NewValidationError("failed to decompress dump file", readErr)
		}
		if err := ctx.Err(); err != nil {
			return stats, appErrors.WrapError(err, "restore interrupted")
		}
	}

	if err := exec(splitter.Flush()); err != nil {
		return stats, err
	}
	return stats, nil
}
