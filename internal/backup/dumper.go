package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"acore-backup/internal/database"
	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
	"acore-backup/internal/sqlstream"
)

// DumpHeaderPrefix opens every dump file. Existing archives and external
// tooling match on it, so the wording is kept as is.
const DumpHeaderPrefix = "-- Pure Node.js dump of "

// GeneratedPrefix introduces the generation timestamp line
const GeneratedPrefix = "-- Generated: "

const partialSuffix = ".partial"

const sessionHeader = "/*!40101 SET @OLD_CHARACTER_SET_CLIENT=@@CHARACTER_SET_CLIENT */;\n" +
	"/*!40101 SET @OLD_CHARACTER_SET_RESULTS=@@CHARACTER_SET_RESULTS */;\n" +
	"/*!40101 SET @OLD_COLLATION_CONNECTION=@@COLLATION_CONNECTION */;\n" +
	"/*!40101 SET NAMES utf8mb4 */;\n" +
	"/*!40014 SET @OLD_UNIQUE_CHECKS=@@UNIQUE_CHECKS, UNIQUE_CHECKS=0 */;\n" +
	"/*!40014 SET @OLD_FOREIGN_KEY_CHECKS=@@FOREIGN_KEY_CHECKS, FOREIGN_KEY_CHECKS=0 */;\n" +
	"/*!40101 SET @OLD_SQL_MODE=@@SQL_MODE, SQL_MODE='NO_AUTO_VALUE_ON_ZERO' */;\n\n"

const sessionFooter = "\n/*!40101 SET SQL_MODE=@OLD_SQL_MODE */;\n" +
	"/*!40014 SET FOREIGN_KEY_CHECKS=@OLD_FOREIGN_KEY_CHECKS */;\n" +
	"/*!40014 SET UNIQUE_CHECKS=@OLD_UNIQUE_CHECKS */;\n" +
	"/*!40101 SET CHARACTER_SET_CLIENT=@OLD_CHARACTER_SET_CLIENT */;\n" +
	"/*!40101 SET CHARACTER_SET_RESULTS=@OLD_CHARACTER_SET_RESULTS */;\n" +
	"/*!40101 SET COLLATION_CONNECTION=@OLD_COLLATION_CONNECTION */;\n"

// DumperOptions tunes dump output
type DumperOptions struct {
	InsertBatchRows   int
	MaxStatementBytes int
	MinDumpBytes      int64
	Timeout           time.Duration
	CompressionLevel  int
}

// DefaultDumperOptions returns the production defaults
func DefaultDumperOptions() DumperOptions {
	return DumperOptions{
		InsertBatchRows:   500,
		MaxStatementBytes: 4 * 1024 * 1024,
		MinDumpBytes:      100,
		Timeout:           5 * time.Minute,
		CompressionLevel:  gzip.DefaultCompression,
	}
}

// Dumper writes a logical SQL dump of one database
type Dumper struct {
	connector database.Connector
	opts      DumperOptions
	logger    *logging.Logger
	now       func() time.Time
}

// NewDumper creates a dumper
func NewDumper(connector database.Connector, opts DumperOptions, logger *logging.Logger) *Dumper {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	def := DefaultDumperOptions()
	if opts.InsertBatchRows <= 0 {
		opts.InsertBatchRows = def.InsertBatchRows
	}
	if opts.MaxStatementBytes <= 0 {
		opts.MaxStatementBytes = def.MaxStatementBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = def.CompressionLevel
	}
	return &Dumper{connector: connector, opts: opts, logger: logger, now: time.Now}
}

// WithClock overrides the time source used for the Generated line
func (d *Dumper) WithClock(now func() time.Time) *Dumper {
	d.now = now
	return d
}

// PartialPath is where a dump is streamed before it is renamed into place.
// The leading dot and extra suffix keep it out of every set listing.
func PartialPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+partialSuffix)
}

// Dump writes database to path. The file only appears under path once it
// is complete and at least MinDumpBytes long; on any failure nothing is
// left behind.
func (d *Dumper) Dump(ctx context.Context, db, path string) (stats DumpStats, err error) {
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		d.logger.LogDump(db, path, stats.Tables, stats.SizeBytes, stats.Duration, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	if _, err := os.Lstat(path); err == nil {
		return stats, errors.NewConflictError(fmt.Sprintf("dump file %s already exists", path))
	}

	conn, err := d.connector.Connect(ctx, db)
	if err != nil {
		return stats, err
	}
	defer conn.Close()

	partial := PartialPath(path)
	out, err := createCompressedFile(partial, d.opts.CompressionLevel)
	if err != nil {
		return stats, err
	}
	finished := false
	defer func() {
		if !finished {
			out.Abort()
			os.Remove(partial)
		}
	}()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return stats, errors.WrapError(err, "failed to start consistent snapshot")
	}
	defer tx.Rollback()

	if _, err := out.WriteString(DumpHeaderPrefix + db + "\n" +
		GeneratedPrefix + d.now().UTC().Format(isoLayout) + "\n\n" + sessionHeader); err != nil {
		return stats, errors.WrapError(err, "failed to write dump header")
	}

	tables, err := d.listTables(ctx, tx)
	if err != nil {
		return stats, err
	}

	for _, table := range tables {
		rows, err := d.dumpTable(ctx, tx, table, out)
		if err != nil {
			return stats, errors.WrapError(err, fmt.Sprintf("failed to dump table %s", table))
		}
		stats.Tables++
		stats.Rows += rows
	}

	if _, err := out.WriteString(sessionFooter); err != nil {
		return stats, errors.WrapError(err, "failed to write dump footer")
	}
	if err := tx.Commit(); err != nil {
		return stats, errors.WrapError(err, "failed to close snapshot")
	}

	finished = true
	size, err := out.Close()
	if err != nil {
		os.Remove(partial)
		return stats, err
	}
	stats.SizeBytes = size

	if size < d.opts.MinDumpBytes {
		os.Remove(partial)
		return stats, errors.NewValidationError(
			fmt.Sprintf("dump of %s is only %d bytes, expected at least %d", db, size, d.opts.MinDumpBytes), nil)
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return stats, errors.WrapError(err, fmt.Sprintf("failed to move dump into place at %s", path))
	}
	return stats, nil
}

// listTables returns base tables only; views have no rows to dump.
func (d *Dumper) listTables(ctx context.Context, tx *sql.Tx) ([]string, error) {
	query := "SHOW FULL TABLES"
	start := time.Now()
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		d.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, errors.WrapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, errors.WrapError(err, "failed to read table list")
		}
		if strings.EqualFold(kind, "BASE TABLE") {
			tables = append(tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to read table list")
	}
	d.logger.LogSQLExecution(query, time.Since(start), int64(len(tables)), nil)
	return tables, nil
}

func (d *Dumper) dumpTable(ctx context.Context, tx *sql.Tx, table string, out *compressedFile) (int64, error) {
	quoted := sqlstream.QuoteIdentifier(table)

	var name, ddl string
	if err := tx.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoted).Scan(&name, &ddl); err != nil {
		return 0, err
	}

	var header strings.Builder
	header.WriteString("--\n-- Table structure for table " + quoted + "\n--\n\n")
	header.WriteString("DROP TABLE IF EXISTS " + quoted + ";\n")
	header.WriteString(ddl + ";\n\n")
	header.WriteString("LOCK TABLES " + quoted + " WRITE;\n")
	if _, err := out.WriteString(header.String()); err != nil {
		return 0, err
	}

	rows, err := tx.QueryContext(ctx, "SELECT * FROM "+quoted)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return 0, err
	}
	typeNames := make([]string, len(columnTypes))
	columns := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		typeNames[i] = ct.DatabaseTypeName()
		columns[i] = ct.Name()
	}

	raw := make([]any, len(columnTypes))
	ptrs := make([]any, len(columnTypes))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	builder := sqlstream.NewInsertBuilder(table, columns, d.opts.InsertBatchRows, d.opts.MaxStatementBytes)
	values := make([]sqlstream.Value, len(columnTypes))
	var count int64

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, err
		}
		for i := range raw {
			values[i] = sqlstream.FromDriver(raw[i], typeNames[i])
		}
		if stmt, ok := builder.Add(values); ok {
			if _, err := out.WriteString(stmt); err != nil {
				return count, err
			}
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	tail := ""
	if stmt, ok := builder.Flush(); ok {
		tail = stmt
	}
	if count == 0 {
		tail += "-- No data for table " + quoted + "\n"
	}
	tail += "UNLOCK TABLES;\n\n"

	_, err = out.WriteString(tail)
	return count, err
}
