package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	appErrors "acore-backup/internal/errors"
	"acore-backup/internal/sqlstream"
)

const (
	maxReportedErrors = 20
	headerPeekBytes   = 4096
)

// Inspector checks dump files without executing anything
type Inspector struct {
	dir     string
	catalog *Catalog
}

// NewInspector creates an inspector over a backup directory
func NewInspector(dir string, catalog *Catalog) *Inspector {
	return &Inspector{dir: dir, catalog: catalog}
}

// InspectFile validates one dump file. Filename and existence problems are
// returned as errors; content problems are reported with Valid=false.
func (in *Inspector) InspectFile(ctx context.Context, filename string) (FileReport, error) {
	rec, ok := in.catalog.Decode(filename)
	if !ok {
		return FileReport{}, appErrors.NewInputError(fmt.Sprintf("invalid backup filename %q", filename))
	}

	path := filepath.Join(in.dir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileReport{}, appErrors.NewNotFoundError("backup file", filename)
		}
		return FileReport{}, appErrors.WrapError(err, "failed to stat backup file")
	}

	report := FileReport{
		Filename:  filename,
		Database:  rec.Database,
		SizeBytes: info.Size(),
		Tables:    []string{},
	}

	reader, err := openCompressedFile(path)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("Failed to decompress: %v", err))
		return report, nil
	}
	defer reader.Close()

	if err := in.scan(ctx, reader, &report); err != nil {
		if appErrors.IsType(err, appErrors.ErrorTypeCancelled) {
			return report, err
		}
		report.Errors = append(report.Errors, err.Error())
	}

	if report.StatementCount == 0 && len(report.Errors) == 0 {
		report.Errors = append(report.Errors, "Dump file contains no SQL statements")
	}
	report.TableCount = len(report.Tables)
	report.Valid = len(report.Errors) == 0
	return report, nil
}

func (in *Inspector) scan(ctx context.Context, r io.Reader, report *FileReport) error {
	br := bufio.NewReaderSize(r, readChunkSize)

	head, err := br.Peek(headerPeekBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("Failed to decompress: %w", err)
	}
	report.GeneratedAt = parseGeneratedAt(head)

	seen := make(map[string]bool)
	splitter := sqlstream.NewSplitter()
	check := func(statements []string) bool {
		for _, stmt := range statements {
			report.StatementCount++
			verb := sqlstream.Verb(stmt)
			switch verb {
			case "":
				report.Errors = append(report.Errors,
					fmt.Sprintf("Statement #%d: disallowed: %s", report.StatementCount, firstLine(stmt, 100)))
				report.Disallowed = append(report.Disallowed, stmt)
				if len(report.Errors) >= maxReportedErrors {
					return false
				}
			case sqlstream.VerbCreateTable:
				if name := sqlstream.TableName(stmt); name != "" && !seen[name] {
					seen[name] = true
					report.Tables = append(report.Tables, name)
				}
			}
		}
		return true
	}

	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return appErrors.NewCancelledError("validation interrupted", err)
		}
		n, readErr := br.Read(buf)
		if n > 0 && !check(splitter.Feed(buf[:n])) {
			return nil
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("Failed to decompress: %w", readErr)
		}
	}
	check(splitter.Flush())
	slices.Sort(report.Tables)
	return nil
}

func parseGeneratedAt(head []byte) *time.Time {
	for _, line := range strings.Split(string(head), "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), strings.TrimSpace(GeneratedPrefix))
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		for _, layout := range []string{isoLayout, time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, value); err == nil {
				return &t
			}
		}
		return nil
	}
	return nil
}

func firstLine(stmt string, max int) string {
	line := strings.TrimSpace(sqlstream.StripLeadingComments(stmt))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > max {
		line = line[:max]
	}
	return line
}
