package backup

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"acore-backup/internal/errors"
)

const (
	dumpSuffix       = ".sql.gz"
	preRestoreInfix  = "pre-restore_"
	isoLayout        = "2006-01-02T15:04:05.000Z"
	preRestoreSetTag = "pre-restore_"
)

// DefaultDatabases are the AzerothCore schemas the tool may touch
var DefaultDatabases = []string{"acore_auth", "acore_characters", "acore_playerbots", "acore_world"}

// CoreDatabases are the schemas backed up by the default schedule
var CoreDatabases = []string{"acore_auth", "acore_characters", "acore_world"}

// Catalog is the closed set of logical databases. Names outside it are
// rejected everywhere a name enters the system.
type Catalog struct {
	names []string
}

// NewCatalog creates a catalog; an empty list selects DefaultDatabases
func NewCatalog(names []string) *Catalog {
	if len(names) == 0 {
		names = DefaultDatabases
	}
	c := &Catalog{names: slices.Clone(names)}
	// Longest first so a name that prefixes another never wins a decode.
	slices.SortFunc(c.names, func(a, b string) int { return len(b) - len(a) })
	return c
}

// Contains reports whether name is a known database
func (c *Catalog) Contains(name string) bool {
	return slices.Contains(c.names, name)
}

// Names returns the known databases in sorted order
func (c *Catalog) Names() []string {
	out := slices.Clone(c.names)
	slices.Sort(out)
	return out
}

// Validate checks a caller-supplied database list
func (c *Catalog) Validate(databases []string) error {
	if len(databases) == 0 {
		return errors.NewInputError("at least one database is required")
	}
	seen := make(map[string]bool, len(databases))
	for _, db := range databases {
		if !c.Contains(db) {
			return errors.NewInputError(fmt.Sprintf("unknown database %q", db)).
				WithContext("allowed", c.Names())
		}
		if seen[db] {
			return errors.NewInputError(fmt.Sprintf("database %q listed twice", db))
		}
		seen[db] = true
	}
	return nil
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp with millisecond
// precision and ':' and '.' replaced by '-'.
func FormatTimestamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format(isoLayout))
}

// ParseTimestamp parses the filename-safe ISO form. Only the canonical
// rendering is accepted.
func ParseTimestamp(ts string) (time.Time, error) {
	invalid := errors.NewInputError(fmt.Sprintf("invalid backup timestamp %q", ts))
	if len(ts) != len(isoLayout) || ts[13] != '-' || ts[16] != '-' || ts[19] != '-' {
		return time.Time{}, invalid
	}

	iso := []byte(ts)
	iso[13], iso[16], iso[19] = ':', ':', '.'
	t, err := time.Parse(isoLayout, string(iso))
	if err != nil || FormatTimestamp(t) != ts {
		return time.Time{}, invalid
	}
	return t, nil
}

// Encode builds the filename for a record
func (c *Catalog) Encode(rec FileRecord) (string, error) {
	if !c.Contains(rec.Database) {
		return "", errors.NewInputError(fmt.Sprintf("unknown database %q", rec.Database))
	}
	if _, err := ParseTimestamp(rec.Timestamp); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(rec.Database)
	b.WriteByte('_')
	if rec.IsPreRestore {
		b.WriteString(preRestoreInfix)
	}
	b.WriteString(rec.Timestamp)
	b.WriteString(dumpSuffix)
	return b.String(), nil
}

// Decode parses a dump filename. Anything that does not match the grammar
// exactly, including names carrying path components, is rejected.
func (c *Catalog) Decode(name string) (FileRecord, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return FileRecord{}, false
	}
	if !strings.HasSuffix(name, dumpSuffix) {
		return FileRecord{}, false
	}
	stem := strings.TrimSuffix(name, dumpSuffix)

	for _, db := range c.names {
		rest, ok := strings.CutPrefix(stem, db+"_")
		if !ok {
			continue
		}

		rec := FileRecord{Database: db}
		if ts, ok := strings.CutPrefix(rest, preRestoreInfix); ok {
			rec.IsPreRestore = true
			rest = ts
		}
		if _, err := ParseTimestamp(rest); err != nil {
			continue
		}
		rec.Timestamp = rest
		return rec, true
	}
	return FileRecord{}, false
}

// SetID returns the id of the set a record belongs to
func SetID(rec FileRecord) string {
	if rec.IsPreRestore {
		return preRestoreSetTag + rec.Timestamp
	}
	return rec.Timestamp
}

// ParseSetID splits a set id into its timestamp and pre-restore flag
func ParseSetID(id string) (timestamp string, preRestore bool, err error) {
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", false, errors.NewInputError(fmt.Sprintf("invalid set id %q", id))
	}
	if ts, ok := strings.CutPrefix(id, preRestoreSetTag); ok {
		id, preRestore = ts, true
	}
	if _, err := ParseTimestamp(id); err != nil {
		return "", false, err
	}
	return id, preRestore, nil
}
