package backup

import "time"

// Source records what triggered a backup run
type Source string

const (
	SourceManual     Source = "manual"
	SourceScheduled  Source = "scheduled"
	SourcePreRestore Source = "pre-restore"
)

// Set labels shown to operators
const (
	LabelManual     = "Manual backup"
	LabelPreRestore = "Pre-restore backup"
)

// FileRecord is the decoded form of a dump filename
type FileRecord struct {
	Database     string `json:"database"`
	Timestamp    string `json:"timestamp"`
	IsPreRestore bool   `json:"isPreRestore"`
}

// BackupFile is a dump file present in the backup directory
type BackupFile struct {
	Filename     string    `json:"filename" yaml:"filename"`
	Database     string    `json:"database" yaml:"database"`
	Timestamp    string    `json:"timestamp" yaml:"timestamp"`
	IsPreRestore bool      `json:"isPreRestore" yaml:"is_pre_restore"`
	SizeBytes    int64     `json:"sizeBytes" yaml:"size_bytes"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at"`
}

// BackupSet groups the dumps that share a timestamp and pre-restore flag
type BackupSet struct {
	ID           string       `json:"id" yaml:"id"`
	Timestamp    string       `json:"timestamp" yaml:"timestamp"`
	CreatedAt    time.Time    `json:"createdAt" yaml:"created_at"`
	Label        string       `json:"label" yaml:"label"`
	IsPreRestore bool         `json:"isPreRestore" yaml:"is_pre_restore"`
	Databases    []string     `json:"databases" yaml:"databases"`
	Files        []BackupFile `json:"files" yaml:"files"`
	TotalSize    int64        `json:"totalSize" yaml:"total_size"`
}

// DumpStats describes one finished dump
type DumpStats struct {
	Tables    int           `json:"tables"`
	Rows      int64         `json:"rows"`
	SizeBytes int64         `json:"sizeBytes"`
	Duration  time.Duration `json:"duration"`
}

// DumpResult is the per-database outcome of a backup run
type DumpResult struct {
	Database  string `json:"database" yaml:"database"`
	Filename  string `json:"filename,omitempty" yaml:"filename,omitempty"`
	SizeBytes int64  `json:"sizeBytes" yaml:"size_bytes"`
	Tables    int    `json:"tables" yaml:"tables"`
	Success   bool   `json:"success" yaml:"success"`
	Skipped   bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunResult is the outcome of TriggerBackup
type RunResult struct {
	SetID     string       `json:"setId" yaml:"set_id"`
	Source    Source       `json:"source" yaml:"source"`
	Results   []DumpResult `json:"results" yaml:"results"`
	StartedAt time.Time    `json:"startedAt" yaml:"started_at"`
}

// Succeeded reports whether every attempted database was dumped
func (r *RunResult) Succeeded() bool {
	for _, res := range r.Results {
		if !res.Success && !res.Skipped {
			return false
		}
	}
	return true
}

// Failed returns the databases whose dump failed
func (r *RunResult) Failed() []string {
	var failed []string
	for _, res := range r.Results {
		if !res.Success && !res.Skipped {
			failed = append(failed, res.Database)
		}
	}
	return failed
}

// RestoreStats describes one database restore
type RestoreStats struct {
	StatementsExecuted int           `json:"statementsExecuted"`
	TablesRestored     int           `json:"tablesRestored"`
	Duration           time.Duration `json:"duration"`
}

// FileReport is the validation report for one dump file
type FileReport struct {
	Filename       string     `json:"filename" yaml:"filename"`
	Database       string     `json:"database" yaml:"database"`
	Valid          bool       `json:"valid" yaml:"valid"`
	StatementCount int        `json:"statementCount" yaml:"statement_count"`
	TableCount     int        `json:"tableCount" yaml:"table_count"`
	Tables         []string   `json:"tables" yaml:"tables"`
	GeneratedAt    *time.Time `json:"generatedAt,omitempty" yaml:"generated_at,omitempty"`
	Errors         []string   `json:"errors,omitempty" yaml:"errors,omitempty"`
	Disallowed     []string   `json:"disallowed,omitempty" yaml:"disallowed,omitempty"`
	SizeBytes      int64      `json:"sizeBytes" yaml:"size_bytes"`
}

// SetReport aggregates the reports of every file in a set
type SetReport struct {
	SetID string       `json:"setId" yaml:"set_id"`
	Valid bool         `json:"valid" yaml:"valid"`
	Files []FileReport `json:"files" yaml:"files"`
}
