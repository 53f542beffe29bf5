package restore

import (
	"slices"
	"sync"
	"time"
)

// Status of a restore operation
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus of a single workflow step
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepInProgress:
		return 1
	default:
		return 2
	}
}

// Terminal reports whether the step has finished
func (s StepStatus) Terminal() bool {
	return s.rank() == 2
}

// Step is one tracked stage of the workflow
type Step struct {
	ID     string     `json:"id" yaml:"id"`
	Label  string     `json:"label" yaml:"label"`
	Status StepStatus `json:"status" yaml:"status"`
	Error  string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// DatabaseError attributes a failure to a database, or to "setup" for
// failures outside any single database.
type DatabaseError struct {
	Database string `json:"database" yaml:"database"`
	Error    string `json:"error" yaml:"error"`
}

// Result summarizes a finished restore
type Result struct {
	Success                 bool            `json:"success" yaml:"success"`
	SetID                   string          `json:"setId" yaml:"set_id"`
	Databases               []string        `json:"databases" yaml:"databases"`
	FilesRestored           int             `json:"filesRestored" yaml:"files_restored"`
	TotalTablesRestored     int             `json:"totalTablesRestored" yaml:"total_tables_restored"`
	TotalStatementsExecuted int             `json:"totalStatementsExecuted" yaml:"total_statements_executed"`
	PreRestoreSetID         string          `json:"preRestoreSetId,omitempty" yaml:"pre_restore_set_id,omitempty"`
	DurationMs              int64           `json:"durationMs" yaml:"duration_ms"`
	Errors                  []DatabaseError `json:"errors" yaml:"errors"`
	Warnings                []string        `json:"warnings" yaml:"warnings"`
}

// Operation is a point-in-time snapshot of a restore workflow
type Operation struct {
	OperationID string     `json:"operationId" yaml:"operation_id"`
	SetID       string     `json:"setId" yaml:"set_id"`
	Status      Status     `json:"status" yaml:"status"`
	Steps       []Step     `json:"steps" yaml:"steps"`
	StartedAt   time.Time  `json:"startedAt" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
	Result      *Result    `json:"result,omitempty" yaml:"result,omitempty"`
}

// Terminal reports whether the operation has finished
func (o Operation) Terminal() bool {
	return o.Status != StatusRunning
}

// operation is the live, mutable record behind an Operation snapshot
type operation struct {
	mu         sync.Mutex
	id         string
	setID      string
	status     Status
	steps      []Step
	startedAt  time.Time
	finishedAt time.Time
	result     *Result
	cancelled  bool
}

func newOperation(id, setID string, steps []Step, now time.Time) *operation {
	return &operation{
		id:        id,
		setID:     setID,
		status:    StatusRunning,
		steps:     steps,
		startedAt: now,
	}
}

// setStep moves a step forward. Backward transitions and transitions out
// of a terminal state are ignored.
func (op *operation) setStep(id string, status StepStatus, errMsg string) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	for i := range op.steps {
		if op.steps[i].ID != id {
			continue
		}
		if status.rank() <= op.steps[i].Status.rank() {
			return false
		}
		op.steps[i].Status = status
		if errMsg != "" {
			op.steps[i].Error = errMsg
		}
		return true
	}
	return false
}

// skipPending marks every still-pending step whose id matches as skipped
func (op *operation) skipPending(match func(id string) bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	for i := range op.steps {
		if op.steps[i].Status == StepPending && match(op.steps[i].ID) {
			op.steps[i].Status = StepSkipped
		}
	}
}

func (op *operation) requestCancel() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status != StatusRunning {
		return false
	}
	op.cancelled = true
	return true
}

func (op *operation) isCancelled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.cancelled
}

func (op *operation) finish(status Status, result Result, now time.Time) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.status = status
	op.finishedAt = now
	op.result = &result
}

func (op *operation) expired(now time.Time, ttl time.Duration) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.status != StatusRunning && now.Sub(op.finishedAt) >= ttl
}

func (op *operation) snapshot() Operation {
	op.mu.Lock()
	defer op.mu.Unlock()
	snap := Operation{
		OperationID: op.id,
		SetID:       op.setID,
		Status:      op.status,
		Steps:       slices.Clone(op.steps),
		StartedAt:   op.startedAt,
	}
	if !op.finishedAt.IsZero() {
		finished := op.finishedAt
		snap.FinishedAt = &finished
	}
	if op.result != nil {
		res := *op.result
		res.Databases = slices.Clone(res.Databases)
		res.Errors = slices.Clone(res.Errors)
		res.Warnings = slices.Clone(res.Warnings)
		snap.Result = &res
	}
	return snap
}
