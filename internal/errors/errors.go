package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeInput represents a malformed request: unknown database, bad filename, bad cron
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeConflict represents a database that is already locked by another operation
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeNotFound represents a missing set, file or operation
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeValidation represents dump content that failed the safety checks
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTransientIO represents connection, socket and filesystem failures
	ErrorTypeTransientIO ErrorType = "transient_io"
	// ErrorTypePartialFailure represents a run where some databases failed
	ErrorTypePartialFailure ErrorType = "partial_failure"
	// ErrorTypeFatalWorkflow represents a workflow that could not reach its destructive phase
	ErrorTypeFatalWorkflow ErrorType = "fatal_workflow"
	// ErrorTypeCancelled represents a user cancellation or an expired deadline
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable reports whether a later retry by the caller may succeed.
// Nothing in this module retries on its own.
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewInputError reports a malformed caller request
func NewInputError(message string) *AppError {
	return NewAppError(ErrorTypeInput, message, nil)
}

// NewConflictError reports that a database is busy
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, message, nil)
}

// NewNotFoundError reports a missing resource
func NewNotFoundError(resource, id string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s %q not found", resource, id), nil).
		WithContext("resource", resource).
		WithContext("id", id)
}

// NewValidationError reports failed content checks
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeValidation, message, cause)
}

// NewTransientIOError reports a connection or filesystem failure
func NewTransientIOError(message string, cause error) *AppError {
	e := NewAppError(ErrorTypeTransientIO, message, cause)
	e.Recoverable = true
	return e
}

// NewPartialFailureError reports a run where only some databases succeeded
func NewPartialFailureError(message string, failed []string) *AppError {
	return NewAppError(ErrorTypePartialFailure, message, nil).
		WithContext("failed", failed)
}

// NewFatalWorkflowError reports a workflow aborted before its destructive phase
func NewFatalWorkflowError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeFatalWorkflow, message, cause)
}

// NewCancelledError reports a cancelled operation
func NewCancelledError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeCancelled, message, cause)
}

// ErrorClassifier maps driver, network and filesystem errors onto the taxonomy
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}
	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}
	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}
	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewAppError(ErrorTypeTransientIO,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewAppError(ErrorTypeInput,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1040, 1205, 1213, 2003, 2006, 2013: // too many connections, lock wait, deadlock, gone away
			return NewTransientIOError(
				fmt.Sprintf("MySQL server unavailable: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeValidation,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return NewTransientIOError("Database connection is closed", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NewAppError(ErrorTypeNotFound, "No rows found", err)
	}

	return nil
}

func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewTransientIOError(fmt.Sprintf("Network %s error", opErr.Op), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientIOError("Network operation timed out", err)
	}

	return nil
}

func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewCancelledError("Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError("Operation was canceled", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	if errors.Is(err, os.ErrNotExist) {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return NewAppError(ErrorTypeNotFound, fmt.Sprintf("File not found: %s", pathErr.Path), err)
		}
		return NewAppError(ErrorTypeNotFound, "File not found", err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.EACCES:
			return NewAppError(ErrorTypeTransientIO,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewTransientIOError("No space left on device", err)
		default:
			return NewTransientIOError(fmt.Sprintf("I/O error on %s", pathErr.Path), err)
		}
	}

	return nil
}

// ShutdownHandler runs registered cleanup functions in reverse order when
// SIGINT or SIGTERM arrives, or when Shutdown is called directly.
type ShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	once          sync.Once
	done          chan struct{}
}

// NewShutdownHandler creates a new shutdown handler
func NewShutdownHandler() *ShutdownHandler {
	return &ShutdownHandler{
		signalChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (sh *ShutdownHandler) RegisterShutdownFunc(fn func() error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.shutdownFuncs = append(sh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (sh *ShutdownHandler) Start() {
	signal.Notify(sh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sh.signalChan:
			_ = sh.Shutdown()
		case <-sh.done:
		}
	}()
}

// Shutdown runs every registered function once, newest first, and
// returns the joined errors.
func (sh *ShutdownHandler) Shutdown() error {
	var result error
	sh.once.Do(func() {
		signal.Stop(sh.signalChan)

		sh.mu.Lock()
		funcs := append([]func() error(nil), sh.shutdownFuncs...)
		sh.mu.Unlock()

		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				errs = append(errs, err)
			}
		}
		result = errors.Join(errs...)
		close(sh.done)
	})
	return result
}

// Done is closed once shutdown has completed
func (sh *ShutdownHandler) Done() <-chan struct{} {
	return sh.done
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given classification
func IsType(err error, t ErrorType) bool {
	return err != nil && GetErrorType(err) == t
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}
	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error with additional context, keeping its classification
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	return &AppError{
		Type:        classified.Type,
		Message:     message,
		Cause:       err,
		Context:     classified.Context,
		Recoverable: classified.Recoverable,
	}
}

// ValidationErrors collects multiple configuration problems
type ValidationErrors []string

// Add records a problem
func (v *ValidationErrors) Add(format string, args ...interface{}) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

// HasErrors reports whether anything was recorded
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(v, "; "))
}
