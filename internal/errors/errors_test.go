package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeTransientIO, "dump failed", cause)

	if appErr.Type != ErrorTypeTransientIO {
		t.Errorf("Expected type %v, got %v", ErrorTypeTransientIO, appErr.Type)
	}
	if appErr.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, appErr.Cause)
	}

	expected := "transient_io: dump failed (caused by: underlying error)"
	if appErr.Error() != expected {
		t.Errorf("Expected error string %v, got %v", expected, appErr.Error())
	}
	if !errors.Is(appErr, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want ErrorType
	}{
		{"input", NewInputError("unknown database"), ErrorTypeInput},
		{"conflict", NewConflictError("acore_world is busy"), ErrorTypeConflict},
		{"not found", NewNotFoundError("backup set", "x"), ErrorTypeNotFound},
		{"validation", NewValidationError("disallowed statement", nil), ErrorTypeValidation},
		{"transient", NewTransientIOError("socket closed", nil), ErrorTypeTransientIO},
		{"partial", NewPartialFailureError("1 of 2 failed", []string{"acore_world"}), ErrorTypePartialFailure},
		{"fatal", NewFatalWorkflowError("servers still running", nil), ErrorTypeFatalWorkflow},
		{"cancelled", NewCancelledError("cancelled", nil), ErrorTypeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.want {
				t.Errorf("type = %v, want %v", tt.err.Type, tt.want)
			}
			if !IsType(tt.err, tt.want) {
				t.Errorf("IsType(%v) = false", tt.want)
			}
		})
	}

	if !NewTransientIOError("x", nil).IsRecoverable() {
		t.Error("transient errors should be recoverable")
	}
	if NewInputError("x").IsRecoverable() {
		t.Error("input errors should not be recoverable")
	}
}

func TestNotFoundContext(t *testing.T) {
	err := NewNotFoundError("restore operation", "abc")
	if err.Context["id"] != "abc" {
		t.Errorf("Expected id context, got %v", err.Context)
	}
}

func TestClassifyMySQLErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		code uint16
		want ErrorType
	}{
		{1045, ErrorTypeTransientIO},
		{1049, ErrorTypeInput},
		{2006, ErrorTypeTransientIO},
		{1213, ErrorTypeTransientIO},
		{1064, ErrorTypeValidation},
		{1062, ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			err := &mysql.MySQLError{Number: tt.code, Message: "boom"}
			got := classifier.ClassifyError(err)
			if got.Type != tt.want {
				t.Errorf("ClassifyError(%d) = %v, want %v", tt.code, got.Type, tt.want)
			}
			if got.Context["mysql_error_code"] != tt.code {
				t.Errorf("missing mysql_error_code context")
			}
		})
	}
}

func TestClassifyOtherErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"deadline", context.DeadlineExceeded, ErrorTypeCancelled},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), ErrorTypeCancelled},
		{"bad conn", mysql.ErrInvalidConn, ErrorTypeTransientIO},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorTypeTransientIO},
		{"missing file", &os.PathError{Op: "open", Path: "/backups/x", Err: syscall.ENOENT}, ErrorTypeNotFound},
		{"disk full", &os.PathError{Op: "write", Path: "/backups/x", Err: syscall.ENOSPC}, ErrorTypeTransientIO},
		{"unknown", errors.New("mystery"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifier.ClassifyError(tt.err).Type; got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}

	if classifier.ClassifyError(nil) != nil {
		t.Error("ClassifyError(nil) should be nil")
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	base := NewConflictError("acore_auth is busy")
	wrapped := WrapError(base, "backup rejected")

	if GetErrorType(wrapped) != ErrorTypeConflict {
		t.Errorf("Expected conflict, got %v", GetErrorType(wrapped))
	}

	classified := WrapError(&net.OpError{Op: "read", Err: errors.New("reset")}, "docker request failed")
	if GetErrorType(classified) != ErrorTypeTransientIO {
		t.Errorf("Expected transient_io, got %v", GetErrorType(classified))
	}
	if !IsRecoverableError(classified) {
		t.Error("Expected recoverable classification to survive wrapping")
	}

	if WrapError(nil, "x") != nil {
		t.Error("WrapError(nil) should be nil")
	}
}

func TestFormatUserError(t *testing.T) {
	err := NewInputError("bad")
	err.UserMessage = "Pick a known database"
	if got := FormatUserError(err); got != "Pick a known database" {
		t.Errorf("FormatUserError() = %q", got)
	}
	if FormatUserError(nil) != "" {
		t.Error("expected empty string for nil")
	}
}

func TestShutdownHandlerRunsInReverseOnce(t *testing.T) {
	h := NewShutdownHandler()
	var order []int
	h.RegisterShutdownFunc(func() error { order = append(order, 1); return nil })
	h.RegisterShutdownFunc(func() error { order = append(order, 2); return errors.New("second failed") })

	err := h.Shutdown()
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("unexpected order %v", order)
	}

	if err := h.Shutdown(); err != nil {
		t.Errorf("second Shutdown() should be a no-op, got %v", err)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() should be closed")
	}
}

func TestValidationErrors(t *testing.T) {
	var v ValidationErrors
	if v.HasErrors() {
		t.Error("empty collection should have no errors")
	}
	v.Add("backup.dir is required")
	v.Add("database.port %d out of range", 0)
	if !v.HasErrors() || len(v) != 2 {
		t.Errorf("unexpected %v", v)
	}
	want := "invalid configuration: backup.dir is required; database.port 0 out of range"
	if v.Error() != want {
		t.Errorf("Error() = %q", v.Error())
	}
}
