package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryNotFound,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Code:    "test_error",
		Message: "test message",
		Cause:   cause,
	}

	got := err.Error()
	if !strings.Contains(got, "test message") {
		t.Errorf("Error() = %q, should contain 'test message'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Message: "wrapper",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestExecutionError_WithCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	newErr := ErrConnectionFailed.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if newErr.Code != ErrConnectionFailed.Code {
		t.Errorf("Code = %q, want %q", newErr.Code, ErrConnectionFailed.Code)
	}
	if ErrConnectionFailed.Cause != nil {
		t.Error("WithCause() mutated the predefined error")
	}
}

func TestExecutionError_WithMessage(t *testing.T) {
	newErr := ErrWindowNotFound.WithMessage("no window matches [Target App]")
	if newErr.Message != "no window matches [Target App]" {
		t.Errorf("Message = %q", newErr.Message)
	}
	if newErr.Category != ErrCategoryNotFound {
		t.Errorf("Category = %s, want not_found", newErr.Category)
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	base := ErrInvalidConfig.WithDetails(map[string]interface{}{"a": 1})
	merged := base.WithDetails(map[string]interface{}{"b": 2})

	if merged.Details["a"] != 1 || merged.Details["b"] != 2 {
		t.Errorf("Details = %v, want a=1 b=2", merged.Details)
	}
	if _, ok := base.Details["b"]; ok {
		t.Error("WithDetails() mutated the receiver")
	}
}

func TestExecutionError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("deploy: %w", RemoteCommandFailed("install", "signature verification failed"))

	if !errors.Is(err, ErrRemoteCommandFailed) {
		t.Error("errors.Is(err, ErrRemoteCommandFailed) = false, want true")
	}
	if errors.Is(err, ErrConnectionFailed) {
		t.Error("errors.Is(err, ErrConnectionFailed) = true, want false")
	}

	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatal("errors.As failed")
	}
	if ee.Step != "install" {
		t.Errorf("Step = %q, want install", ee.Step)
	}
	if ee.Diagnostic != "signature verification failed" {
		t.Errorf("Diagnostic = %q", ee.Diagnostic)
	}
}

func TestRemoteCommandFailed_Error(t *testing.T) {
	err := RemoteCommandFailed("install", "signature verification failed")
	want := "install: device bridge command failed: signature verification failed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestStepTimeout(t *testing.T) {
	err := StepTimeout("send", 60*time.Second)
	if err.Category != ErrCategoryTimeout {
		t.Errorf("Category = %s, want timeout", err.Category)
	}
	if !strings.Contains(err.Error(), "send: timed out after 1m0s") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryNone},
		{"plain", errors.New("boom"), ErrCategoryNone},
		{"execution", ErrWatchTimeout, ErrCategoryTimeout},
		{"wrapped", fmt.Errorf("x: %w", ErrFailSafe), ErrCategoryAborted},
		{"deadline", context.DeadlineExceeded, ErrCategoryTimeout},
		{"canceled", context.Canceled, ErrCategoryAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusFromError(t *testing.T) {
	if got := StatusFromError(nil); got != StatusOK {
		t.Errorf("StatusFromError(nil) = %s, want ok", got)
	}
	if got := StatusFromError(ErrWatchTimeout); got != StatusTimeout {
		t.Errorf("StatusFromError(timeout) = %s, want timeout", got)
	}
	if got := StatusFromError(ErrWindowNotFound); got != StatusFailed {
		t.Errorf("StatusFromError(not found) = %s, want failed", got)
	}
	if got := StatusFromError(RemoteCommandFailed("install", "x")); got != StatusFailed {
		t.Errorf("StatusFromError(remote) = %s, want failed", got)
	}
}
