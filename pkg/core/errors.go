package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category   ErrorCategory
	Code       string                 // Machine-readable code: window_not_found, remote_command_failed, etc.
	Message    string                 // Human-readable message
	Step       string                 // Failing sub-step (install, send, upload, ...), if any
	Diagnostic string                 // Captured stderr/stdout text, surfaced verbatim
	Details    map[string]interface{} // Additional context
	Cause      error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = e.Step + ": " + msg
	}
	if e.Diagnostic != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Diagnostic)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches execution errors by code so predefined errors work as sentinels
// after WithCause/WithMessage copies.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func (e *ExecutionError) clone() *ExecutionError {
	c := *e
	return &c
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := e.clone()
	c.Message = msg
	return c
}

// WithStep returns a copy of the error attributed to the named step
func (e *ExecutionError) WithStep(step string) *ExecutionError {
	c := e.clone()
	c.Step = step
	return c
}

// WithDiagnostic returns a copy of the error carrying captured command output
func (e *ExecutionError) WithDiagnostic(text string) *ExecutionError {
	c := e.clone()
	c.Diagnostic = text
	return c
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := e.clone()
	c.Details = merged
	return c
}

// Predefined errors
var (
	// Not found
	ErrWindowNotFound = &ExecutionError{
		Category: ErrCategoryNotFound,
		Code:     "window_not_found",
		Message:  "no window title matches",
	}
	ErrArtifactNotFound = &ExecutionError{
		Category: ErrCategoryNotFound,
		Code:     "artifact_not_found",
		Message:  "artifact does not exist",
	}
	ErrUnknownAction = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unknown_action",
		Message:  "unknown action",
	}

	// Timeout errors
	ErrWatchTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "watch_timeout",
		Message:  "artifact was not rewritten before the timeout",
	}
	ErrStepTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "step_timeout",
		Message:  "command timed out",
	}

	// Input delivery
	ErrInputDeliveryUncertain = &ExecutionError{
		Category: ErrCategoryInputDeliveryUncertain,
		Code:     "input_delivery_uncertain",
		Message:  "input sent without confirmation",
	}

	// Remote errors
	ErrRemoteCommandFailed = &ExecutionError{
		Category: ErrCategoryRemoteCommandFailed,
		Code:     "remote_command_failed",
		Message:  "device bridge command failed",
	}
	ErrConnectionFailed = &ExecutionError{
		Category: ErrCategoryConnectionFailed,
		Code:     "connection_failed",
		Message:  "could not reach relay host",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}

	// Aborts
	ErrFailSafe = &ExecutionError{
		Category: ErrCategoryAborted,
		Code:     "fail_safe",
		Message:  "fail-safe triggered: pointer moved to abort corner",
	}
	ErrRunLocked = &ExecutionError{
		Category: ErrCategoryAborted,
		Code:     "run_locked",
		Message:  "another pipeline run holds the input lock",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// RemoteCommandFailed reports a failed device-bridge step with its captured diagnostic text.
func RemoteCommandFailed(step, diagnostic string) *ExecutionError {
	return ErrRemoteCommandFailed.WithStep(step).WithDiagnostic(diagnostic)
}

// StepTimeout reports a sub-command that exceeded its own timeout.
func StepTimeout(step string, d time.Duration) *ExecutionError {
	return ErrStepTimeout.WithStep(step).WithMessage(fmt.Sprintf("timed out after %v", d))
}

// CategoryOf returns the category of err, or ErrCategoryNone for plain errors.
// Context cancellation maps to ErrCategoryAborted and deadline to ErrCategoryTimeout.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrCategoryAborted
	}
	return ErrCategoryNone
}

// StatusFromError maps an error to the stage status it produces.
func StatusFromError(err error) StageStatus {
	if err == nil {
		return StatusOK
	}
	if CategoryOf(err) == ErrCategoryTimeout {
		return StatusTimeout
	}
	return StatusFailed
}
