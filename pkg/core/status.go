package core

import "fmt"

// StageStatus represents the execution status of a pipeline stage
type StageStatus int

const (
	StatusPending StageStatus = iota // Not yet started
	StatusRunning                    // Currently executing
	StatusOK                         // Completed successfully
	StatusTimeout                    // Polling or command exceeded its bound
	StatusFailed                     // Fatal failure (not found, remote command failed, connection, abort)
)

// String returns the string representation of StageStatus
func (s StageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets reports carry the readable status name.
func (s StageStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *StageStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "running":
		*s = StatusRunning
	case "ok":
		*s = StatusOK
	case "timeout":
		*s = StatusTimeout
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown stage status %q", text)
	}
	return nil
}

// IsTerminal returns true if the status is a final state
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StatusOK, StatusTimeout, StatusFailed:
		return true
	default:
		return false
	}
}

// IsSuccess returns true only for StatusOK
func (s StageStatus) IsSuccess() bool {
	return s == StatusOK
}

// severity orders terminal statuses: failed > timeout > ok.
// Non-terminal statuses rank below ok.
func (s StageStatus) severity() int {
	switch s {
	case StatusFailed:
		return 3
	case StatusTimeout:
		return 2
	case StatusOK:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of two statuses
func Worst(a, b StageStatus) StageStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone                   ErrorCategory = iota // No error
	ErrCategoryNotFound                                    // Window or artifact absent
	ErrCategoryTimeout                                     // Polling or command exceeded its bound
	ErrCategoryInputDeliveryUncertain                      // Input sent, no confirmation possible
	ErrCategoryRemoteCommandFailed                         // Device bridge exited non-zero
	ErrCategoryConnectionFailed                            // Secure shell or transport failure
	ErrCategoryConfig                                      // Invalid configuration
	ErrCategoryAborted                                     // Fail-safe, lock contention, cancellation
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryNotFound:
		return "not_found"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryInputDeliveryUncertain:
		return "input_delivery_uncertain"
	case ErrCategoryRemoteCommandFailed:
		return "remote_command_failed"
	case ErrCategoryConnectionFailed:
		return "connection_failed"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText lets reports carry the readable category name.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a category name written by MarshalText.
func (c *ErrorCategory) UnmarshalText(text []byte) error {
	for cat := ErrCategoryNone; cat <= ErrCategoryAborted; cat++ {
		if cat.String() == string(text) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("unknown error category %q", text)
}
