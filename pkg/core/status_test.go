package core

import "testing"

func TestStageStatus_String(t *testing.T) {
	tests := []struct {
		status   StageStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusRunning, "running"},
		{StatusOK, "ok"},
		{StatusTimeout, "timeout"},
		{StatusFailed, "failed"},
		{StageStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("StageStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestStageStatus_IsTerminal(t *testing.T) {
	terminalStatuses := []StageStatus{StatusOK, StatusTimeout, StatusFailed}
	nonTerminalStatuses := []StageStatus{StatusPending, StatusRunning}

	for _, s := range terminalStatuses {
		if !s.IsTerminal() {
			t.Errorf("StageStatus(%s).IsTerminal() = false, want true", s)
		}
	}

	for _, s := range nonTerminalStatuses {
		if s.IsTerminal() {
			t.Errorf("StageStatus(%s).IsTerminal() = true, want false", s)
		}
	}
}

func TestStageStatus_IsSuccess(t *testing.T) {
	if !StatusOK.IsSuccess() {
		t.Error("StatusOK.IsSuccess() = false, want true")
	}
	for _, s := range []StageStatus{StatusPending, StatusRunning, StatusTimeout, StatusFailed} {
		if s.IsSuccess() {
			t.Errorf("StageStatus(%s).IsSuccess() = true, want false", s)
		}
	}
}

func TestWorst(t *testing.T) {
	tests := []struct {
		a, b, want StageStatus
	}{
		{StatusOK, StatusOK, StatusOK},
		{StatusOK, StatusTimeout, StatusTimeout},
		{StatusTimeout, StatusOK, StatusTimeout},
		{StatusTimeout, StatusFailed, StatusFailed},
		{StatusFailed, StatusTimeout, StatusFailed},
		{StatusOK, StatusFailed, StatusFailed},
		{StatusPending, StatusOK, StatusOK},
	}

	for _, tt := range tests {
		if got := Worst(tt.a, tt.b); got != tt.want {
			t.Errorf("Worst(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryNotFound, "not_found"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryInputDeliveryUncertain, "input_delivery_uncertain"},
		{ErrCategoryRemoteCommandFailed, "remote_command_failed"},
		{ErrCategoryConnectionFailed, "connection_failed"},
		{ErrCategoryConfig, "config"},
		{ErrCategoryAborted, "aborted"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestStageStatus_UnmarshalText(t *testing.T) {
	for _, s := range []StageStatus{StatusPending, StatusRunning, StatusOK, StatusTimeout, StatusFailed} {
		var got StageStatus
		if err := got.UnmarshalText([]byte(s.String())); err != nil || got != s {
			t.Errorf("UnmarshalText(%q) = %v, %v", s, got, err)
		}
	}
	var s StageStatus
	if err := s.UnmarshalText([]byte("passed")); err == nil {
		t.Error("UnmarshalText(passed) returned nil error")
	}
}

func TestErrorCategory_UnmarshalText(t *testing.T) {
	var c ErrorCategory
	if err := c.UnmarshalText([]byte("remote_command_failed")); err != nil || c != ErrCategoryRemoteCommandFailed {
		t.Errorf("UnmarshalText() = %v, %v", c, err)
	}
	if err := c.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) returned nil error")
	}
}
