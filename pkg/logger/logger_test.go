package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "buildpilot.log")
	if err := Init(Options{Path: path, Level: "debug"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info("locate %s", "Target App")
	Debug("poll %d", 3)
	Warn("activation unconfirmed")
	Error("deploy failed: %v", "install")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	for _, want := range []string{"locate Target App", "poll 3", "activation unconfirmed", "deploy failed: install"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestInit_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := Init(Options{Path: path, Level: "warn"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Info("hidden")
	Warn("shown")
	Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("warn record missing")
	}
}

func TestLogging_BeforeInitIsNoop(t *testing.T) {
	Close()
	Info("nothing %d", 1)
	if w := GetWriter(); w == nil {
		t.Error("GetWriter() returned nil")
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &MultiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	l := slog.New(h).With("stage", "Deploy")

	l.Info("upload done")
	l.Warn("install retried")

	if !strings.Contains(a.String(), "upload done") || !strings.Contains(a.String(), "install retried") {
		t.Errorf("debug handler output = %q", a.String())
	}
	if strings.Contains(b.String(), "upload done") {
		t.Errorf("warn handler received info record: %q", b.String())
	}
	if !strings.Contains(b.String(), "stage=Deploy") {
		t.Errorf("attrs not propagated: %q", b.String())
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(debug) = false, want true")
	}
}
