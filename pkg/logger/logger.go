// Package logger provides the process-wide structured log for buildpilot.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *slog.Logger
	logFile      *lumberjack.Logger
	mu           sync.Mutex
)

// Options configures Init.
type Options struct {
	Path    string // Log file path; empty disables file output
	Level   string // debug, info, warn, error
	Verbose bool   // Also write to stderr
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	lvl := ParseLevel(opts.Level)
	var handlers []slog.Handler

	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create log dir: %w", err)
			}
		}
		logFile = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		handlers = append(handlers, tint.NewHandler(logFile, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
			NoColor:    true,
		}))
	}

	if opts.Verbose {
		noColor := !isatty.IsTerminal(os.Stderr.Fd()) || os.Getenv("NO_COLOR") != ""
		handlers = append(handlers, tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    noColor,
		}))
	}

	switch len(handlers) {
	case 0:
		globalLogger = nil
	case 1:
		globalLogger = slog.New(handlers[0])
	default:
		globalLogger = slog.New(&MultiHandler{handlers: handlers})
	}
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

func logf(level slog.Level, format string, v ...interface{}) {
	mu.Lock()
	l := globalLogger
	mu.Unlock()

	if l == nil {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	logf(slog.LevelInfo, format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	logf(slog.LevelDebug, format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	logf(slog.LevelError, format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	logf(slog.LevelWarn, format, v...)
}

// GetWriter returns the underlying file writer for raw output such as streamed device logs.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}

// MultiHandler fans records out to several handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}
