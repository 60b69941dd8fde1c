// Package device drives the device-bridge command line (hdc) that installs
// packages on a physical device and reads its logs.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// waitDelay bounds how long output pipes are drained after a cancelled
// command is killed; grandchildren may keep them open.
const waitDelay = time.Second

// Output is the captured result of one command.
type Output struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// Text returns the diagnostic text: stderr if present, else stdout.
func (o Output) Text() string {
	if s := strings.TrimSpace(o.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(o.Stdout)
}

// Executor runs bridge commands, locally or over a relay session.
// A non-zero exit is reported through Output.ExitCode, not as an error;
// errors mean the command could not run or was cancelled.
type Executor interface {
	Run(ctx context.Context, argv []string) (Output, error)
	Stream(ctx context.Context, argv []string, w io.Writer) error
}

// LocalExecutor runs commands as local subprocesses.
type LocalExecutor struct{}

// Run executes argv and captures stdout and stderr.
func (LocalExecutor) Run(ctx context.Context, argv []string) (Output, error) {
	if len(argv) == 0 {
		return Output{}, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- bridge path from config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, context.Cause(ctx)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return out, fmt.Errorf("%s: %w", Join(argv), err)
	}
	return out, nil
}

// Stream copies combined output to w until the command exits or ctx is done.
// Reaching the context deadline is the normal end of a stream.
func (LocalExecutor) Stream(ctx context.Context, argv []string, w io.Writer) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- bridge path from config
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: %w", Join(argv), err)
	}
	return nil
}

// Join renders argv as a single shell command line.
func Join(argv []string) string {
	return shellquote.Join(argv...)
}

// Split parses a shell command line into argv.
func Split(line string) ([]string, error) {
	return shellquote.Split(line)
}
