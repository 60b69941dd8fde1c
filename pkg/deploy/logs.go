package deploy

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/config"
	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/device"
)

const defaultLogsTimeout = 15 * time.Second

// LogQuery bounds a log fetch.
type LogQuery struct {
	Tag      string
	MaxLines int
	MaxBytes int
}

// FetchLogs dumps the device log, keeping the last MaxLines lines that
// contain Tag. When the bridge's tag filter returns nothing the full buffer
// is fetched and filtered locally.
func (d *Deployer) FetchLogs(ctx context.Context, t Target, q LogQuery) (string, error) {
	var text string
	err := d.withExecutor(ctx, t, func(ex device.Executor) error {
		timeout := t.Timeouts.Logs
		if timeout <= 0 {
			timeout = defaultLogsTimeout
		}

		res := &Result{}
		if q.Tag != "" {
			err := runStep(ctx, ex, t.Bridge, "logs", t.Bridge.HilogArgs(q.Tag), timeout, res)
			if err == nil && strings.TrimSpace(res.Steps[0].Stdout) != "" {
				text = res.Steps[0].Stdout
				return nil
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
		}

		res = &Result{}
		if err := runStep(ctx, ex, t.Bridge, "logs", t.Bridge.HilogArgs(""), timeout, res); err != nil {
			return err
		}
		text = device.FilterLines(res.Steps[0].Stdout, q.Tag)
		return nil
	})
	if err != nil {
		return "", err
	}
	return device.Truncate(device.TailLines(text, q.MaxLines), q.MaxBytes), nil
}

// StreamLogs follows the device log for duration, writing lines that contain
// tag to w.
func (d *Deployer) StreamLogs(ctx context.Context, t Target, tag string, duration time.Duration, w io.Writer) error {
	sctx, cancel := withTimeout(ctx, duration)
	defer cancel()

	fw := &lineFilter{w: w, tag: tag}
	err := d.withExecutor(sctx, t, func(ex device.Executor) error {
		return ex.Stream(sctx, t.Bridge.HilogStreamArgs(), fw)
	})
	fw.Flush()
	if err != nil && ctx.Err() == nil && sctx.Err() != nil {
		// Dial or stream interrupted by the duration elapsing.
		return nil
	}
	return err
}

// Exec runs arbitrary bridge arguments on the target, e.g. ["list", "targets"].
func (d *Deployer) Exec(ctx context.Context, t Target, args []string) (device.Output, error) {
	var out device.Output
	err := d.withExecutor(ctx, t, func(ex device.Executor) error {
		sctx, cancel := withTimeout(ctx, t.Timeouts.Exec)
		defer cancel()

		var err error
		out, err = ex.Run(sctx, t.Bridge.Command(args...))
		if err != nil {
			return stepError(ctx, "exec", t.Timeouts.Exec, err)
		}
		return nil
	})
	return out, err
}

// withExecutor runs fn with the local executor, or with a relay session
// that is closed when fn returns.
func (d *Deployer) withExecutor(ctx context.Context, t Target, fn func(device.Executor) error) error {
	switch t.Kind {
	case config.TargetRelay:
		sess, err := d.open(ctx, t)
		if err != nil {
			return err
		}
		defer sess.Close()
		return fn(sess)
	case config.TargetLocal, "":
		return fn(d.Local)
	}
	return core.ErrInvalidConfig.WithMessage("unknown deploy target " + t.Kind)
}

// lineFilter forwards complete lines containing tag.
type lineFilter struct {
	mu   sync.Mutex
	w    io.Writer
	tag  string
	buf  bytes.Buffer
	werr error
}

func (f *lineFilter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.Write(p)
	for {
		i := bytes.IndexByte(f.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := f.buf.Next(i + 1)
		f.emit(line)
	}
	if f.werr != nil {
		return 0, f.werr
	}
	return len(p), nil
}

// Flush writes a trailing partial line.
func (f *lineFilter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf.Len() > 0 {
		f.emit(append(f.buf.Bytes(), '\n'))
		f.buf.Reset()
	}
}

func (f *lineFilter) emit(line []byte) {
	if f.werr != nil {
		return
	}
	if f.tag == "" || device.MatchTag(string(line), f.tag) {
		_, f.werr = f.w.Write(line)
	}
}
