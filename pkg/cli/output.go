package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
)

// Slow stage threshold
const slowThreshold = 60 * time.Second

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// printer writes human-readable progress. It is not a log.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer, noANSI bool) *printer {
	return &printer{w: w, color: colorsEnabled(w, noANSI)}
}

// colorsEnabled respects --no-ansi, NO_COLOR and whether w is a terminal.
func colorsEnabled(w io.Writer, noANSI bool) bool {
	if noANSI || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) header(title string) {
	p.printf("\n%s\n", p.style(boldStyle, title))
}

func (p *printer) stageStart(stage string) {
	p.printf("  %s %s\n", p.style(activeStyle, "▸"), stage)
}

func (p *printer) stageEnd(r core.StageResult) {
	dur := formatDuration(r.Duration.Milliseconds())
	switch {
	case r.Status == core.StatusOK && (r.Uncertain || r.Duration >= slowThreshold):
		p.printf("  %s %s %s %s\n", p.style(warnStyle, "⚠"), r.Stage, r.Detail, p.style(dimStyle, "("+dur+")"))
	case r.Status == core.StatusOK:
		p.printf("  %s %s %s %s\n", p.style(okStyle, "✓"), r.Stage, r.Detail, p.style(dimStyle, "("+dur+")"))
	default:
		p.printf("  %s %s [%s] %s\n", p.style(failStyle, "✗"), r.Stage, r.Status, p.style(dimStyle, "("+dur+")"))
		p.printf("    %s %s\n", p.style(dimStyle, "╰─"), stageError(r))
	}
}

// stageError prefers the step and captured diagnostic over the error chain.
func stageError(r core.StageResult) string {
	if r.Step != "" && r.Diagnostic != "" {
		return r.Step + ": " + r.Diagnostic
	}
	if r.Error != "" {
		return r.Error
	}
	return r.Detail
}

func (p *printer) summary(run *core.PipelineRun) {
	line := run.Summary()
	if run.Success() {
		p.printf("\n%s\n", p.style(okStyle, line))
		return
	}
	p.printf("\n%s\n", p.style(failStyle, line))
}

func (p *printer) deploySteps(res *deploy.Result) {
	if res == nil {
		return
	}
	for _, s := range res.Steps {
		mark := p.style(okStyle, "✓")
		if s.ExitCode != 0 {
			mark = p.style(failStyle, "✗")
		}
		p.printf("  %s %-8s %s %s\n", mark, s.Step, s.Command, p.style(dimStyle, "("+formatDuration(s.Duration.Milliseconds())+")"))
		if s.ExitCode != 0 {
			for _, line := range strings.Split(strings.TrimSpace(s.Stderr+"\n"+s.Stdout), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					p.printf("    %s %s\n", p.style(dimStyle, "│"), line)
				}
			}
		}
	}
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
