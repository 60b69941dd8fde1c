package device

import (
	"strings"
	"unicode/utf8"
)

// HilogArgs dumps the device log buffer, filtered by tag when given.
func (b Bridge) HilogArgs(tag string) []string {
	if tag == "" {
		return b.ShellArgs("hilog", "-x")
	}
	return b.ShellArgs("hilog", "-T", tag, "-x")
}

// HilogStreamArgs follows the device log.
func (b Bridge) HilogStreamArgs() []string {
	return b.ShellArgs("hilog")
}

// FilterLines keeps lines containing tag, ignoring case. An empty tag keeps
// everything.
func FilterLines(text, tag string) string {
	if tag == "" {
		return text
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if MatchTag(line, tag) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// MatchTag reports whether line contains tag, ignoring case.
func MatchTag(line, tag string) bool {
	return strings.Contains(strings.ToLower(line), strings.ToLower(tag))
}

// TailLines returns the last n non-empty lines. n <= 0 returns text unchanged.
func TailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Truncate keeps the last max bytes, cut at a line boundary when possible.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	tail := text[len(text)-max:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		return tail[i+1:]
	}
	// No line boundary: do not start inside a multi-byte character.
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	return tail
}
