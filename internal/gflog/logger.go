// Package gflog is the ambient logger for gofetch-mcp: a hand-rolled,
// mutex-guarded logger built on github.com/jedib0t/go-pretty/v6/text for
// ANSI coloring, with leveled methods gated by verbose/debug flags, plus
// a chained Event API (Info().Msgf(...)) for call sites that want to
// skip formatting work when a level is disabled.
package gflog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"
)

// Logger is a leveled, ANSI-colored logger writing every level to stderr;
// the stdout writer is held but not written to by any method.
type Logger struct {
	mu             sync.Mutex
	buffer         *bytes.Buffer
	stderr         io.Writer
	stdout         io.Writer
	verboseEnabled bool
	debugEnabled   bool
}

// DefaultLogger is the package-level logger used by the chained helpers
// below. Tests may swap its output with SetOutput.
var DefaultLogger = New()

// New creates a logger writing to os.Stderr.
func New() *Logger {
	return &Logger{
		buffer: &bytes.Buffer{},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func (l *Logger) EnableVerbose() { l.mu.Lock(); l.verboseEnabled = true; l.mu.Unlock() }
func (l *Logger) EnableDebug()   { l.mu.Lock(); l.debugEnabled = true; l.mu.Unlock() }

func (l *Logger) IsDebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugEnabled
}

func (l *Logger) IsVerboseEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verboseEnabled
}

// SetOutput redirects both streams, for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout, l.stderr = w, w
}

func (l *Logger) log(w io.Writer, color text.Color, prefix, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	formatted := color.Sprintf("%s%s", prefix, msg)
	l.buffer.Reset()
	l.buffer.WriteString(formatted)
	l.buffer.WriteRune('\n')
	w.Write(l.buffer.Bytes())
}

func (l *Logger) LogInfo(format string, args ...interface{}) {
	l.log(l.stderr, text.FgWhite, "[INFO] ", format, args...)
}

func (l *Logger) LogVerbose(format string, args ...interface{}) {
	if !l.IsVerboseEnabled() {
		return
	}
	l.log(l.stderr, text.FgCyan, "[VERBOSE] ", format, args...)
}

func (l *Logger) LogDebug(format string, args ...interface{}) {
	if !l.IsDebugEnabled() {
		return
	}
	l.log(l.stderr, text.FgMagenta, "[DEBUG] ", format, args...)
}

func (l *Logger) LogWarning(format string, args ...interface{}) {
	l.log(l.stderr, text.FgHiYellow, "[WARNING] ", format, args...)
}

func (l *Logger) LogError(format string, args ...interface{}) {
	l.log(l.stderr, text.FgRed, "[ERROR] ", format, args...)
}

// Event is a level handle returned by the chained API; formatting work is
// only done if Msgf is actually called, and Msgf is a no-op for disabled
// levels.
type Event struct {
	l      *Logger
	color  text.Color
	prefix string
	w      io.Writer
	active bool
}

func (e Event) Msgf(format string, args ...interface{}) {
	if !e.active {
		return
	}
	e.l.log(e.w, e.color, e.prefix, format, args...)
}

func (l *Logger) Info() Event {
	return Event{l: l, color: text.FgWhite, prefix: "[INFO] ", w: l.stderr, active: true}
}

func (l *Logger) Verbose() Event {
	return Event{l: l, color: text.FgCyan, prefix: "[VERBOSE] ", w: l.stderr, active: l.IsVerboseEnabled()}
}

func (l *Logger) Debug() Event {
	return Event{l: l, color: text.FgMagenta, prefix: "[DEBUG] ", w: l.stderr, active: l.IsDebugEnabled()}
}

func (l *Logger) Warning() Event {
	return Event{l: l, color: text.FgHiYellow, prefix: "[WARNING] ", w: l.stderr, active: true}
}

func (l *Logger) Error() Event {
	return Event{l: l, color: text.FgRed, prefix: "[ERROR] ", w: l.stderr, active: true}
}

// Package-level helpers delegate to DefaultLogger so call sites can log
// via Debug()/Info() without constructing a logger explicitly.
func Info() Event    { return DefaultLogger.Info() }
func Verbose() Event { return DefaultLogger.Verbose() }
func Debug() Event   { return DefaultLogger.Debug() }
func Warning() Event { return DefaultLogger.Warning() }
func Error() Event   { return DefaultLogger.Error() }

func IsDebugEnabled() bool   { return DefaultLogger.IsDebugEnabled() }
func IsVerboseEnabled() bool { return DefaultLogger.IsVerboseEnabled() }
func EnableDebug()           { DefaultLogger.EnableDebug() }
func EnableVerbose()         { DefaultLogger.EnableVerbose() }
