// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// sink is the shared, locked destination of a Logger and every logger
// derived from it with [Logger.With].
type sink struct {
	mu         sync.Mutex
	output     io.Writer
	timestamps bool // if true, prepend timestamps
	colour     bool // if true, colourise level tags
}

// Logger writes levelled messages to stderr with optional timestamps,
// level prefixes and a per-logger context prefix.
type Logger struct {
	level  LogLevel
	prefix string
	out    *sink
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level: LogLevel(verbosity),
		out: &sink{
			output:     os.Stderr,
			timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
			colour:     term.IsTerminal(int(os.Stderr.Fd())),
		},
	}
}

// With returns a logger sharing l's output and level whose messages
// are tagged with prefix (typically a session id or protocol name).
func (l *Logger) With(prefix string) *Logger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + " " + prefix
	}
	return &Logger{level: l.level, prefix: p, out: l.out}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.out.mu.Lock()
	l.out.timestamps = on
	l.out.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).  Colour
// is only kept for writers that are terminals.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.output = w
	l.out.colour = false
	if f, ok := w.(*os.File); ok {
		l.out.colour = term.IsTerminal(int(f.Fd()))
	}
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("INF", format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("WRN", format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write("VRB", format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write("DBG", format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERR", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}
	tag := "[" + level + "]"
	if l.out.colour {
		tag = levelColour(level).Sprint(tag)
	}
	if l.out.timestamps {
		ts := time.Now().Format("15:04:05.000")
		fmt.Fprintf(l.out.output, "%s %s %s\n", ts, tag, msg)
	} else {
		fmt.Fprintf(l.out.output, "%s %s\n", tag, msg)
	}
}

func levelColour(level string) color.Color {
	switch level {
	case "ERR":
		return color.Red
	case "WRN":
		return color.Yellow
	case "INF":
		return color.Green
	case "VRB":
		return color.Cyan
	default:
		return color.Gray
	}
}
