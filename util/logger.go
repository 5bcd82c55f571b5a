// Package util provides the levelled logger shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// class is one kind of log line: the verbosity it needs and its tag.
type class struct {
	min LogLevel
	tag string
}

var (
	classError   = class{LogQuiet, "ERR"}
	classWarn    = class{LogNormal, "WRN"}
	classInfo    = class{LogNormal, "INF"}
	classVerbose = class{LogVerbose, "VRB"}
	classDebug   = class{LogDebug, "DBG"}
)

// Logger writes levelled, component-tagged lines.  Loggers derived with
// [Logger.With] share one sink, so output and timestamp settings made on
// any of them apply to all.
type Logger struct {
	level     LogLevel
	component string
	sink      *sink
}

type sink struct {
	mu         sync.Mutex
	out        io.Writer
	timestamps bool
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).  Debug
// output carries timestamps.
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level: LogLevel(verbosity),
		sink:  &sink{out: os.Stderr, timestamps: verbosity >= int(LogDebug)},
	}
}

// Discard returns a quiet logger that writes nowhere.
func Discard() *Logger {
	l := NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// With returns a logger tagged with component.  Tags nest:
// With("api").With("stream") writes "api/stream: ...".
func (l *Logger) With(component string) *Logger {
	child := *l
	if l.component != "" {
		component = l.component + "/" + component
	}
	child.component = component
	return &child
}

// SetTimestamps enables or disables the clock prefix.
func (l *Logger) SetTimestamps(on bool) {
	l.sink.mu.Lock()
	l.sink.timestamps = on
	l.sink.mu.Unlock()
}

// SetOutput redirects the shared sink (default os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

// Level returns the configured verbosity.
func (l *Logger) Level() LogLevel { return l.level }

// Enabled reports whether lines needing level would be written.
func (l *Logger) Enabled(level LogLevel) bool { return l.level >= level }

func (l *Logger) Error(format string, args ...interface{}) { l.log(classError, format, args) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(classWarn, format, args) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(classInfo, format, args) }

// Verbose lines show with -v.
func (l *Logger) Verbose(format string, args ...interface{}) { l.log(classVerbose, format, args) }

// Debug lines show with -vv and are meant for state transitions.
func (l *Logger) Debug(format string, args ...interface{}) { l.log(classDebug, format, args) }

func (l *Logger) log(c class, format string, args []interface{}) {
	if !l.Enabled(c.min) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		msg = l.component + ": " + msg
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.timestamps {
		fmt.Fprintf(l.sink.out, "%s [%s] %s\n", time.Now().Format("15:04:05.000"), c.tag, msg)
		return
	}
	fmt.Fprintf(l.sink.out, "[%s] %s\n", c.tag, msg)
}
