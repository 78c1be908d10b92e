// Package diag provides the process-wide structured logger used across
// sicm-go, plus rate-limited warning helpers for the noisy paths (ring
// buffer overruns, mbind rollback failures) that the original C library
// dumped to stderr unconditionally. Modeled on
// kernel/utils/logger.go's level/component/io.Writer Logger, generalized
// from a WASM-console-aware logger to a plain stderr/file logger and
// given a rate-limited variant backed by golang.org/x/time/rate.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Level is the severity of a log line.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// Logger writes leveled, timestamped lines to an io.Writer.
type Logger struct {
	mu         sync.Mutex
	level      Level
	component  string
	output     io.Writer
	timeFormat string
}

// NewLogger creates a logger writing to w at minimum severity level.
func NewLogger(component string, level Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		level:      level,
		component:  component,
		output:     w,
		timeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.output, "%s [%s] %s: %s\n",
		time.Now().Format(l.timeFormat), levelNames[level], l.component, msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, format, args...) }

var (
	mu      sync.Mutex
	process = NewLogger("sicm", Info, os.Stderr)
)

// SetOutput redirects the process-wide logger's output, used for
// SH_LOG_FILE.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	process.output = w
}

// SetLevel adjusts the process-wide logger's minimum emitted level, one
// of "debug", "info", "warn", "error".
func SetLevel(name string) {
	level := Info
	switch strings.ToLower(name) {
	case "debug":
		level = Debug
	case "warn":
		level = Warn
	case "error":
		level = Error
	}
	mu.Lock()
	defer mu.Unlock()
	process.level = level
}

func Debugf(format string, args ...interface{}) {
	mu.Lock()
	l := process
	mu.Unlock()
	l.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	mu.Lock()
	l := process
	mu.Unlock()
	l.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	mu.Lock()
	l := process
	mu.Unlock()
	l.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	mu.Lock()
	l := process
	mu.Unlock()
	l.Errorf(format, args...)
}

var (
	limiters  = map[string]*rate.Limiter{}
	limiterMu sync.Mutex
)

// WarnfRateLimited logs at warn level through a per-key token bucket, so a
// tight loop hitting the same condition (e.g. ring-buffer overrun on every
// sample tick) can't flood the log. Each distinct key gets its own
// limiter, allowing one burst every interval.
func WarnfRateLimited(key string, interval time.Duration, format string, args ...interface{}) {
	limiterMu.Lock()
	lim, ok := limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		limiters[key] = lim
	}
	limiterMu.Unlock()

	if lim.Allow() {
		Warnf(format, args...)
	}
}
