package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is a small wrapper around slog with printf-style helpers, plus the
// operator status stream that receives one line per remote request.
type Logger struct {
	debug bool
	std   *slog.Logger

	mu     *sync.Mutex
	status io.Writer
}

// NewLogger returns a logger writing logs to stderr and status lines to stdout.
// If debug is true, debug logs are enabled.
func NewLogger(debug bool) *Logger {
	return New(debug, os.Stderr, os.Stdout)
}

// New returns a logger with explicit destinations, mainly for tests.
func New(debug bool, logs, status io.Writer) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(logs, &slog.HandlerOptions{Level: level})
	return &Logger{
		debug:  debug,
		std:    slog.New(h).With("app", "cfer"),
		mu:     &sync.Mutex{},
		status: status,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(false, io.Discard, io.Discard)
}

// With returns a logger carrying extra attributes. The status stream is shared.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{debug: l.debug, std: l.std.With(args...), mu: l.mu, status: l.status}
}

// Status writes "<subject>: <outcome>" to the status stream. Safe for
// concurrent use.
func (l *Logger) Status(subject, outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.status, "%s: %s\n", subject, outcome)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.std.Debug(fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.std.Info(fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.std.Warn(fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.std.Error(fmt.Sprintf(format, v...))
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.std.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}
