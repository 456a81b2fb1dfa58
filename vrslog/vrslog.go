// Package vrslog provides the structured-logging interface used by the
// operation facade. It mirrors the shape of vorteil/pkg/elog's Logger
// interface, trimmed of that package's terminal-progress-bar concerns,
// and is backed by logrus the way vorteil's CLI logger is.
package vrslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow logging surface the operation facade depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// logrusLogger adapts a *logrus.Logger to Logger.
type logrusLogger struct {
	entry *logrus.Logger
}

// New creates a Logger that writes to stderr with the given level name
// ("debug", "info", "warn", "error"). An unrecognized level falls back to
// "info".
func New(level string) Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &logrusLogger{entry: l}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logrusLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Nop is a Logger that discards everything. Useful for tests that don't want
// log noise but still need to satisfy the facade's constructor.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
