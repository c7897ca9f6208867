// Package netlog is the structured logger shared by the RBT and DVR cores.
//
// It plays the same role as the teacher's pkg/logger: a small process-wide
// default plus level control, but backed by logrus so call sites attach
// structured fields (seq, ack, iface, peer) instead of formatting them into
// a message string.
package netlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// SetLevel sets the minimum level for the default logger.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Fields is a shorthand for logrus.Fields, used by component loggers below.
type Fields = logrus.Fields

// Logger is a named component logger, e.g. netlog.For("rbt.sender").
type Logger struct {
	entry *logrus.Entry
}

// For returns a component-scoped logger. component is attached as a field
// rather than a prefix, so it stays queryable once shipped to a log sink.
func For(component string) *Logger {
	return &Logger{entry: base.WithField("component", component)}
}

func (l *Logger) WithFields(f Fields) *logrus.Entry {
	return l.entry.WithFields(f)
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Section logs a banner-style line marking a phase transition (handshake
// complete, teardown, convergence reached) — the structured equivalent of
// the teacher's pkg/logger.Section.
func (l *Logger) Section(title string, fields Fields) {
	l.entry.WithFields(fields).Infof("=== %s ===", title)
}
