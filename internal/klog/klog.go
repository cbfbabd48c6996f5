// Package klog is the kernel's structured-logging sink, wrapping
// github.com/sirupsen/logrus the way nydus-snapshotter wires it through
// its subsystems: one shared *logrus.Logger, fields attached per
// subsystem ("component": "bufc", "component": "chkfs", ...) instead of
// the teacher's own ad hoc fmt.Printf kernel console writes.
package klog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the component-scoped handle cmd/pugos hands to BUFC; it
// satisfies bufc.Logger's Warnf without either package importing
// logrus directly.
type Logger struct {
	entry *logrus.Entry
}

// New builds the root logger, writing to w (os.Stderr in cmd/pugos,
// a buffer in tests) at the given level.
func New(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Component scopes l with a "component" field, mirroring the
// subsystem-tagged log lines k-chkfs.cc/k-alloc.cc's cprintf calls
// produce ad hoc.
func Component(l *logrus.Logger, name string) *Logger {
	return &Logger{entry: l.WithField("component", name)}
}

func (lg *Logger) Warnf(format string, args ...interface{}) { lg.entry.Warnf(format, args...) }
func (lg *Logger) Infof(format string, args ...interface{}) { lg.entry.Infof(format, args...) }
func (lg *Logger) Debugf(format string, args ...interface{}) { lg.entry.Debugf(format, args...) }
func (lg *Logger) Errorf(format string, args ...interface{}) { lg.entry.Errorf(format, args...) }

// Default is a convenience root logger writing to stderr at Info level,
// used by tests and small tools that don't need a custom sink.
func Default() *logrus.Logger {
	return New(os.Stderr, logrus.InfoLevel)
}
