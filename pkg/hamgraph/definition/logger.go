// Package definition holds the small ambient capabilities shared by every
// other package: the Logger interface and its default implementation, and
// the Invoker capability used to spawn and drain background goroutines.
package definition

import (
	"github.com/sirupsen/logrus"
)

// Logger is the capability every component logs through. The shape is kept
// from the teacher (Info/Warn/Error/Debug, each with an -f variant) so a
// caller can plug in any implementation without the core depending on a
// concrete logging library.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
}

// DefaultLogger is the logrus-backed implementation used when a caller does
// not provide its own. Fields let callers attach structured context (peer
// id, relay name, query id) without changing the Logger interface.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a DefaultLogger writing structured, leveled output
// through logrus. debug toggles whether Debug/Debugf are emitted.
func NewDefaultLogger(debug bool) *DefaultLogger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &DefaultLogger{entry: logrus.NewEntry(l)}
}

// WithFields returns a DefaultLogger that attaches the given fields to every
// subsequent log line, used to tag log output with a peer or relay name.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) *DefaultLogger {
	return &DefaultLogger{entry: l.entry.WithFields(fields)}
}

func (l *DefaultLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}
func (l *DefaultLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
