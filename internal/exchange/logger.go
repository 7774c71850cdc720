package exchange

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the leveled logging facade threaded through every component,
// matching the severities the error-handling design names: debug for
// routine sanity-gate rejections, warning for dropped/retried messages and
// payloads skipped at commit, fatal for structural impossibilities. Error
// is used only when Dump is asked for that severity.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// logrusLogger backs Logger with a structured logrus entry tagged with the
// component name.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger returns the Logger used when no collaborator Logger is
// supplied. Every instance is tagged with a random instance id so logs from
// several nodes in the same process (as in the scenario tests) can still be
// told apart.
func NewDefaultLogger() Logger {
	l := logrus.New()
	return &logrusLogger{entry: l.WithField("component", "exchange").WithField("instance", uuid.New().String())}
}

func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }
