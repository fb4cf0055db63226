// Package logrus adapts a *logrus.Logger to metacache.Logger. An error under the
// "err" field is attached with WithError, so it lands under logrus.ErrorKey.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/metacache"
)

var _ metacache.Logger = Logger{}

type Logger struct{ e *logrus.Entry }

// New tags every entry with component=metacache.
func New(l *logrus.Logger) Logger {
	return Logger{e: l.WithField("component", "metacache")}
}

func (l Logger) Debug(msg string, f metacache.Fields) { l.write(logrus.DebugLevel, msg, f) }
func (l Logger) Info(msg string, f metacache.Fields)  { l.write(logrus.InfoLevel, msg, f) }
func (l Logger) Warn(msg string, f metacache.Fields)  { l.write(logrus.WarnLevel, msg, f) }
func (l Logger) Error(msg string, f metacache.Fields) { l.write(logrus.ErrorLevel, msg, f) }

func (l Logger) write(lvl logrus.Level, msg string, f metacache.Fields) {
	if !l.e.Logger.IsLevelEnabled(lvl) {
		return
	}
	e := l.e
	data := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		data[k] = v
	}
	e.WithFields(data).Log(lvl, msg)
}
