// Package zap adapts a *zap.Logger to metacache.Logger.
package zap

import (
	"maps"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/metacache"
)

var _ metacache.Logger = Logger{}

type Logger struct{ l *zap.Logger }

// New names the logger "metacache".
func New(l *zap.Logger) Logger { return Logger{l: l.Named("metacache")} }

func (z Logger) Debug(msg string, f metacache.Fields) { z.write(zapcore.DebugLevel, msg, f) }
func (z Logger) Info(msg string, f metacache.Fields)  { z.write(zapcore.InfoLevel, msg, f) }
func (z Logger) Warn(msg string, f metacache.Fields)  { z.write(zapcore.WarnLevel, msg, f) }
func (z Logger) Error(msg string, f metacache.Fields) { z.write(zapcore.ErrorLevel, msg, f) }

// write builds fields only for entries the core will take.
func (z Logger) write(lvl zapcore.Level, msg string, f metacache.Fields) {
	ce := z.l.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(fields(f)...)
}

func fields(f metacache.Fields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
