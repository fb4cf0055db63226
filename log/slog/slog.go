// Package slog adapts a *slog.Logger to metacache.Logger.
package slog

import (
	"context"
	stdslog "log/slog"
	"maps"
	"slices"

	"github.com/unkn0wn-root/metacache"
)

var _ metacache.Logger = Logger{}

type Logger struct{ l *stdslog.Logger }

// New tags every record with component=metacache.
func New(l *stdslog.Logger) Logger { return Logger{l: l.With("component", "metacache")} }

func (s Logger) Debug(msg string, f metacache.Fields) { s.write(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f metacache.Fields)  { s.write(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f metacache.Fields)  { s.write(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f metacache.Fields) { s.write(stdslog.LevelError, msg, f) }

func (s Logger) write(level stdslog.Level, msg string, f metacache.Fields) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]stdslog.Attr, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		attrs = append(attrs, stdslog.Any(k, f[k]))
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}
