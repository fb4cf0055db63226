package metacache

import "maps"

// Fields are the structured context of one log line: namespace, op, object type
// and whatever the event adds.
type Fields map[string]any

// Logger receives the cache's own diagnostics. Adapters for zap, logrus and slog
// live under log/. A nil Logger in Options inherits the registry's.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// with extends a copy of f by key/value pairs; non-string keys are skipped.
func (f Fields) with(kv ...any) Fields {
	out := make(Fields, len(f)+len(kv)/2)
	maps.Copy(out, f)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out[k] = kv[i+1]
		}
	}
	return out
}
