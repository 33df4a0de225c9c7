package log

import (
	"time"

	"github.com/bft-labs/logsink/pkg/event"
)

// Logger receives the sink's own diagnostics.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is one key/value attached to a diagnostic entry.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d}
}

// Level records the level of a shipped event. The key is event_level so it
// does not collide with the diagnostic entry's own level.
func Level(l event.Level) Field {
	return Field{Key: "event_level", Value: l.String()}
}

// Err records err under the key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// NoopLogger discards everything.
type NoopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return NoopLogger{} }

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field)  {}
func (NoopLogger) Warn(string, ...Field)  {}
func (NoopLogger) Error(string, ...Field) {}
