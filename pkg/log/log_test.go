package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/logsink/pkg/event"
)

type recordingLogger struct {
	NoopLogger
	msgs []string
}

func (r *recordingLogger) Warn(msg string, fields ...Field) {
	r.msgs = append(r.msgs, msg)
}

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerologAdapterWithLogger(zerolog.New(&buf)).Component("dispatcher")

	z.Error("delivery failed",
		String("address", "mailbox://app/logs"),
		Int("size", 3),
		Uint64("seq", 7),
		Duration("elapsed", time.Second),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}

	checks := map[string]any{
		"level":     "error",
		"message":   "delivery failed",
		"component": "dispatcher",
		"address":   "mailbox://app/logs",
		"size":      float64(3),
		"seq":       float64(7),
		"error":     "boom",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("entry[%q] = %v, want %v", k, entry[k], want)
		}
	}
}

func TestZerologAdapter_DisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerologAdapterWithLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	z.Debug("hidden", String("k", "v"))
	if buf.Len() != 0 {
		t.Errorf("expected no output for disabled level, got %q", buf.String())
	}
}

func TestSelfLog(t *testing.T) {
	t.Cleanup(func() { SetSelfLog(nil) })

	if _, ok := SelfLog().(NoopLogger); !ok {
		t.Fatalf("default SelfLog() = %T, want NoopLogger", SelfLog())
	}

	d := Deferred()
	rec := &recordingLogger{}
	SetSelfLog(rec)

	d.Warn("queue full")
	if len(rec.msgs) != 1 || rec.msgs[0] != "queue full" {
		t.Errorf("deferred logger did not reach installed self-log: %v", rec.msgs)
	}

	SetSelfLog(nil)
	d.Warn("dropped")
	if len(rec.msgs) != 1 {
		t.Errorf("self-log still receiving after reset: %v", rec.msgs)
	}
}

func TestLevelField(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerologAdapterWithLogger(zerolog.New(&buf))

	z.Warn("dropping event", Level(event.Fatal))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warn" || entry["event_level"] != "Fatal" {
		t.Errorf("unexpected entry %v", entry)
	}
}
