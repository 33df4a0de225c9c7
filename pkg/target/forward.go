package target

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v4"
	"github.com/vmihailenco/msgpack/v4/codes"
)

// DefaultForwardTag is used when a forward address carries no path.
const DefaultForwardTag = "logsink"

// forwardTarget writes fluentd Forward-mode messages over one TCP connection.
// The connection is dialed lazily and dropped after any write error.
type forwardTarget struct {
	addr        string
	tag         string
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newForwardTarget(addr, tag string, dialTimeout time.Duration) *forwardTarget {
	return &forwardTarget{addr: addr, tag: tag, dialTimeout: dialTimeout}
}

// Tell sends one message as a single-entry forward message.
func (t *forwardTarget) Tell(ctx context.Context, msg Message) error {
	return t.TellBatch(ctx, Envelope{ID: uuid.New(), Messages: []Message{msg}})
}

// TellBatch sends all messages in one forward message.
func (t *forwardTarget) TellBatch(ctx context.Context, env Envelope) error {
	if len(env.Messages) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := encodeForward(msgpack.NewEncoder(&buf), t.tag, env.Messages); err != nil {
		return fmt.Errorf("encode forward message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTargetClosed
	}

	conn, err := t.connLocked(ctx)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		t.resetLocked()
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		t.resetLocked()
		return fmt.Errorf("write forward message: %w", err)
	}
	return nil
}

func (t *forwardTarget) connLocked(ctx context.Context) (net.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return conn, nil
}

func (t *forwardTarget) resetLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Close closes the connection. Later calls to Tell fail.
func (t *forwardTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// encodeForward writes [tag, [[time, record], ...]].
func encodeForward(enc *msgpack.Encoder, tag string, msgs []Message) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(tag); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(msgs)); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeInt(m.Timestamp.Unix()); err != nil {
			return err
		}
		if err := enc.Encode(forwardRecord(m)); err != nil {
			return err
		}
	}
	return nil
}

func forwardRecord(m Message) map[string]interface{} {
	if fields, ok := m.Body.(map[string]any); ok {
		rec := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			rec[k] = v
		}
		if _, ok := rec["level"]; !ok {
			rec["level"] = m.Level.String()
		}
		return rec
	}
	return map[string]interface{}{
		"level":   m.Level.String(),
		"message": m.Body,
	}
}

// ForwardEntry is one decoded [time, record] pair.
type ForwardEntry struct {
	Time   time.Time
	Record map[string]interface{}
}

// ForwardReader decodes Forward-mode and Message-mode messages from a stream.
type ForwardReader struct {
	dec *msgpack.Decoder
}

// NewForwardReader creates a reader over r.
func NewForwardReader(r io.Reader) *ForwardReader {
	return &ForwardReader{dec: msgpack.NewDecoder(r)}
}

// Next decodes the next message. It returns io.EOF at end of stream.
// A Message-mode message yields a single entry.
func (fr *ForwardReader) Next() (string, []ForwardEntry, error) {
	n, err := fr.dec.DecodeArrayLen()
	if err != nil {
		return "", nil, err
	}
	if n < 2 {
		return "", nil, fmt.Errorf("forward message has %d elements", n)
	}

	tag, err := fr.dec.DecodeString()
	if err != nil {
		return "", nil, fmt.Errorf("decode tag: %w", err)
	}

	code, err := fr.dec.PeekCode()
	if err != nil {
		return "", nil, fmt.Errorf("decode entries: %w", err)
	}

	var (
		entries  []ForwardEntry
		consumed int
	)
	if isArrayCode(code) {
		entries, err = fr.decodeEntries()
		consumed = 2
	} else {
		if n < 3 {
			return "", nil, fmt.Errorf("message mode has %d elements", n)
		}
		var entry ForwardEntry
		entry, err = fr.decodeEntry()
		entries = []ForwardEntry{entry}
		consumed = 3
	}
	if err != nil {
		return "", nil, err
	}

	// option map
	for i := consumed; i < n; i++ {
		if err := fr.dec.Skip(); err != nil {
			return "", nil, fmt.Errorf("skip option: %w", err)
		}
	}

	return tag, entries, nil
}

func (fr *ForwardReader) decodeEntries() ([]ForwardEntry, error) {
	count, err := fr.dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}

	entries := make([]ForwardEntry, 0, count)
	for i := 0; i < count; i++ {
		if _, err := fr.dec.DecodeArrayLen(); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		entry, err := fr.decodeEntry()
		if err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeEntry reads a time followed by a record.
func (fr *ForwardReader) decodeEntry() (ForwardEntry, error) {
	sec, err := fr.dec.DecodeInt64()
	if err != nil {
		return ForwardEntry{}, fmt.Errorf("time: %w", err)
	}
	var rec map[string]interface{}
	if err := fr.dec.Decode(&rec); err != nil {
		return ForwardEntry{}, fmt.Errorf("record: %w", err)
	}
	return ForwardEntry{Time: time.Unix(sec, 0), Record: rec}, nil
}

func isArrayCode(c codes.Code) bool {
	return codes.IsFixedArray(c) || c == codes.Array16 || c == codes.Array32
}
