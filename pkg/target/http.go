package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Headers set on every http(s) delivery.
const (
	HeaderBatchID  = "X-Logsink-Batch-Id"
	HeaderBatchSeq = "X-Logsink-Batch-Seq"
	HeaderCount    = "X-Logsink-Count"
	HeaderHostname = "X-Logsink-Hostname"
	HeaderOSArch   = "X-Logsink-OSArch"
)

// WireMessage is the JSON shape of one message on http(s) targets.
type WireMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   any       `json:"message"`
}

// httpTarget posts each batch as one JSON array.
type httpTarget struct {
	url      string
	client   HTTPClient
	gzip     bool
	hostname string
}

func newHTTPTarget(url string, client HTTPClient, gz bool) *httpTarget {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &httpTarget{
		url:      url,
		client:   client,
		gzip:     gz,
		hostname: host,
	}
}

// Tell sends a single message as a one-element batch.
func (t *httpTarget) Tell(ctx context.Context, msg Message) error {
	return t.TellBatch(ctx, Envelope{ID: uuid.New(), Messages: []Message{msg}})
}

// TellBatch posts the envelope.
func (t *httpTarget) TellBatch(ctx context.Context, env Envelope) error {
	if len(env.Messages) == 0 {
		return nil
	}

	wire := make([]WireMessage, len(env.Messages))
	for i, m := range env.Messages {
		wire[i] = WireMessage{Timestamp: m.Timestamp, Level: m.Level.String(), Message: m.Body}
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	var body bytes.Buffer
	if t.gzip {
		zw := gzip.NewWriter(&body)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
	} else {
		body.Write(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.Header.Set(HeaderBatchID, env.ID.String())
	req.Header.Set(HeaderBatchSeq, strconv.FormatUint(env.Seq, 10))
	req.Header.Set(HeaderCount, strconv.Itoa(len(env.Messages)))
	req.Header.Set(HeaderHostname, t.hostname)
	req.Header.Set(HeaderOSArch, runtime.GOOS+"/"+runtime.GOARCH)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// Close releases idle connections when the client supports it.
func (t *httpTarget) Close() error {
	if c, ok := t.client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// DecodeHTTPBatch reads a request body written by an http(s) target.
func DecodeHTTPBatch(r *http.Request) ([]WireMessage, error) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	var msgs []WireMessage
	if err := json.NewDecoder(reader).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return msgs, nil
}
