package target

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
)

// fluentTarget posts one Message-mode record per Tell through the fluent
// logger client. The client is created on first use and replaced after a
// failed post.
type fluentTarget struct {
	host        string
	port        int
	tag         string
	dialTimeout time.Duration

	mu     sync.Mutex
	client *fluent.Fluent
	closed bool
}

func newFluentTarget(hostport, tag string, dialTimeout time.Duration) (*fluentTarget, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidAddress, portStr)
	}
	return &fluentTarget{host: host, port: port, tag: tag, dialTimeout: dialTimeout}, nil
}

// Tell posts msg with its event timestamp.
func (t *fluentTarget) Tell(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTargetClosed
	}

	if t.client == nil {
		client, err := fluent.New(fluent.Config{
			FluentHost:   t.host,
			FluentPort:   t.port,
			Timeout:      t.dialTimeout,
			WriteTimeout: t.dialTimeout,
			MaxRetry:     1,
			RetryWait:    100,
		})
		if err != nil {
			return fmt.Errorf("connect fluent %s:%d: %w", t.host, t.port, err)
		}
		t.client = client
	}

	if err := t.client.PostWithTime(t.tag, msg.Timestamp, forwardRecord(msg)); err != nil {
		_ = t.client.Close()
		t.client = nil
		return fmt.Errorf("post to fluent: %w", err)
	}
	return nil
}

// Close closes the client. Later calls to Tell fail.
func (t *fluentTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
