package target

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/logsink/pkg/event"
)

var (
	// ErrInvalidAddress is returned by Resolve for malformed addresses.
	ErrInvalidAddress = errors.New("logsink: invalid target address")

	// ErrUnknownRecipient is returned when no mailbox is registered at the path.
	ErrUnknownRecipient = errors.New("logsink: unknown recipient")

	// ErrMailboxFull is returned when a mailbox cannot accept another message.
	ErrMailboxFull = errors.New("logsink: mailbox full")

	// ErrTargetClosed is returned by Tell after Close.
	ErrTargetClosed = errors.New("logsink: target closed")
)

// Message is one converted event ready for hand-off.
type Message struct {
	Timestamp time.Time
	Level     event.Level
	Body      any
}

// Envelope carries a batch of messages to a BatchTarget.
type Envelope struct {
	ID       uuid.UUID
	Seq      uint64
	Messages []Message
}

// Target hands messages to a recipient.
type Target interface {
	// Tell posts one message. It must honour ctx cancellation where the
	// transport allows it.
	Tell(ctx context.Context, msg Message) error

	// Close releases transport resources.
	Close() error
}

// BatchTarget is implemented by targets that send a whole batch per call.
type BatchTarget interface {
	Target
	TellBatch(ctx context.Context, env Envelope) error
}

// HTTPClient abstracts HTTP request execution for testing and custom transports.
// The standard *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures Resolve.
type Option func(*options)

type options struct {
	registry    *Registry
	httpClient  HTTPClient
	gzip        bool
	dialTimeout time.Duration
}

func defaultOptions() options {
	return options{
		registry:    DefaultRegistry,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		dialTimeout: 5 * time.Second,
	}
}

// WithRegistry resolves mailbox addresses against r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithHTTPClient sets the client used by http(s) targets.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithGzip compresses http(s) request bodies.
func WithGzip(enabled bool) Option {
	return func(o *options) {
		o.gzip = enabled
	}
}

// WithDialTimeout bounds connection setup for forward targets.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// Resolve builds the Target for address.
func Resolve(address string, opts ...Option) (Target, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mailbox", "akka":
		path := mailboxPath(u)
		if path == "" {
			return nil, fmt.Errorf("%w: mailbox path is empty", ErrInvalidAddress)
		}
		return newMailboxTarget(o.registry, path), nil
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host", ErrInvalidAddress)
		}
		return newHTTPTarget(u.String(), o.httpClient, o.gzip), nil
	case "forward", "fluent":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host", ErrInvalidAddress)
		}
		tag := strings.Trim(u.Path, "/")
		if tag == "" {
			tag = DefaultForwardTag
		}
		tag = strings.ReplaceAll(tag, "/", ".")
		if strings.EqualFold(u.Scheme, "fluent") {
			return newFluentTarget(u.Host, tag, o.dialTimeout)
		}
		return newForwardTarget(u.Host, tag, o.dialTimeout), nil
	case "":
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidAddress, address)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
}

func mailboxPath(u *url.URL) string {
	return strings.Trim(u.Host+u.Path, "/")
}
