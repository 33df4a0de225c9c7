package target

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync"
)

// DefaultMailboxCapacity is used by Register when capacity is not positive.
const DefaultMailboxCapacity = 1024

// Registry maps mailbox paths to mailboxes.
type Registry struct {
	// writers serialise replace-and-close; lookups stay lock-free
	writeMu sync.Mutex
	boxes   *xsync.MapOf[*Mailbox]
}

// DefaultRegistry is the process-wide registry used by Resolve.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{boxes: xsync.NewMapOf[*Mailbox]()}
}

// Register creates a mailbox at path, replacing any existing one (which is closed).
func (r *Registry) Register(path string, capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	path = strings.Trim(path, "/")
	mb := &Mailbox{path: path, ch: make(chan any, capacity)}

	r.writeMu.Lock()
	old, loaded := r.boxes.Load(path)
	r.boxes.Store(path, mb)
	r.writeMu.Unlock()

	if loaded {
		old.Close()
	}
	return mb
}

// Unregister removes and closes the mailbox at path.
func (r *Registry) Unregister(path string) {
	r.writeMu.Lock()
	mb, ok := r.boxes.LoadAndDelete(strings.Trim(path, "/"))
	r.writeMu.Unlock()

	if ok {
		mb.Close()
	}
}

// Lookup returns the mailbox at path.
func (r *Registry) Lookup(path string) (*Mailbox, bool) {
	return r.boxes.Load(strings.Trim(path, "/"))
}

// Register creates a mailbox in DefaultRegistry.
func Register(path string, capacity int) *Mailbox {
	return DefaultRegistry.Register(path, capacity)
}

// Mailbox is an in-process recipient. Messages are read from Receive.
type Mailbox struct {
	path string

	mu     sync.RWMutex
	ch     chan any
	closed bool
}

// Path returns the registered path.
func (m *Mailbox) Path() string {
	return m.path
}

// Receive returns the channel messages arrive on. It is closed by Close.
func (m *Mailbox) Receive() <-chan any {
	return m.ch
}

// Post enqueues msg without blocking.
func (m *Mailbox) Post(msg any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, m.path)
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, m.path)
	}
}

// Close closes the receive channel. Later posts fail.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// mailboxTarget tells a mailbox looked up by path on every call.
type mailboxTarget struct {
	registry *Registry
	path     string
}

func newMailboxTarget(r *Registry, path string) *mailboxTarget {
	return &mailboxTarget{registry: r, path: path}
}

// Tell posts the message body to the mailbox.
func (t *mailboxTarget) Tell(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mb, ok := t.registry.Lookup(t.path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, t.path)
	}
	return mb.Post(msg.Body)
}

// Close is a no-op; mailboxes are owned by their registry.
func (t *mailboxTarget) Close() error {
	return nil
}
