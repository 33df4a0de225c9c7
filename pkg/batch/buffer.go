package batch

import (
	"errors"
	"sync"

	"github.com/bft-labs/logsink/pkg/event"
)

var (
	// ErrBufferClosed is reported when an event arrives after Close.
	ErrBufferClosed = errors.New("logsink: buffer closed")

	// ErrBufferFull is reported when a bounded buffer is at capacity.
	ErrBufferFull = errors.New("logsink: buffer full")
)

// DropFunc receives every event the buffer refuses, with the reason.
// It runs on the producer's goroutine and must not block.
type DropFunc func(e event.LogEvent, reason error)

// Buffer is a FIFO queue safe for any number of producers and one consumer.
type Buffer struct {
	mu     sync.Mutex
	queue  []event.LogEvent
	head   int
	closed bool

	limit      int
	queueLimit int
	ready      chan struct{}
	onDrop     DropFunc

	dropped uint64
}

// NewBuffer creates a buffer that signals Ready once limit events are queued.
// queueLimit <= 0 means unbounded. onDrop may be nil.
func NewBuffer(limit, queueLimit int, onDrop DropFunc) *Buffer {
	if limit <= 0 {
		limit = 1
	}
	return &Buffer{
		queue:      make([]event.LogEvent, 0, limit),
		limit:      limit,
		queueLimit: queueLimit,
		ready:      make(chan struct{}, 1),
		onDrop:     onDrop,
	}
}

// Enqueue appends e. It returns false if the event was dropped.
func (b *Buffer) Enqueue(e event.LogEvent) bool {
	b.mu.Lock()
	var reason error
	switch {
	case b.closed:
		reason = ErrBufferClosed
	case b.queueLimit > 0 && b.lenLocked() >= b.queueLimit:
		reason = ErrBufferFull
	}
	if reason != nil {
		b.dropped++
		b.mu.Unlock()
		if b.onDrop != nil {
			b.onDrop(e, reason)
		}
		return false
	}

	b.queue = append(b.queue, e)
	full := b.lenLocked() >= b.limit
	b.mu.Unlock()

	if full {
		b.signal()
	}
	return true
}

// Ready is signaled when at least limit events are waiting.
// The channel holds at most one pending signal.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

func (b *Buffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns up to max events in FIFO order.
// It returns nil when the buffer is empty.
func (b *Buffer) Drain(max int) []event.LogEvent {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.lenLocked()
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}

	out := make([]event.LogEvent, n)
	copy(out, b.queue[b.head:b.head+n])
	b.advanceLocked(n)
	return out
}

// DrainAll removes everything, split into chunks of at most limit events.
func (b *Buffer) DrainAll() [][]event.LogEvent {
	b.mu.Lock()
	rest := make([]event.LogEvent, b.lenLocked())
	copy(rest, b.queue[b.head:])
	b.advanceLocked(len(rest))
	b.mu.Unlock()

	if len(rest) == 0 {
		return nil
	}

	chunks := make([][]event.LogEvent, 0, (len(rest)+b.limit-1)/b.limit)
	for len(rest) > 0 {
		n := b.limit
		if n > len(rest) {
			n = len(rest)
		}
		chunks = append(chunks, rest[:n:n])
		rest = rest[n:]
	}
	return chunks
}

// advanceLocked drops n consumed events from the front of the queue.
func (b *Buffer) advanceLocked(n int) {
	// clear references so drained events can be collected
	for i := b.head; i < b.head+n; i++ {
		b.queue[i] = event.LogEvent{}
	}
	b.head += n

	if b.head == len(b.queue) {
		b.queue = b.queue[:0]
		b.head = 0
		return
	}
	if b.head > cap(b.queue)/2 {
		remaining := copy(b.queue, b.queue[b.head:])
		for i := remaining; i < len(b.queue); i++ {
			b.queue[i] = event.LogEvent{}
		}
		b.queue = b.queue[:remaining]
		b.head = 0
	}
}

func (b *Buffer) lenLocked() int {
	return len(b.queue) - b.head
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

// Limit returns the batch posting limit the buffer signals on.
func (b *Buffer) Limit() int {
	return b.limit
}

// Close stops admission. Queued events stay available to Drain and DrainAll.
// Calling Close more than once has no effect.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Dropped returns the number of events refused so far.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
