package main

import (
	"sync"

	"github.com/bft-labs/logsink/pkg/event"
	"github.com/bft-labs/logsink/pkg/sink"
)

// reloadingSink forwards events to a sink that can be replaced while
// producers keep emitting. The replaced sink is closed, which flushes it.
type reloadingSink struct {
	mu      sync.RWMutex
	current *sink.Sink

	// serializes Reload and Close
	swapMu sync.Mutex
	closed bool
}

func newReloadingSink(s *sink.Sink) *reloadingSink {
	return &reloadingSink{current: s}
}

func (r *reloadingSink) Emit(e event.LogEvent) {
	r.mu.RLock()
	r.current.Emit(e)
	r.mu.RUnlock()
}

// Reload builds a replacement with build and swaps it in. On error the
// current sink stays in place.
func (r *reloadingSink) Reload(build func() (*sink.Sink, error)) error {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()

	if r.closed {
		return nil
	}

	next, err := build()
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	return prev.Close()
}

func (r *reloadingSink) Sink() *sink.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *reloadingSink) Close() error {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()
	r.closed = true
	return r.Sink().Close()
}
