package batch

import (
	"github.com/google/uuid"

	"github.com/bft-labs/logsink/pkg/event"
)

// Batch is an ordered group of events delivered together.
// It is built for one delivery attempt (and its retries) and then discarded.
type Batch struct {
	// Seq is the per-sink sequence number, starting at 1.
	Seq uint64

	// ID correlates the batch across transports that carry headers.
	ID uuid.UUID

	// Events in arrival order.
	Events []event.LogEvent
}

// New creates a batch with a fresh ID.
func New(seq uint64, events []event.LogEvent) *Batch {
	return &Batch{
		Seq:    seq,
		ID:     uuid.New(),
		Events: events,
	}
}

// Size returns the number of events in the batch.
func (b *Batch) Size() int {
	return len(b.Events)
}

// Empty returns true if the batch has no events.
func (b *Batch) Empty() bool {
	return len(b.Events) == 0
}
