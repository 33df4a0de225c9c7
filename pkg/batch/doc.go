// Package batch provides the event buffer that decouples producers from the
// delivery cadence, and the Batch value handed to the dispatcher.
//
// # Usage
//
// Producers enqueue from any goroutine; a single consumer drains:
//
//	buf := batch.NewBuffer(5, 0, nil) // limit 5, unbounded queue
//
//	buf.Enqueue(e) // never blocks
//
//	select {
//	case <-buf.Ready(): // at least one full batch is waiting
//	case <-ticker.C:
//	}
//	events := buf.Drain(5)
//
// On shutdown, Close stops admission and DrainAll returns whatever is left,
// split into chunks no larger than the limit.
//
// # Overflow
//
// With a positive queue limit the buffer is bounded: an Enqueue on a full
// buffer drops the newest event (the one being enqueued) and reports it to
// the DropFunc. Producers are never blocked.
package batch
