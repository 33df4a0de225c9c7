// Package dispatch runs the background loop that turns buffered events into
// timed batch deliveries.
//
// A [Dispatcher] owns the only goroutine that talks to the delivery target.
// It wakes on the configured period or when the buffer holds a full batch,
// drains at most BatchPostingLimit events, converts them and hands them to
// the target. Empty batches are never delivered.
//
// # State Machine
//
// Valid state transitions:
//   - Idle -> Waiting, Stopping
//   - Waiting -> Flushing, Stopping
//   - Flushing -> Waiting, Stopping
//   - Stopping -> Stopped
//
// Stopped is terminal.
//
// # Failures
//
// A failed delivery is logged to the diagnostics logger and the batch is
// discarded. With MaxRetries > 0 the batch is retried with exponential
// backoff first. Retries never happen during the shutdown drain. Nothing is
// ever reported to producers.
//
// # Shutdown
//
// Stop closes the buffer to new events, wakes the loop, delivers everything
// that is left in chunks of at most BatchPostingLimit, and waits up to
// ShutdownTimeout for the loop to finish.
package dispatch
