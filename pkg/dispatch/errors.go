package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdownTimeout is returned by Stop when the drain outlives ShutdownTimeout.
	ErrShutdownTimeout = errors.New("logsink: shutdown timeout")

	// ErrDeliveryTimeout is wrapped by DeliveryError when the target did not
	// return within DeliveryTimeout.
	ErrDeliveryTimeout = errors.New("logsink: delivery timeout")

	// ErrInvalidTransition is returned for state changes the machine forbids.
	ErrInvalidTransition = errors.New("logsink: invalid state transition")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("logsink: dispatcher already started")
)

// DeliveryError describes a batch that was discarded.
type DeliveryError struct {
	Seq      uint64
	Size     int
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver batch %d (%d events, %d attempts): %v", e.Seq, e.Size, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// conversionError marks failures that retrying cannot fix.
type conversionError struct {
	index int
	err   error
}

func (e *conversionError) Error() string {
	return fmt.Sprintf("convert event %d: %v", e.index, e.err)
}

func (e *conversionError) Unwrap() error {
	return e.err
}
