package sink

import (
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/logsink/pkg/dispatch"
	"github.com/bft-labs/logsink/pkg/event"
)

// State is the dispatcher state reported by Status.
type State = dispatch.State

// Dispatcher states.
const (
	StateIdle     = dispatch.StateIdle
	StateWaiting  = dispatch.StateWaiting
	StateFlushing = dispatch.StateFlushing
	StateStopping = dispatch.StateStopping
	StateStopped  = dispatch.StateStopped
)

// EventHandler receives notifications about sink activity.
// Embed BaseEventHandler to implement only the methods you need.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnDeliverySuccess(DeliverySuccessEvent)
	OnDeliveryError(DeliveryErrorEvent)
	OnDrop(DropEvent)
}

// StateChangeEvent is emitted on every dispatcher state transition.
type StateChangeEvent struct {
	Previous  State
	Current   State
	Timestamp time.Time
}

// DeliverySuccessEvent is emitted after a batch was handed off.
type DeliverySuccessEvent struct {
	Seq      uint64
	BatchID  uuid.UUID
	Count    int
	Duration time.Duration
}

// DeliveryErrorEvent is emitted when a batch is discarded.
type DeliveryErrorEvent struct {
	Seq      uint64
	BatchID  uuid.UUID
	Count    int
	Attempts int
	Error    error
}

// DropEvent is emitted when the buffer refuses an event.
type DropEvent struct {
	Event  event.LogEvent
	Reason error
}

// BaseEventHandler provides no-op implementations of EventHandler.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)         {}
func (BaseEventHandler) OnDeliverySuccess(DeliverySuccessEvent) {}
func (BaseEventHandler) OnDeliveryError(DeliveryErrorEvent)     {}
func (BaseEventHandler) OnDrop(DropEvent)                       {}
