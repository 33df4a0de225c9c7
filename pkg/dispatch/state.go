package dispatch

import (
	"fmt"
	"sync"

	"github.com/bft-labs/logsink/pkg/log"
)

// State represents the dispatcher's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateFlushing
	StateStopping
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateFlushing:
		return "Flushing"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:     {StateWaiting, StateStopping},
	StateWaiting:  {StateFlushing, StateStopping},
	StateFlushing: {StateWaiting, StateStopping},
	StateStopping: {StateStopped},
}

// stateMachine guards the dispatcher state.
type stateMachine struct {
	mu      sync.RWMutex
	state   State
	logger  log.Logger
	onState func(previous, current State)
}

func newStateMachine(logger log.Logger, onState func(previous, current State)) *stateMachine {
	return &stateMachine{
		state:   StateIdle,
		logger:  logger,
		onState: onState,
	}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TransitionTo moves to newState or returns ErrInvalidTransition.
func (m *stateMachine) TransitionTo(newState State) error {
	m.mu.Lock()
	oldState := m.state

	allowed := false
	for _, s := range validTransitions[oldState] {
		if s == newState {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
	}

	m.state = newState
	m.mu.Unlock()

	// Emit outside of lock
	if m.onState != nil {
		m.onState(oldState, newState)
	}

	fields := []log.Field{
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
	}
	if newState == StateStopping || newState == StateStopped || oldState == StateIdle {
		m.logger.Info("dispatcher state transition", fields...)
	} else {
		m.logger.Debug("dispatcher state transition", fields...)
	}

	return nil
}
