package recognize

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recognizer.
type State int

const (
	// StateFilling - Window is below capacity.
	StateFilling State = iota
	// StateSliding - Window is at capacity; each chunk evicts the oldest.
	StateSliding
	// StateStopped - Input ended or the recognizer was stopped. Terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateFilling:
		return "FILLING"
	case StateSliding:
		return "SLIDING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// ErrStopped is returned when a stopped lifecycle is advanced.
var ErrStopped = errors.New("recognizer is stopped")

// Lifecycle manages the state machine for one recognition session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	FILLING → SLIDING → STOPPED
//	   │                   ▲
//	   └───────────────────┘ Stop() from any state
//
// Rules:
//   - FILLING: window below capacity; Advance moves to SLIDING once it is full
//   - SLIDING: steady state; window length stays at capacity
//   - STOPPED: Advance returns ErrStopped; Stop is a no-op
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
	windows   int
}

// NewLifecycle creates a new lifecycle in FILLING state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateFilling,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Windows returns the number of windows advanced through so far.
func (l *Lifecycle) Windows() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.windows
}

// IsStopped returns true once the lifecycle reached STOPPED.
func (l *Lifecycle) IsStopped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Advance records a window of windowLen chunks against the given capacity.
// A capacity of 0 means unbounded and never leaves FILLING.
func (l *Lifecycle) Advance(windowLen, capacity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateFilling:
		if capacity > 0 && windowLen >= capacity {
			l.state = StateSliding
		}
	case StateSliding:
		// Steady state.
	case StateStopped:
		return ErrStopped
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
	l.windows++
	return nil
}

// Stop transitions to STOPPED.
// Returns true if the lifecycle was stopped, false if it already was.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateStopped
	return true
}
