package backend

import "sync/atomic"

// State is the connection lifecycle state of a backend. Transitions are
// owned by the implementation; readers observe a single source of truth
// instead of a set of independent boolean flags.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDraining
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StateVar is an atomically updated State, embeddable by implementations.
type StateVar struct {
	v atomic.Int32
}

// Load returns the current state.
func (s *StateVar) Load() State {
	return State(s.v.Load())
}

// Store sets the state unconditionally.
func (s *StateVar) Store(next State) {
	s.v.Store(int32(next))
}

// CompareAndSwap transitions from prev to next, reporting success.
func (s *StateVar) CompareAndSwap(prev, next State) bool {
	return s.v.CompareAndSwap(int32(prev), int32(next))
}
