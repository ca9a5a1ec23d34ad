// Package connection tracks every peer the node knows about: its durable
// record, its lifecycle state machine, and the reconnection schedule that
// keeps the reachable set current.
package connection

import "errors"

// Connection errors.
var (
	ErrPeerNotFound      = errors.New("peer not found")
	ErrNotConnected      = errors.New("peer is not connected")
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrPeerFailed        = errors.New("peer is failed and requires external intervention")
	ErrAlreadyConnected  = errors.New("peer is already connected")
	ErrAlreadyConnecting = errors.New("peer connect already in progress")
)

// State is one stage of the peer connection lifecycle.
type State string

// Lifecycle states. Failed is terminal until an operator or external
// signal re-enters Discovering.
const (
	StateDiscovering    State = "discovering"
	StateConnecting     State = "connecting"
	StateChannelOpening State = "channel_opening"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateFailed         State = "failed"
)

var _transitions = map[State][]State{
	StateDiscovering:    {StateConnecting, StateDisconnected},
	StateConnecting:     {StateChannelOpening, StateDisconnected},
	StateChannelOpening: {StateConnected, StateDisconnected},
	StateConnected:      {StateDisconnected},
	StateDisconnected:   {StateDiscovering, StateFailed},
	StateFailed:         {StateDiscovering},
}

// CanTransitionTo returns whether the state graph permits s -> to.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range _transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid returns whether s is a known state.
func (s State) Valid() bool {
	_, ok := _transitions[s]
	return ok
}
