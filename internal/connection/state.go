// ABOUTME: Connection lifecycle states and the observer contracts
// ABOUTME: Listener for connect/disconnect edges, StateFunc for every transition

package connection

import "github.com/go-stomp/stomp/v3/frame"

// State is a connection lifecycle state.
type State int

// Lifecycle states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether the manager is working on, or holding, a connection.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// Listener is told when publishing becomes possible and when it stops.
// Callbacks run on the manager's goroutine and must not block for long.
type Listener interface {
	Connected()
	Disconnected()
}

// StateFunc observes every state transition. err is set for StateFailed and
// for StateReconnecting when a transport error caused it.
type StateFunc func(state State, err error)

// FrameHandler receives inbound MESSAGE frames.
type FrameHandler interface {
	HandleFrame(f *frame.Frame)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(f *frame.Frame)

// HandleFrame calls fn.
func (fn FrameHandlerFunc) HandleFrame(f *frame.Frame) { fn(f) }
