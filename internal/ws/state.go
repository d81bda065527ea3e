package ws

// State is the lifecycle state of a Bridge.
type State int32

const (
	// StateUninitialized is the state before construction succeeds.
	StateUninitialized State = iota
	// StateConnecting means the first dial is in flight.
	StateConnecting
	// StateOpen means frames flow in both directions.
	StateOpen
	// StateReconnecting means the stream dropped and a redial is pending.
	StateReconnecting
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame is one received unit of the stream.
type Frame struct {
	Binary bool
	Data   []byte
}
