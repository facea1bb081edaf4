package securechat

// ConnectionState represents the lifecycle of a Channel.
type ConnectionState int

const (
	// StateConnecting means a dial is in flight.
	StateConnecting ConnectionState = iota

	// StateOpen means the transport is open and Send succeeds.
	StateOpen

	// StateClosed means there is no transport. A reconnect may be pending
	// unless the channel was closed explicitly.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Code     StatusCode // close code when NewState is StateClosed
	Error    error      // Optional error that caused the state change
}
