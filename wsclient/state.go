package wsclient

import "time"

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected; Connect may be called
	Connecting                          // Resolution or dial in progress
	Connected                           // Connection established
	Closed                              // Client has been closed and cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Endpoint  string          // The endpoint URI, empty before resolution succeeded
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by a failure
}

// ConnectionStateHandler is called synchronously on every state change, from
// the goroutine that caused it.
type ConnectionStateHandler func(event ConnectionStateEvent)
