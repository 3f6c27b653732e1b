// Package wserrors defines the failure kinds shared by the exchange client and
// server: name resolution, connection setup, and mid-session send/receive.
package wserrors

import "fmt"

// Connection operations reported by ConnectionError.
const (
	OpDial      = "dial"
	OpHandshake = "handshake"
	OpListen    = "listen"
)

// ResolutionError reports that a host name could not be resolved to an address.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectionError reports a failure to dial, complete the handshake with, or
// listen on Addr.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a failed write on an established connection.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports a failed read on an established connection.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive: %v", e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }
