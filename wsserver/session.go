package wsserver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/go-wsexchange/metrics"
	"github.com/cyberinferno/go-wsexchange/wserrors"
)

// ErrSessionClosed is wrapped in the SendError returned when writing to a
// session that is no longer open.
var ErrSessionClosed = errors.New("session closed")

const closeGracePeriod = time.Second

// SessionState is the lifecycle state of a session.
type SessionState int32

const (
	Connecting SessionState = iota // Upgraded, connect notification not yet delivered
	Open                           // Receiving messages
	Closed                         // Connection closed, disconnect notification delivered or in progress
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one accepted client connection. It is owned by the Server: the
// server reads from it on a dedicated goroutine, and handlers may call Send and
// Close from any goroutine.
type Session struct {
	id         uint32
	remoteAddr string
	conn       *websocket.Conn
	metrics    *metrics.Server

	state     atomic.Int32
	closing   atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn *websocket.Conn, m *metrics.Server) *Session {
	s := &Session{
		id:         id,
		remoteAddr: conn.RemoteAddr().String(),
		conn:       conn,
		metrics:    m,
	}
	s.state.Store(int32(Connecting))
	return s
}

// ID returns the identifier assigned at accept time. It is never reused by the
// same Server.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the client's network address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Send writes msg to this session as one text frame. Writes are serialized.
//
// Parameters:
//   - msg: The message to send
//
// Returns:
//   - A *wserrors.SendError if the session is closed or the write fails
func (s *Session) Send(msg string) error {
	if s.closing.Load() || s.State() == Closed {
		return &wserrors.SendError{Err: ErrSessionClosed}
	}

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
	s.writeMu.Unlock()
	if err != nil {
		return &wserrors.SendError{Err: err}
	}

	s.metrics.ReplySent()
	return nil
}

// Close sends a normal closure frame and closes the connection. The read loop
// then ends and the disconnect notification fires. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}
