// Package wsserver accepts WebSocket clients and dispatches per-session
// lifecycle notifications (connect, message, disconnect) to a Handler. Each
// session is served on its own goroutine and handles one message at a time.
package wsserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/go-wsexchange/idgenerator"
	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/metrics"
	"github.com/cyberinferno/go-wsexchange/wserrors"
)

// Handler receives the lifecycle notifications of every session. Calls for one
// session are sequential; calls for different sessions run concurrently.
type Handler interface {
	// OnConnect is called once the session is OPEN, before any OnMessage.
	OnConnect(session *Session)

	// OnMessage is called for each frame received while the session is OPEN.
	// A non-nil error closes this session only.
	OnMessage(session *Session, msg string) error

	// OnDisconnect is called exactly once per session after its connection
	// is closed. err is nil for a clean closure.
	OnDisconnect(session *Session, err error)
}

// Config holds the settings of a Server.
type Config struct {
	// Name is used in log messages.
	Name string
	// Addr is the "host:port" to listen on.
	Addr string
	// Path is the HTTP path upgraded to WebSocket; "/" accepts any path.
	Path string
	// MetricsPath serves Prometheus metrics when non-empty and metrics are set.
	MetricsPath string
	// ReadLimit caps the size of a single inbound message; 0 means no limit.
	ReadLimit int64
	// HandshakeTimeout bounds the upgrade handshake.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns a Config listening on addr with the WebSocket
// endpoint at "/".
func DefaultConfig(addr string) Config {
	return Config{
		Name:             "wsexchange",
		Addr:             addr,
		Path:             "/",
		HandshakeTimeout: 10 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records session and message counters on m.
func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithIdGenerator replaces the session ID source. IDs start at 1 by default.
func WithIdGenerator(gen *idgenerator.IdGenerator) Option {
	return func(s *Server) {
		s.ids = gen
	}
}

// Server is the connection acceptor.
type Server struct {
	cfg      Config
	handler  Handler
	log      logger.Logger
	metrics  *metrics.Server
	ids      *idgenerator.IdGenerator
	sessions *Registry
	upgrader websocket.Upgrader

	mu         sync.Mutex
	running    atomic.Bool
	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a Server that dispatches to handler. Call Start to begin
// accepting connections.
//
// Parameters:
//   - cfg: Listen address and endpoint settings
//   - handler: Receives session notifications
//   - log: Logger for acceptor events
//   - opts: Optional settings such as WithMetrics
//
// Returns:
//   - A new, stopped Server
func NewServer(cfg Config, handler Handler, log logger.Logger, opts ...Option) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	s := &Server{
		cfg:      cfg,
		handler:  handler,
		log:      log,
		ids:      idgenerator.NewIdGenerator(0),
		sessions: NewRegistry(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start binds to the configured address and serves in the background.
// Listening failures are returned, never retried.
//
// Returns:
//   - A *wserrors.ConnectionError with Op "listen" if binding fails
//   - An error if the server is already running
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("server %s already running", s.cfg.Name)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return &wserrors.ConnectionError{Op: wserrors.OpListen, Addr: s.cfg.Addr, Err: err}
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	if s.metrics != nil && s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running.Store(true)

	s.log.Info(fmt.Sprintf("%s server started", s.cfg.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	go func(hs *http.Server, ln net.Listener) {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(fmt.Sprintf("%s server accept error", s.cfg.Name), logger.Field{Key: "error", Value: err})
		}
	}(s.httpServer, ln)

	return nil
}

// Stop closes the listener and every open session, then waits until all
// disconnect notifications have been delivered. Safe to call when stopped.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	s.running.Store(false)
	hs := s.httpServer
	s.mu.Unlock()

	_ = hs.Close()

	for _, session := range s.sessions.Snapshot() {
		_ = session.Close()
	}

	s.wg.Wait()
	s.log.Info(fmt.Sprintf("%s server stopped", s.cfg.Name))
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server accepts connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Session returns the open session with the given ID.
func (s *Server) Session(id uint32) (*Session, bool) {
	return s.sessions.Get(id)
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// ServeHTTP upgrades the request and serves the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed",
			logger.Field{Key: "remote", Value: r.RemoteAddr},
			logger.Field{Key: "error", Value: err})
		return
	}

	id, err := s.ids.Next()
	if err != nil {
		s.log.Error("cannot assign session id", logger.Field{Key: "error", Value: err})
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		_ = conn.Close()
		return
	}

	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}

	session := newSession(id, conn, s.metrics)
	s.sessions.Add(session)
	if !s.running.Load() {
		// Stop may have snapshotted the registry before Add.
		_ = session.Close()
	}

	s.serve(session)
}

func (s *Server) serve(session *Session) {
	log := s.log.With(logger.Field{Key: "session", Value: session.ID()})

	session.setState(Open)
	s.metrics.SessionOpened()
	log.Debug("session opened", logger.Field{Key: "remote", Value: session.RemoteAddr()})
	s.handler.OnConnect(session)

	var cause error
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			cause = s.readFailure(session, err)
			break
		}

		s.metrics.MessageReceived()
		if err := s.handler.OnMessage(session, string(data)); err != nil {
			cause = err
			break
		}
	}

	_ = session.Close()
	s.sessions.Remove(session.ID())
	session.setState(Closed)
	s.metrics.SessionClosed(cause != nil)

	if cause != nil {
		log.Debug("session closed with error", logger.Field{Key: "error", Value: cause})
	} else {
		log.Debug("session closed")
	}

	s.handler.OnDisconnect(session, cause)
}

// readFailure maps a read error to the disconnect cause: nil for a clean close
// by either side, a ReceiveError otherwise.
func (s *Server) readFailure(session *Session, err error) error {
	if session.closing.Load() {
		return nil
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}

	return &wserrors.ReceiveError{Err: err}
}
