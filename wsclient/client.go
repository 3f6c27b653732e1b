// Package wsclient connects to an exchange server: it resolves the host name,
// opens one WebSocket connection and offers blocking send/receive on it. There
// is no reconnection; every setup failure is returned to the caller.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/resolver"
	"github.com/cyberinferno/go-wsexchange/wserrors"
)

// ErrNotConnected is wrapped in send and receive errors issued before Connect
// succeeded or after Close.
var ErrNotConnected = errors.New("not connected")

// Resolver turns a host name into one address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// forgetter is implemented by caching resolvers; a failed dial drops the
// cached address so the next attempt resolves again.
type forgetter interface {
	Forget(host string)
}

// Config holds the connection settings.
type Config struct {
	// Host is the server host name or IP literal.
	Host string
	// Port is the server port.
	Port int
	// Path is the WebSocket endpoint path.
	Path string
	// ConnectionTimeout bounds resolution plus dial plus handshake; 0 means none.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config for host on port 8080 at "/" with a 10s
// connection timeout.
//
// Parameters:
//   - host: The host name to connect to
//
// Returns:
//   - A Config with defaults
func DefaultConfig(host string) Config {
	return Config{
		Host:              host,
		Port:              8080,
		Path:              "/",
		ConnectionTimeout: 10 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithResolver replaces the caching system resolver.
func WithResolver(r Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithOutput sets where the resolved address and endpoint lines are printed.
// Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Client) {
		c.out = w
	}
}

// Client owns one WebSocket connection. Send, Receive and Exchange are safe
// for concurrent use.
type Client struct {
	config   Config
	log      logger.Logger
	resolver Resolver
	out      io.Writer
	dialer   *websocket.Dialer

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    ConnectionState
	endpoint string
	onState  ConnectionStateHandler

	writeMu    sync.Mutex
	readMu     sync.Mutex
	exchangeMu sync.Mutex
}

// NewClient creates a disconnected Client.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//   - log: Logger for diagnostics
//   - opts: Optional overrides
//
// Returns:
//   - A new *Client; call Connect to establish the connection
func NewClient(config Config, log logger.Logger, opts ...Option) *Client {
	c := &Client{
		config:   config,
		log:      log,
		resolver: resolver.NewResolver(resolver.DefaultTTL),
		out:      os.Stdout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.ConnectionTimeout,
		},
		state: Disconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// Endpoint builds the WebSocket URI for an address, e.g. "ws://10.0.0.5:8080".
// A root path is omitted.
func Endpoint(address string, port int, path string) string {
	uri := "ws://" + net.JoinHostPort(address, strconv.Itoa(port))
	if path != "" && path != "/" {
		uri += path
	}
	return uri
}

// Connect resolves the host, prints "ip=<address>" and "uri=<endpoint>", and
// opens the connection. Nothing is dialed when resolution fails.
//
// Parameters:
//   - ctx: Context bounding resolution and dial
//
// Returns:
//   - nil on success
//   - A *wserrors.ResolutionError if the host cannot be resolved
//   - A *wserrors.ConnectionError if the dial or handshake fails
//   - An error if the client is closed or already connected
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	case Connecting, Connected:
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	if c.config.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectionTimeout)
		defer cancel()
	}

	address, err := c.resolver.Resolve(ctx, c.config.Host)
	if err != nil {
		var resErr *wserrors.ResolutionError
		if !errors.As(err, &resErr) {
			err = &wserrors.ResolutionError{Host: c.config.Host, Err: err}
		}
		c.setState(Disconnected, err)
		return err
	}
	fmt.Fprintf(c.out, "ip=%s\n", address)

	endpoint := Endpoint(address, c.config.Port, c.config.Path)
	fmt.Fprintf(c.out, "uri=%s\n", endpoint)

	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		op := wserrors.OpDial
		if errors.Is(err, websocket.ErrBadHandshake) {
			op = wserrors.OpHandshake
		}
		if f, ok := c.resolver.(forgetter); ok {
			f.Forget(c.config.Host)
		}
		err = &wserrors.ConnectionError{Op: op, Addr: endpoint, Err: err}
		c.setState(Disconnected, err)
		return err
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("client is closed")
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Debug("connected", logger.Field{Key: "endpoint", Value: endpoint})
	c.setState(Connected, nil)
	return nil
}

// Send writes msg as one text frame.
//
// Returns:
//   - A *wserrors.SendError if not connected or the write fails
func (c *Client) Send(msg string) error {
	conn, err := c.activeConn()
	if err != nil {
		return &wserrors.SendError{Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return &wserrors.SendError{Err: err}
	}

	return nil
}

// Receive blocks until exactly one message frame arrives.
//
// Returns:
//   - The message payload
//   - A *wserrors.ReceiveError if not connected, the peer closed, or the read fails
func (c *Client) Receive() (string, error) {
	conn, err := c.activeConn()
	if err != nil {
		return "", &wserrors.ReceiveError{Err: err}
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", &wserrors.ReceiveError{Err: err}
	}

	return string(data), nil
}

// Exchange sends msg and waits for its reply. Concurrent callers are
// serialized, so a request is never sent before the previous reply arrived.
func (c *Client) Exchange(msg string) (string, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.Send(msg); err != nil {
		return "", err
	}

	return c.Receive()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EndpointURI returns the endpoint of the last connection attempt.
func (c *Client) EndpointURI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Close sends a normal closure frame and closes the connection. The client
// cannot be reconnected afterwards. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = conn.Close()
	}

	c.emitState(Closed, nil)
	return err
}

func (c *Client) activeConn() (*websocket.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != Connected || c.conn == nil {
		return nil, ErrNotConnected
	}

	return c.conn, nil
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.emitState(state, err)
}

func (c *Client) emitState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onState
	endpoint := c.endpoint
	c.mu.RUnlock()

	if handler == nil {
		return
	}

	handler(ConnectionStateEvent{
		State:     state,
		Endpoint:  endpoint,
		Timestamp: time.Now(),
		Error:     err,
	})
}
