package wsserver

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-wsexchange/logger"
)

const waitTimeout = 2 * time.Second

type event struct {
	session *Session
	msg     string
	err     error
}

// recorder is a Handler that reports every notification on a channel and
// optionally replies to messages.
type recorder struct {
	connects    chan event
	messages    chan event
	disconnects chan event
	reply       string
	failOn      string
	delay       time.Duration
}

func newRecorder(reply string) *recorder {
	return &recorder{
		connects:    make(chan event, 64),
		messages:    make(chan event, 256),
		disconnects: make(chan event, 64),
		reply:       reply,
	}
}

func (r *recorder) OnConnect(session *Session) {
	r.connects <- event{session: session}
}

func (r *recorder) OnMessage(session *Session, msg string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.messages <- event{session: session, msg: msg}
	if r.failOn != "" && msg == r.failOn {
		return errors.New("handler rejected message")
	}
	if r.reply != "" {
		return session.Send(r.reply)
	}
	return nil
}

func (r *recorder) OnDisconnect(session *Session, err error) {
	r.disconnects <- event{session: session, err: err}
}

func wait(t *testing.T, ch <-chan event) event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for session %d", ev.session.ID())
	case <-time.After(within):
	}
}

func startServer(t *testing.T, h Handler, opts ...Option) *Server {
	t.Helper()
	srv := NewServer(DefaultConfig("127.0.0.1:0"), h, logger.NewNopLogger(), opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func closeCleanly(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	// Wait for the server's close reply before dropping the socket.
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	_ = conn.Close()
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

func httpGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
