package wsserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-wsexchange/idgenerator"
	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/metrics"
	"github.com/cyberinferno/go-wsexchange/wserrors"
)

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "CONNECTING", Connecting.String())
	assert.Equal(t, "OPEN", Open.String())
	assert.Equal(t, "CLOSED", Closed.String())
	assert.Equal(t, "UNKNOWN", SessionState(42).String())
}

func TestServer_StartStop(t *testing.T) {
	t.Run("start binds and stop is idempotent", func(t *testing.T) {
		srv := NewServer(DefaultConfig("127.0.0.1:0"), newRecorder(""), logger.NewNopLogger())
		assert.Nil(t, srv.Addr())

		require.NoError(t, srv.Start())
		assert.True(t, srv.Running())
		assert.NotNil(t, srv.Addr())

		srv.Stop()
		assert.False(t, srv.Running())
		srv.Stop()
	})

	t.Run("second start fails", func(t *testing.T) {
		srv := startServer(t, newRecorder(""))
		assert.Error(t, srv.Start())
	})

	t.Run("port already bound is a listen connection error", func(t *testing.T) {
		first := startServer(t, newRecorder(""))

		second := NewServer(DefaultConfig(first.Addr().String()), newRecorder(""), logger.NewNopLogger())
		err := second.Start()

		var connErr *wserrors.ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, wserrors.OpListen, connErr.Op)
		assert.False(t, second.Running())
	})

	t.Run("plain http request is rejected", func(t *testing.T) {
		srv := startServer(t, newRecorder(""))
		resp := httpGet(t, "http://"+srv.Addr().String()+"/")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_SessionLifecycle(t *testing.T) {
	rec := newRecorder("ok")
	srv := startServer(t, rec)

	conn := dial(t, srv)

	connected := wait(t, rec.connects)
	assert.Equal(t, uint32(1), connected.session.ID())
	assert.Equal(t, Open, connected.session.State())
	assert.Equal(t, 1, srv.SessionCount())
	got, ok := srv.Session(1)
	require.True(t, ok)
	assert.Same(t, connected.session, got)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("2024/01/01 00:00:00")))
	msg := wait(t, rec.messages)
	assert.Equal(t, "2024/01/01 00:00:00", msg.msg)
	assert.Equal(t, "ok", readText(t, conn))

	closeCleanly(t, conn)

	gone := wait(t, rec.disconnects)
	assert.Equal(t, uint32(1), gone.session.ID())
	assert.NoError(t, gone.err)
	assert.Equal(t, Closed, gone.session.State())
	assert.Equal(t, 0, srv.SessionCount())
	assertNoEvent(t, rec.disconnects, 100*time.Millisecond)

	err := gone.session.Send("late")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestServer_AbruptCloseReportsError(t *testing.T) {
	rec := newRecorder("")
	srv := startServer(t, rec)

	conn := dial(t, srv)
	wait(t, rec.connects)

	require.NoError(t, conn.UnderlyingConn().Close())

	gone := wait(t, rec.disconnects)
	var recvErr *wserrors.ReceiveError
	assert.True(t, errors.As(gone.err, &recvErr))
	assertNoEvent(t, rec.disconnects, 100*time.Millisecond)
}

func TestServer_MessagesKeepOrder(t *testing.T) {
	rec := newRecorder("")
	rec.delay = 2 * time.Millisecond
	srv := startServer(t, rec)

	conn := dial(t, srv)
	wait(t, rec.connects)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("msg-%02d", i))))
	}

	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("msg-%02d", i), wait(t, rec.messages).msg)
	}
}

func TestServer_ConcurrentSessionsAreIsolated(t *testing.T) {
	rec := newRecorder("ok")
	srv := startServer(t, rec)

	connA := dial(t, srv)
	a := wait(t, rec.connects).session
	connB := dial(t, srv)
	b := wait(t, rec.connects).session

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, srv.SessionCount())

	closeCleanly(t, connA)
	gone := wait(t, rec.disconnects)
	assert.Equal(t, a.ID(), gone.session.ID())

	require.NoError(t, connB.WriteMessage(websocket.TextMessage, []byte("still here")))
	msg := wait(t, rec.messages)
	assert.Equal(t, b.ID(), msg.session.ID())
	assert.Equal(t, "ok", readText(t, connB))
	assert.Equal(t, Open, b.State())

	dial(t, srv)
	c := wait(t, rec.connects).session
	assert.NotEqual(t, a.ID(), c.ID())
	assert.NotEqual(t, b.ID(), c.ID())
}

func TestServer_ReplyGoesToSenderOnly(t *testing.T) {
	rec := newRecorder("ok")
	srv := startServer(t, rec)

	connA := dial(t, srv)
	wait(t, rec.connects)
	connB := dial(t, srv)
	wait(t, rec.connects)

	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("from a")))
	assert.Equal(t, "ok", readText(t, connA))

	require.NoError(t, connB.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := connB.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestServer_HandlerErrorClosesOnlyThatSession(t *testing.T) {
	rec := newRecorder("ok")
	rec.failOn = "boom"
	srv := startServer(t, rec)

	connA := dial(t, srv)
	a := wait(t, rec.connects).session
	connB := dial(t, srv)
	b := wait(t, rec.connects).session

	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("boom")))
	wait(t, rec.messages)

	gone := wait(t, rec.disconnects)
	assert.Equal(t, a.ID(), gone.session.ID())
	assert.Error(t, gone.err)

	require.NoError(t, connA.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := connA.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, connB.WriteMessage(websocket.TextMessage, []byte("fine")))
	assert.Equal(t, "fine", wait(t, rec.messages).msg)
	assert.Equal(t, "ok", readText(t, connB))
	assert.Equal(t, Open, b.State())
}

func TestServer_StopClosesSessions(t *testing.T) {
	rec := newRecorder("")
	srv := NewServer(DefaultConfig("127.0.0.1:0"), rec, logger.NewNopLogger())
	require.NoError(t, srv.Start())

	conns := []*websocket.Conn{dial(t, srv), dial(t, srv), dial(t, srv)}
	for range conns {
		wait(t, rec.connects)
	}

	srv.Stop()

	assert.Len(t, rec.disconnects, len(conns))
	assert.Equal(t, 0, srv.SessionCount())

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	}
}

func TestServer_DisconnectFiresOncePerSession(t *testing.T) {
	rec := newRecorder("")
	srv := startServer(t, rec)

	const clients = 10
	var wg sync.WaitGroup
	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conns[i] = dial(t, srv)
	}

	ids := make(map[uint32]bool)
	for i := 0; i < clients; i++ {
		ids[wait(t, rec.connects).session.ID()] = true
	}
	assert.Len(t, ids, clients)

	for _, conn := range conns {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			_ = conn.Close()
		}(conn)
	}
	wg.Wait()

	seen := make(map[uint32]int)
	for i := 0; i < clients; i++ {
		seen[wait(t, rec.disconnects).session.ID()]++
	}
	assertNoEvent(t, rec.disconnects, 100*time.Millisecond)
	for id, n := range seen {
		assert.Equal(t, 1, n, "session %d", id)
		assert.True(t, ids[id])
	}
}

func TestServer_IdGeneratorOption(t *testing.T) {
	rec := newRecorder("")
	srv := startServer(t, rec, WithIdGenerator(idgenerator.NewIdGenerator(500)))

	dial(t, srv)
	assert.Equal(t, uint32(501), wait(t, rec.connects).session.ID())
}

func TestServer_ExhaustedIdsRejectConnection(t *testing.T) {
	rec := newRecorder("")
	srv := startServer(t, rec, WithIdGenerator(idgenerator.NewIdGenerator(^uint32(0))))

	conn := dial(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assertNoEvent(t, rec.connects, 100*time.Millisecond)
}

func TestServer_Metrics(t *testing.T) {
	rec := newRecorder("ok")
	m := metrics.NewServer()
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.MetricsPath = "/metrics"
	srv := NewServer(cfg, rec, logger.NewNopLogger(), WithMetrics(m))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn := dial(t, srv)
	wait(t, rec.connects)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Equal(t, "ok", readText(t, conn))

	scrape := func() string {
		resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
		if err != nil {
			return ""
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	assert.Eventually(t, func() bool {
		body := scrape()
		return strings.Contains(body, "wsexchange_sessions_active 1") &&
			strings.Contains(body, "wsexchange_messages_received_total 1") &&
			strings.Contains(body, "wsexchange_replies_sent_total 1")
	}, waitTimeout, 20*time.Millisecond)
}
