package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-session/internal/session"
)

type call struct {
	kind    string
	id      string
	payload json.RawMessage
}

// echoHandler greets each client with a role and records every call.
type echoHandler struct {
	hub   *Hub
	calls chan call
}

func (e *echoHandler) Connect(_ context.Context, id string) (session.Role, error) {
	e.hub.SendTo(id, session.MsgRole, "White")
	e.calls <- call{kind: "connect", id: id}
	return session.RoleWhite, nil
}

func (e *echoHandler) Disconnect(_ context.Context, id string) error {
	e.calls <- call{kind: "disconnect", id: id}
	return nil
}

func (e *echoHandler) Move(_ context.Context, id string, payload json.RawMessage) error {
	e.calls <- call{kind: "move", id: id, payload: payload}
	return nil
}

func (e *echoHandler) Reset(_ context.Context, id string) error {
	e.calls <- call{kind: "reset", id: id}
	return nil
}

func newServer(t *testing.T, opts ...Option) (*Hub, *echoHandler, string) {
	t.Helper()
	hub := NewHub(opts...)
	h := &echoHandler{hub: hub, calls: make(chan call, 16)}
	hub.Attach(h)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
		srv.Close()
	})
	return hub, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var m Message
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	return m
}

func next(t *testing.T, calls <-chan call) call {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("handler call not observed")
		return call{}
	}
}

func TestServeWSRoundTrip(t *testing.T) {
	_, h, url := newServer(t)
	conn := dial(t, url)

	c := next(t, h.calls)
	assert.Equal(t, "connect", c.kind)
	m := read(t, conn)
	assert.Equal(t, session.MsgRole, m.Type)
	assert.JSONEq(t, `"White"`, string(m.Payload))

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "move", "payload": map[string]string{"from": "e2", "to": "e4"}}))
	mv := next(t, h.calls)
	assert.Equal(t, "move", mv.kind)
	assert.Equal(t, c.id, mv.id)
	assert.JSONEq(t, `{"from":"e2","to":"e4"}`, string(mv.payload))

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "chat"}))
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "resetGame"}))
	assert.Equal(t, "reset", next(t, h.calls).kind)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	d := next(t, h.calls)
	assert.Equal(t, call{kind: "disconnect", id: c.id}, d)
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	hub, h, url := newServer(t)
	a := dial(t, url)
	next(t, h.calls)
	read(t, a)
	b := dial(t, url)
	next(t, h.calls)
	read(t, b)
	require.Equal(t, 2, hub.Len())

	hub.Broadcast(session.MsgUpdateState, session.Snapshot{Players: session.Players{White: true}, Position: "fen", Turn: "w"})
	hub.Broadcast(session.MsgSpectator, nil)

	for _, conn := range []*websocket.Conn{a, b} {
		m := read(t, conn)
		assert.Equal(t, session.MsgUpdateState, m.Type)
		assert.JSONEq(t, `{"players":{"white":true,"black":false},"position":"fen","turn":"w","isGameOver":false}`, string(m.Payload))
		m = read(t, conn)
		assert.Equal(t, session.MsgSpectator, m.Type)
		assert.Empty(t, m.Payload)
	}
}

func TestServeWSRejectsForeignOrigin(t *testing.T) {
	_, _, url := newServer(t, WithAllowedOrigins([]string{"http://board.test"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{"http://evil.test"}}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{"http://board.test"}}})
	require.NoError(t, err)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestServeWSWithoutHandler(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	hub := NewHub(WithSendBuffer(1))
	c := &client{id: "slow", send: make(chan []byte, 1)}
	hub.clients[c.id] = c

	for i := 0; i < 10; i++ {
		hub.SendTo("slow", session.MsgUpdateState, i)
	}
	hub.SendTo("unknown", session.MsgUpdateState, 0)

	require.Len(t, c.send, 1)
	assert.JSONEq(t, `{"type":"updateState","payload":0}`, string(<-c.send))
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub, h, url := newServer(t)
	conn := dial(t, url)
	next(t, h.calls)
	read(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	assert.Equal(t, "disconnect", next(t, h.calls).kind)
	assert.Equal(t, 0, hub.Len())
}
