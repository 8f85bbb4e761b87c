// Package transport carries session messages over WebSocket connections.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-session/internal/obslog"
	"github.com/park285/cheese-chess-session/internal/session"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives connection lifecycle and client requests.
// *session.Coordinator implements it.
type Handler interface {
	Connect(ctx context.Context, clientID string) (session.Role, error)
	Disconnect(ctx context.Context, clientID string) error
	Move(ctx context.Context, clientID string, payload json.RawMessage) error
	Reset(ctx context.Context, clientID string) error
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live connections and implements session.Transport.
type Hub struct {
	allowOrigins map[string]bool
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
	handler Handler

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Hub)

// WithAllowedOrigins restricts browser origins; an empty list accepts any.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		for _, o := range origins {
			if o != "" {
				h.allowOrigins[o] = true
			}
		}
	}
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		allowOrigins: map[string]bool{},
		sendBuffer:   64,
		pingInterval: 15 * time.Second,
		writeTimeout: 5 * time.Second,
		clients:      map[string]*client{},
		baseCtx:      ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = obslog.Named("transport")
	}
	return h
}

// Attach sets the handler for new connections. It must be called before
// the hub serves requests.
func (h *Hub) Attach(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// SendTo queues a message for one client. Unknown ids are ignored.
func (h *Hub) SendTo(clientID, msgType string, payload any) {
	b, ok := h.encode(msgType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c := h.clients[clientID]; c != nil {
		h.enqueue(c, msgType, b)
	}
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msgType string, payload any) {
	b, ok := h.encode(msgType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, msgType, b)
	}
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) encode(msgType string, payload any) ([]byte, bool) {
	b, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error("ws_encode_failed", zap.String("type", msgType), zap.Error(err))
		return nil, false
	}
	return b, true
}

// enqueue never blocks; a full buffer drops the frame. Caller holds mu.
func (h *Hub) enqueue(c *client, msgType string, b []byte) {
	select {
	case c.send <- b:
	default:
		h.logger.Warn("ws_send_dropped", zap.String("client_id", c.id), zap.String("type", msgType))
	}
}

func (h *Hub) originAllowed(origin string) bool {
	if len(h.allowOrigins) == 0 || origin == "" {
		return true
	}
	return h.allowOrigins[origin]
}

// ServeWS upgrades the request and runs the connection until either side
// closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.originAllowed(origin) {
		h.logger.Warn("ws_origin_rejected", zap.String("origin", origin))
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("ws_accept_failed", zap.Error(err))
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, h.sendBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("ws_connected", zap.String("client_id", c.id), zap.String("remote", r.RemoteAddr))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, cancel, c)
	}()

	if _, err := handler.Connect(ctx, c.id); err != nil {
		h.logger.Warn("ws_connect_rejected", zap.String("client_id", c.id), zap.Error(err))
	} else {
		h.readLoop(ctx, handler, c)
	}

	h.mu.Lock()
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()
	<-writerDone

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := handler.Disconnect(dctx, c.id); err != nil {
		h.logger.Debug("ws_disconnect_unhandled", zap.String("client_id", c.id), zap.Error(err))
	}
	dcancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	h.logger.Info("ws_disconnected", zap.String("client_id", c.id))
}

func (h *Hub) readLoop(ctx context.Context, handler Handler, c *client) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Debug("ws_read_failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		var err error
		switch msg.Type {
		case session.MsgMove:
			err = handler.Move(ctx, c.id, msg.Payload)
		case session.MsgResetGame:
			err = handler.Reset(ctx, c.id)
		default:
			h.logger.Debug("ws_unknown_type", zap.String("client_id", c.id), zap.String("type", msg.Type))
		}
		if err != nil {
			h.logger.Warn("ws_dispatch_failed", zap.String("client_id", c.id), zap.String("type", msg.Type), zap.Error(err))
			return
		}
	}
}

// writeLoop drains the send queue and keeps the connection alive. Two
// consecutive ping failures end the connection.
func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *client) {
	t := time.NewTicker(h.pingInterval)
	defer t.Stop()
	pingFailures := 0
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, h.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, b)
			wcancel()
			if err != nil {
				cancel()
				drain(c.send)
				return
			}
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				pingFailures++
				if pingFailures >= 2 {
					h.logger.Info("ws_ping_timeout", zap.String("client_id", c.id))
					cancel()
					drain(c.send)
					return
				}
				continue
			}
			pingFailures = 0
		case <-ctx.Done():
			drain(c.send)
			return
		}
	}
}

// drain consumes frames until the channel is closed so senders never see
// a stale full buffer.
func drain(ch <-chan []byte) {
	for range ch {
	}
}

// Close ends every connection and waits for their handlers to finish.
func (h *Hub) Close(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
