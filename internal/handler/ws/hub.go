package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"CrashPilot/internal/domain/models"
	"CrashPilot/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ClientMsg is what dashboards send: subscribe/unsubscribe to a source, or ping.
type ClientMsg struct {
	Type     string `json:"type"`
	SourceID string `json:"source_id"`
}

// Hub streams bus messages to dashboard websockets. A client without
// subscriptions receives every source.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger
	sendBuf  int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]struct{}
	closed bool
}

type Option func(*Hub)

// WithCheckOrigin sets the upgrade origin policy. Default allows all.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuf = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      logger.Nop(),
		sendBuf:  256,
		clients:  make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logger.String("component", "ws_hub"))
	return h
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleWS)
}

// HandleWS upgrades the request and serves the client until it disconnects.
func (h *Hub) HandleWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, h.sendBuf), subs: make(map[string]struct{})}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", logger.String("remote", c.RealIP()), logger.Int("clients", n))

	go h.writeLoop(cl)
	h.readLoop(cl)

	h.drop(cl)
	return nil
}

func (h *Hub) readLoop(cl *client) {
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg ClientMsg
		if err := cl.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			cl.mu.Lock()
			cl.subs[msg.SourceID] = struct{}{}
			cl.mu.Unlock()
		case "unsubscribe":
			cl.mu.Lock()
			delete(cl.subs, msg.SourceID)
			cl.mu.Unlock()
		case "ping":
			cl.trySend([]byte(`{"type":"pong"}`))
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case b, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.close()
}

func (cl *client) wants(sourceID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.subs) == 0 {
		return true
	}
	_, ok := cl.subs[sourceID]
	return ok
}

// trySend reports false when the client is closed or too slow.
func (cl *client) trySend(b []byte) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return false
	}
	select {
	case cl.send <- b:
		return true
	default:
		return false
	}
}

func (cl *client) close() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if !cl.closed {
		cl.closed = true
		close(cl.send)
	}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Accept(models.BusMessage) bool { return true }

// Handle broadcasts msg. Clients whose buffer is full are disconnected.
func (h *Hub) Handle(_ context.Context, msg models.BusMessage) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		if cl.wants(msg.SourceID) {
			targets = append(targets, cl)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	for _, cl := range targets {
		if !cl.trySend(b) {
			h.log.Warn("slow websocket client dropped")
			h.drop(cl)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for cl := range clients {
		cl.close()
	}
}
