// Package ws implements the WebSocket adapter for real-time client
// communication: the ephemeral UI feed plus a mirror of committed events.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// sendBuffer is the per-connection outbound queue depth. A client that lets
// this fill up is dropped, the same policy the event feed applies to lagged
// subscribers.
const sendBuffer = 64

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn is one attached client with its outbound queue.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub fans messages out to every attached client. Writes go through each
// connection's own queue so one stalled socket never blocks the others.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "ws"),
		conns:  make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("client attached", "remote", r.RemoteAddr)

	go h.writeLoop(ctx, c)
	go h.readLoop(ctx, c)
}

// writeLoop drains the connection's queue onto the socket.
func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				h.detach(c, "write failed")
				return
			}
		}
	}
}

// readLoop consumes pings and detects disconnects; clients never send
// commands over this socket.
func (h *Hub) readLoop(ctx context.Context, c *conn) {
	defer func() {
		h.detach(c, "closed")
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast queues a message for every attached client without blocking.
// Clients whose queue is full are dropped; they reconnect and re-read the
// HTTP stream endpoints if they need gapless history.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode ws message", "type", msg.Type, "error", err)
		return
	}

	var lagged []*conn
	h.mu.RLock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			lagged = append(lagged, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range lagged {
		h.detach(c, "send queue full")
	}
}

// ConnectionCount returns the number of attached clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) detach(c *conn, reason string) {
	h.mu.Lock()
	_, attached := h.conns[c]
	if attached {
		delete(h.conns, c)
	}
	h.mu.Unlock()

	if attached {
		c.cancel()
		h.logger.Info("client detached", "reason", reason)
	}
}
