package wsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"nhooyr.io/websocket"

	"github.com/velmie/offsync"
)

// Hub broadcasts notifications to connected WebSocket clients. It satisfies
// server.Publisher and http.Handler.
type Hub struct {
	cfg Config

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	msgs chan []byte
	done chan struct{}
}

// NewHub builds an empty Hub.
func NewHub(opts ...Option) *Hub {
	return &Hub{cfg: newConfig(opts), clients: make(map[*subscriber]struct{})}
}

// ServeHTTP upgrades the request and streams notifications until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Token != "" && strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != h.cfg.Token {
		http.Error(w, "missing or invalid bearer token", http.StatusUnauthorized)
		return
	}
	sub := &subscriber{msgs: make(chan []byte, h.cfg.Buffer), done: make(chan struct{})}
	if !h.add(sub) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.remove(sub)

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.cfg.Logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx on close.
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-sub.msgs:
			if err := h.write(ctx, c, msg); err != nil {
				h.cfg.Logger.Debug("websocket client dropped", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, msg)
}

// Publish queues note for every client. A client whose queue is full misses it.
func (h *Hub) Publish(_ context.Context, note offsync.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("offsync websocket: encode notification: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.clients {
		select {
		case sub.msgs <- data:
		default:
			h.cfg.Logger.Warn("websocket client queue full, notification dropped", "cursor", note.Cursor)
		}
	}

	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.clients {
		close(sub.done)
	}
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[sub] = struct{}{}

	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, sub)
}
