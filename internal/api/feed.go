package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/clawroute/internal/plugin"
)

const (
	feedBuffer       = 64
	feedWriteTimeout = 5 * time.Second
)

// Hub fans decisions out to websocket clients. Slow clients drop
// decisions instead of blocking routing.
type Hub struct {
	mu      sync.Mutex
	clients map[chan plugin.Decision]struct{}
	logger  *slog.Logger
	onCount func(int)

	// originPatterns are extra hosts allowed to open cross-origin feeds.
	originPatterns []string
}

// NewHub creates an empty hub. onCount, if set, is called with the client
// count whenever it changes.
func NewHub(logger *slog.Logger, onCount func(int)) *Hub {
	return &Hub{
		clients: make(map[chan plugin.Decision]struct{}),
		logger:  logger,
		onCount: onCount,
	}
}

// AllowOrigins sets the host patterns, in path.Match syntax, accepted in
// the Origin header of cross-origin feed requests. It must be called
// before the hub serves connections.
func (h *Hub) AllowOrigins(patterns ...string) {
	h.originPatterns = append([]string(nil), patterns...)
}

// Publish delivers d to every client with room in its buffer.
func (h *Hub) Publish(d plugin.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- d:
		default:
			h.logger.Debug("feed client lagging, dropping decision", "request_id", d.RequestID)
		}
	}
}

func (h *Hub) add() chan plugin.Decision {
	ch := make(chan plugin.Decision, feedBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(n)
	}
	return ch
}

func (h *Hub) remove(ch chan plugin.Decision) {
	h.mu.Lock()
	delete(h.clients, ch)
	n := len(h.clients)
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(n)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and streams decisions as JSON frames
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the error response.
		h.logger.Warn("websocket accept failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	ch := h.add()
	defer h.remove(ch)
	h.logger.Info("feed client connected", "remote", r.RemoteAddr)

	// The feed is write-only; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("feed client disconnected", "remote", r.RemoteAddr)
			return
		case d := <-ch:
			wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(wctx, conn, d)
			cancel()
			if err != nil {
				h.logger.Debug("feed write failed", "error", err)
				return
			}
		}
	}
}
