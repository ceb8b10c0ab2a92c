// Package hub owns the WebSocket connections of the process.
package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/me-niyas-ali/stream/internal/config"
	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/metrics"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
)

// Hub is the table of live clients. Room membership lives in the registry.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	config  config.WebSocketConfig
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		clients: make(map[string]*Client),
		config:  cfg,
	}
}

// NewClient wraps an upgraded connection. The client is not registered.
func (h *Hub) NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:      id,
		hub:     h,
		conn:    conn,
		send:    make(chan frame, h.config.SendBuffer),
		session: domain.NewSession(id),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	metrics.Connections.Inc()
	l := pkglog.L()
	l.Info().Str(pkglog.FieldClientID, client.id).Msg("client registered")
}

// Unregister removes a client from the hub. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	if ok {
		metrics.Connections.Dec()
		l := pkglog.L()
		l.Info().Str(pkglog.FieldClientID, client.id).Msg("client unregistered")
	}
}

// Connections returns every registered client.
func (h *Hub) Connections() []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Connection, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every client gracefully. Used on shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.Connections() {
		c.Close()
	}
}
