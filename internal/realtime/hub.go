// Package realtime streams delivery outcomes to connected dashboard
// clients over websockets. The hub is handed to the dispatcher as an
// optional notifier; a nil hub is a valid no-op state.
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// Notice is one realtime feed item.
type Notice struct {
	Kind       string    `json:"kind"` // "delivery.attempted" or "event.dispatched"
	TenantID   string    `json:"tenant_id"`
	WebhookID  string    `json:"webhook_id,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	EventType  string    `json:"event_type"`
	StatusCode int       `json:"status_code,omitempty"`
	At         time.Time `json:"at"`
}

type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{} // tenant -> connections
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: map[string]map[*websocket.Conn]struct{}{},
		log:   log,
	}
}

// Publish sends the notice to every connection of its tenant. Slow or dead
// connections are dropped rather than blocking the caller.
func (h *Hub) Publish(n Notice) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns[n.TenantID] {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(n); err != nil {
			conn.Close()
			delete(h.conns[n.TenantID], conn)
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection subscribed to
// the tenant's feed until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	if h.conns[tenantID] == nil {
		h.conns[tenantID] = map[*websocket.Conn]struct{}{}
	}
	h.conns[tenantID][conn] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("tenant_id", tenantID).Msg("realtime client connected")

	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()

	// Drain the read side; clients only listen.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns[tenantID], conn)
	h.mu.Unlock()
	conn.Close()
}
