// Package websocket streams alert lifecycle events to connected dashboard
// clients. The hub is registered as a notifier with the alert manager and
// mounted behind the REST auth middleware, so every connection carries
// tenant identity and only ever sees its own tenant's alerts.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/api/rest"
	"github.com/novahr/security-engine/internal/domain/alert"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 16
)

type feedEvent struct {
	Event string               `json:"event"`
	Alert *alert.SecurityAlert `json:"alert"`
}

type client struct {
	conn     *websocket.Conn
	tenantID uuid.UUID
	send     chan []byte
}

type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection. Requires the auth middleware to have
// run first; connections without claims are rejected.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := rest.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, tenantID: claims.TenantID, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("alert feed client connected",
		zap.String("tenant_id", claims.TenantID.String()),
		zap.String("user_id", claims.UserID.String()))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so control frames are processed, and
// unregisters the client on close.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(tenantID uuid.UUID, event feedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode feed event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.tenantID != tenantID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop the event rather than block the
			// alert pipeline.
			h.logger.Warn("alert feed client lagging, dropping event",
				zap.String("tenant_id", tenantID.String()))
		}
	}
}

// Name implements alerting.Notifier.
func (h *Hub) Name() string { return "websocket" }

func (h *Hub) AlertCreated(_ context.Context, a *alert.SecurityAlert) error {
	h.broadcast(a.TenantID, feedEvent{Event: "alert.created", Alert: a})
	return nil
}

func (h *Hub) AlertEscalated(_ context.Context, a *alert.SecurityAlert) error {
	h.broadcast(a.TenantID, feedEvent{Event: "alert.escalated", Alert: a})
	return nil
}

// Close disconnects all clients, typically during server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
