package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pv_clearsky/internal/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client represents a connected WebSocket client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ClientGauge is told the client count whenever it changes.
type ClientGauge interface {
	SetWebsocketClients(n int)
}

// Hub manages WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	gauge   ClientGauge
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// SetGauge installs g; nil disables reporting.
func (h *Hub) SetGauge(g ClientGauge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gauge = g
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.report()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.report()
	}
}

// report must be called with mu held.
func (h *Hub) report() {
	if h.gauge != nil {
		h.gauge.SetWebsocketClients(len(h.clients))
	}
}

// Broadcast sends a message to all connected clients. Clients whose buffer
// is full miss the message.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var dropped int
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Ctx(context.Background()).Warn("client buffer full, dropping message",
			slog.Int("dropped", dropped), slog.Int("clients", len(h.clients)))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump drains the send buffer and pings the peer until the hub closes
// the buffer or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
