// Package websocket pushes UI events to dashboard clients in real time
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

var _ ports.Broadcaster = (*EventHub)(nil)

// EventHub manages WebSocket connections and fans engine events out to them.
// Fan-out pattern: 1 engine -> N dashboard clients. Delivery is at-most-once:
// a full buffer drops the event rather than blocking the engine.
type EventHub struct {
	// Registered clients map (client -> struct{})
	clients map[*Client]struct{}

	// Buffered channel for encoded events (Non-blocking, Drop-if-full strategy)
	broadcast chan outbound

	// Register/Unregister channels for client management
	register   chan *Client
	unregister chan *Client

	// Mutex for thread-safe client map access
	mu sync.RWMutex

	// Optional shared secret required as ?secret_key=
	secretKey string

	upgrader websocket.Upgrader
	drops    atomic.Int64

	// done is closed when Run returns
	done chan struct{}
}

// Client represents a connected WebSocket client
type Client struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte

	// conversationID limits the client to one conversation's events; global
	// events without a conversation always pass
	conversationID string
}

// outbound is an encoded event with its routing key
type outbound struct {
	conversationID string
	data           []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewEventHub creates a hub. An empty secretKey accepts every client.
func NewEventHub(secretKey string) *EventHub {
	return &EventHub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		secretKey:  secretKey,
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard may be served from another origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run is the hub's event loop; it returns when ctx ends, disconnecting everyone
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Event stream client connected",
				"total", total,
				"conversation_filter", client.conversationID,
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Event stream client disconnected", "total", total)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.conversationID != "" && msg.conversationID != "" && client.conversationID != msg.conversationID {
					continue
				}
				// Non-blocking send: a slow client misses events, it never stalls the hub
				select {
				case client.send <- msg.data:
				default:
					h.drops.Add(1)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements ports.Broadcaster. It never blocks.
func (h *EventHub) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode UI event", "error", err, "type", event.Type)
		return
	}
	select {
	case h.broadcast <- outbound{conversationID: event.ConversationID, data: data}:
	default:
		// Channel full -> drop; clients recover by polling conversation state
		h.drops.Add(1)
	}
}

// Dropped returns how many event deliveries were skipped for full buffers
func (h *EventHub) Dropped() int64 {
	return h.drops.Load()
}

// ServeWS handles WebSocket upgrade requests
// Route: /ws/events[?conversation_id=...][&secret_key=...]
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.secretKey != "" && r.URL.Query().Get("secret_key") != h.secretKey {
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		slog.Warn("Unauthorized WebSocket attempt", "remote_addr", r.RemoteAddr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, clientBufferSize),
		conversationID: r.URL.Query().Get("conversation_id"),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the current number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains the connection (mostly pong responses)
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
	}
}

// writePump sends one JSON event per text frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
