package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optx/venue-engine/internal/metrics"
	"github.com/optx/venue-engine/internal/pricing"
)

// Envelope is a typed JSON message sent to WebSocket clients.
type Envelope struct {
	Type    string      `json:"type"` // "price" | "signal" | "trade"
	Payload interface{} `json:"payload"`
}

// client is one WebSocket connection. Writes from the broadcast loop and
// the per-connection ping goroutine are serialized through mu —
// gorilla/websocket permits at most one concurrent writer per Conn.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans price ticks and venue events out to WebSocket clients. Slow
// clients are dropped rather than allowed to stall the feed.
type Hub struct {
	prices *pricing.Simulator

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

// NewHub creates a hub. prices may be nil in tests that broadcast manually.
func NewHub(prices *pricing.Simulator) *Hub {
	return &Hub{
		prices:     prices,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub until ctx is cancelled. It subscribes to the price
// feed and relays every tick to connected clients.
func (h *Hub) Run(ctx context.Context) {
	var ticks <-chan pricing.Update
	if h.prices != nil {
		var unsub func()
		ticks, unsub = h.prices.Subscribe(256)
		defer unsub()
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case update := <-ticks:
			h.Broadcast("price", update)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if err := c.write(websocket.TextMessage, msg); err != nil {
					c.conn.Close()
					delete(h.clients, c)
				}
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an envelope for all connected clients. Drops the
// message when the queue is full so publishers never block.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	metrics.WebSocketClients.Set(0)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS upgrades GET /api/v1/ws requests and attaches the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn}
	h.register <- c

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- c }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. Pings go
	// through the client's write lock, never raw on the Conn.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[c]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
