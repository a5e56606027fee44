package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/efreitasn/tokex/internal/audit"
	"github.com/efreitasn/tokex/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscribeMessage is the client -> server control message. An empty
// instrument list means all instruments.
type subscribeMessage struct {
	Op          string   `json:"op"`
	Instruments []string `json:"instruments"`
}

// EventHub fans audit events out to connected WebSocket clients.
// Clients receive events in sequence order; a client that cannot keep
// up with its send buffer is disconnected rather than allowed to stall
// the feed.
type EventHub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*eventClient]bool
}

// NewEventHub creates a new EventHub.
func NewEventHub(log *zap.Logger) *EventHub {
	return &EventHub{
		log:     log,
		clients: make(map[*eventClient]bool),
	}
}

// Run subscribes to the emitter and broadcasts until ctx is done.
func (h *EventHub) Run(ctx context.Context, emitter *audit.Emitter, buffer int) {
	events, cancel := emitter.Subscribe(buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *EventHub) broadcast(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.wants(ev.InstrumentID) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow client. Drop it instead of blocking the feed.
			delete(h.clients, c)
			close(c.send)
			h.log.Warn("dropped slow event subscriber", zap.String("remote", c.remote))
		}
	}
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *EventHub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("event subscriber connected", zap.String("remote", c.remote), zap.Int("total", total))
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("event subscriber disconnected", zap.String("remote", c.remote), zap.Int("total", total))
}

// eventClient is one WebSocket connection.
type eventClient struct {
	hub    *EventHub
	conn   *websocket.Conn
	send   chan []byte
	remote string

	filterMu    sync.RWMutex
	instruments map[string]bool
}

// wants reports whether the client's filter matches the instrument. No
// filter means everything.
func (c *eventClient) wants(instrumentID string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.instruments) == 0 {
		return true
	}
	return c.instruments[instrumentID]
}

func (c *eventClient) setFilter(instruments []string) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.instruments = make(map[string]bool, len(instruments))
	for _, id := range instruments {
		c.instruments[id] = true
	}
}

// readPump consumes control messages until the connection drops.
func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg subscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Op == "subscribe" {
			c.setFilter(msg.Instruments)
		}
	}
}

// writePump pushes broadcast events and keepalive pings.
func (c *eventClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles GET /api/v1/events/ws.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &eventClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		remote: conn.RemoteAddr().String(),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}
