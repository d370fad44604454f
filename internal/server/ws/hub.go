// Package ws fans committed engine events out to websocket clients. Clients
// receive every event by default and may narrow the feed to chosen streams.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// eventPattern matches every per-stream and community event channel.
	eventPattern = "events:*"
	allChannels  = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// controlMsg is what a client sends to change its feed. Streams are
// addresses; "community" selects community vault events; "*" selects all.
type controlMsg struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub manages connected clients and forwards bus messages to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	onClients  func(int)
	mu         sync.RWMutex
	logger     *slog.Logger
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a hub over bus. onClients, when set, is told the client
// count after every change.
func NewHub(bus domain.SignalBus, onClients func(int), logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		onClients:  onClients,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to the event channels and serves clients until ctx is
// done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, eventPattern)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.clientsChanged("ws: client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.clientsChanged("ws: client disconnected")

		case data, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			h.fanOut(data)
		}
	}
}

func (h *Hub) clientsChanged(msg string) {
	n := h.clientCount()
	h.logger.Info(msg, slog.Int("total_clients", n))
	if h.onClients != nil {
		h.onClients(n)
	}
}

// fanOut routes one event payload to the clients subscribed to its stream.
func (h *Hub) fanOut(data []byte) {
	var ev struct {
		Stream domain.Address `json:"stream"`
	}
	channel := "community"
	if err := json.Unmarshal(data, &ev); err == nil && !ev.Stream.IsZero() {
		channel = strings.ToLower(ev.Stream.Hex())
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allChannels: true},
	}
	for _, s := range r.URL.Query()["stream"] {
		c.subscribe([]string{s}, true)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump handles control messages until the connection fails.
func (c *client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subscribe(msg.Streams, true)
		case "unsubscribe":
			c.subscribe(msg.Streams, false)
		}
	}
}

// subscribe adds or removes channels. Naming a specific stream replaces the
// default subscription to everything.
func (c *client) subscribe(streams []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range streams {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if s != allChannels && s != "community" {
			a, err := domain.ParseAddress(s)
			if err != nil {
				continue
			}
			s = strings.ToLower(a.Hex())
		}
		if on {
			if s != allChannels {
				delete(c.subs, allChannels)
			}
			c.subs[s] = true
		} else {
			delete(c.subs, s)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allChannels] || c.subs[channel]
}

// writePump writes queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
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
