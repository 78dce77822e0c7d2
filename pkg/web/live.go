package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"estimator/pkg/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

const persistNotice = "Your changes are shown but could not be saved."

// liveMessage is one frame pushed to browsers.
type liveMessage struct {
	Type    string `json:"type"`
	HTML    string `json:"html,omitempty"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub fans table updates and notices out to every connected browser.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	notice  string
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub with no clients. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger.With("component", "live"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// Table pushes a freshly rendered table. A successful change also clears any
// standing notice.
func (h *Hub) Table(html string) {
	h.mu.Lock()
	h.notice = ""
	h.mu.Unlock()
	h.broadcast(liveMessage{Type: "table", HTML: html})
}

// PersistFailed tells every browser that the latest change was not saved.
func (h *Hub) PersistFailed(err error) {
	h.logger.Warn("notifying clients of failed save", "error", err)
	h.mu.Lock()
	h.notice = persistNotice
	h.mu.Unlock()
	h.broadcast(liveMessage{Type: "notice", Level: "error", Message: persistNotice})
}

// Notice returns the notice currently standing, if any.
func (h *Hub) Notice() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notice
}

// Clients reports the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.drop(c)
	}
}

// ServeHTTP upgrades the request and holds the connection until the browser leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Debug("live client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()
	h.unregister(c)
	h.logger.Debug("live client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.LiveClientConnected()
	}
	if h.notice != "" {
		if data, err := json.Marshal(liveMessage{Type: "notice", Level: "error", Message: h.notice}); err == nil {
			c.send <- data
		}
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.drop(c)
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	if h.metrics != nil {
		h.metrics.LiveClientDisconnected()
	}
}

// broadcast never blocks: a client whose buffer is full loses its oldest frame.
// Table frames are full snapshots, so the newest one is all that matters.
func (h *Hub) broadcast(msg liveMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("live message encoding failed", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			continue
		default:
		}
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// readLoop discards browser frames and returns once the connection is gone.
func (c *client) readLoop() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
