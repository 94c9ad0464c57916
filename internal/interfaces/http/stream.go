package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/aureon/internal/scan"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// StreamMessage is one frame on /ws/opportunities.
type StreamMessage struct {
	Type        string            `json:"type"`
	Opportunity *scan.Opportunity `json:"opportunity,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans opportunities out to websocket clients. Each client has a
// bounded send buffer; a client whose buffer is full is disconnected
// rather than allowed to stall the broadcast.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	onCount  func(n int)

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates a hub with a per-client buffer of bufferSize messages.
// onCount, when set, is called with the client count after every change.
func NewHub(bufferSize int, onCount func(n int)) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  bufferSize,
		onCount: onCount,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		writeError(w, r, http.StatusServiceUnavailable, "shutting_down", "Stream is closing")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "stream").Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, h.buffer)}
	hello, _ := json.Marshal(StreamMessage{Type: "connected", Timestamp: time.Now().UTC()})
	c.send <- hello
	if !h.add(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("component", "stream").Int("clients", n).Msg("Client connected")
	h.count(n)
	return true
}

// remove closes the client's send channel once; the write pump then closes
// the connection.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("component", "stream").Int("clients", n).Msg("Client disconnected")
	h.count(n)
}

func (h *Hub) count(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Broadcast sends v to every client without blocking.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("component", "stream").Msg("Broadcast marshal failed")
		return
	}

	var slow []*wsClient
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		log.Warn().Str("component", "stream").Int("buffer", h.buffer).Msg("Dropping slow stream client")
		h.remove(c)
	}
}

// Publish matches the scanner's emit hook.
func (h *Hub) Publish(opp scan.Opportunity) {
	h.Broadcast(StreamMessage{Type: "opportunity", Opportunity: &opp, Timestamp: time.Now().UTC()})
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
