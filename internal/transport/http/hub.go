package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleet-monitor/tracking/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub streams fleet snapshots to every connected dashboard. A client
// that cannot keep up is disconnected rather than slowing the others.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	latest  []byte
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[string]*client)}
}

// Broadcast is registered as an engine observer.
func (h *Hub) Broadcast(snap domain.FleetSnapshot) {
	msg, err := json.Marshal(snap)
	if err != nil {
		h.log.Error("snapshot marshal failed", "action", "ws_marshal_failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = msg
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow websocket client", "action", "ws_client_dropped", "client_id", id)
			delete(h.clients, id)
			close(c.send)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	if h.latest != nil {
		c.send <- h.latest
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "action", "ws_upgrade_failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(c)
	h.log.Info("websocket client connected", "action", "ws_connected", "client_id", c.id)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the peer going away; dashboards send nothing.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c.id)
		c.conn.Close()
		h.log.Info("websocket client disconnected", "action", "ws_disconnected", "client_id", c.id)
	}()

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

func (h *Hub) writePump(c *client) {
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
				c.conn.WriteMessage(websocket.CloseMessage, nil)
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
