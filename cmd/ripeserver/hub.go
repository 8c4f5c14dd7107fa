package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans snapshot messages out to websocket clients. New clients receive
// the latest message first.
type hub struct {
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	last       []byte
	logger     logrus.FieldLogger
}

func newHub(allowed []string, logger logrus.FieldLogger) *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowed),
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.WithField("component", "websocket-hub"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			if h.last != nil {
				c.send <- h.last
			}
			h.logger.WithField("clients", len(h.clients)).Debug("client connected")
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.logger.WithField("clients", len(h.clients)).Debug("client disconnected")
		case data := <-h.broadcast:
			h.last = data
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.logger.Warn("client buffer full, dropping message")
				}
			}
		}
	}
}

func (h *hub) publish(typ string, data interface{}) {
	payload, err := json.Marshal(message{Type: typ, Timestamp: time.Now(), Data: data})
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal message")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *hub) serveWS(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.WithError(err).Warn("failed to upgrade connection")
			return
		}
		c := &client{conn: conn, send: make(chan []byte, 16)}
		select {
		case h.register <- c:
		case <-ctx.Done():
			conn.Close()
			return
		}
		go h.writePump(c)
		go h.readPump(ctx, c)
	}
}

// readPump discards client messages and unregisters the client when the
// connection drops.
func (h *hub) readPump(ctx context.Context, c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("websocket read error")
			}
			return
		}
	}
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
