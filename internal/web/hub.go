package web

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scheerer/ambilamp/internal/ambilight"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1024
)

type Event struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	CreatedAt int64  `json:"created_at"`
}

// Hub fans loop events out to websocket clients. A slow client is dropped
// rather than allowed to hold up the loop.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

var _ ambilight.Reporter = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    map[*Client]struct{}{},
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			logger.With(zap.String("client", c.id), zap.Int("clients", len(h.clients))).Debug("Websocket client connected")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (e Event) encode() ([]byte, error) {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	return json.Marshal(e)
}

func (h *Hub) Publish(evt Event) {
	b, err := evt.encode()
	if err != nil {
		logger.With(zap.Error(err), zap.String("type", evt.Type)).Warn("Failed to marshal websocket event")
		return
	}
	select {
	case h.broadcast <- b:
	default:
		logger.With(zap.String("type", evt.Type)).Debug("Websocket broadcast queue full, dropping event")
	}
}

// Report implements ambilight.Reporter.
func (h *Hub) Report(s ambilight.Status) {
	h.Publish(Event{Type: "status", Payload: s, CreatedAt: s.Time.UnixMilli()})
}

type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{id: uuid.NewString(), hub: hub, conn: conn, send: make(chan []byte, 128)}
}

// Queue sends evt to this client alone. It must be called before the client
// is registered, while only the caller can touch the send channel.
func (c *Client) Queue(evt Event) {
	b, err := evt.encode()
	if err != nil {
		logger.With(zap.Error(err), zap.String("type", evt.Type)).Warn("Failed to marshal websocket event")
		return
	}
	select {
	case c.send <- b:
	default:
		logger.With(zap.String("client", c.id), zap.String("type", evt.Type)).Debug("Websocket client queue full, dropping event")
	}
}

// ReadPump only services control frames; clients never send data.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
