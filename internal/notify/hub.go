// Package notify pushes queue-change events to in-process subscribers and
// to websocket clients, so that processors react before their next poll.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventJobEnqueued = "job_enqueued"
	EventJobUpdated  = "job_updated"
	EventHeartbeat   = "heartbeat"
)

type Event struct {
	Type   string    `json:"type"`
	JobID  string    `json:"job_id,omitempty"`
	Status string    `json:"status,omitempty"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

const (
	sendBuffer      = 64
	subscribeBuffer = 16
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	source     string
	clients    map[*client]bool
	subs       map[chan Event]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	done       chan struct{}
}

// NewHub creates a hub that stamps published events with source.
func NewHub(source string) *Hub {
	return &Hub{
		source:     source,
		clients:    make(map[*client]bool),
		subs:       make(map[chan Event]struct{}),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run owns the websocket client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow reader
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish delivers e to every subscriber without blocking. Subscribers that
// are not keeping up miss the event; the processor's poll covers the gap.
func (h *Hub) Publish(e Event) {
	if e.Source == "" {
		e.Source = h.source
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
	h.mu.RUnlock()

	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[notify] failed to encode event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[notify] broadcast buffer full, dropping %s", e.Type)
	}
}

// Subscribe returns a channel of events published on this hub. The channel is
// closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscribeBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events to the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[notify] websocket upgrade error: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; clients do not send events.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[notify] websocket error: %v", err)
			}
			return
		}
	}
}

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
