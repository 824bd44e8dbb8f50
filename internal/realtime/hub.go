package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer bounds the per-client outbound queue. A client that cannot
	// keep up is dropped rather than backpressuring the publisher.
	sendBuffer = 32
)

// envelope is the wire format for every fan-out message.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub groups websocket clients into per-owner rooms and broadcasts named
// events to them. Publishing is best-effort: a full or dead client is
// dropped, never waited on.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int64]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int64]map[*client]struct{}),
	}
}

// Join registers a connection under the owner's room and runs its read and
// write pumps. It returns when the connection is gone.
func (h *Hub) Join(ownerID int64, conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	room, ok := h.rooms[ownerID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[ownerID] = room
	}
	room[c] = struct{}{}
	clients := len(room)
	h.mu.Unlock()

	log.Printf("Socket connected: owner:%d clients:%d", ownerID, clients)

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	if room, ok := h.rooms[ownerID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, ownerID)
		}
	}
	h.mu.Unlock()
	close(c.send)

	log.Printf("Socket disconnected: owner:%d", ownerID)
}

// PublishToOwner broadcasts an event to every client in the owner's room.
// Failures are swallowed; the durable ledger state is the source of truth,
// not this stream.
func (h *Hub) PublishToOwner(ownerID int64, event string, payload any) {
	message, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		log.Printf("Failed to encode %s event for owner %d: %v", event, ownerID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[ownerID] {
		select {
		case c.send <- message:
		default:
			// Slow client; skip. The read pump will reap it eventually.
		}
	}
}

// Rooms returns the number of active owner rooms, for tests.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Clients returns the client count in the owner's room, for tests.
func (h *Hub) Clients(ownerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[ownerID])
}

func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// Clients never send application messages; this loop exists to
		// process control frames and detect the close.
		if _, _, err := c.conn.ReadMessage(); err != nil {
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
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
