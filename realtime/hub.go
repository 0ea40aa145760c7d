// realtime/hub.go
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const sendBuffer = 32

// Envelope is the wire shape of every outbound event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client is one registered connection. Messages arrive on Send until the hub unregisters it.
type Client struct {
	ID   string
	Send chan []byte
}

// Hub fans events out to connections and match rooms. Delivery never blocks:
// a client whose buffer is full loses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) Register(connID string) *Client {
	c := &Client{ID: connID, Send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[connID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Str("conn", connID).Int("connection_count", count).Msg("WebSocket client registered")
	return c
}

// Unregister removes the connection from the hub and its rooms and closes its Send channel.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
		for room, members := range h.rooms {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		close(c.Send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info().Str("conn", connID).Int("connection_count", count).Msg("WebSocket client unregistered")
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return nil, false
	}
	return msg, true
}

// deliver requires h.mu to be held.
func (h *Hub) deliver(connID string, msg []byte, event string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn().Str("conn", connID).Str("event", event).Msg("send buffer full, dropping event")
	}
}

func (h *Hub) Send(connID, event string, payload any) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(connID, msg, event)
}

func (h *Hub) JoinRoom(room string, connIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	for _, id := range connIDs {
		if _, live := h.clients[id]; live {
			members[id] = struct{}{}
		}
	}
}

func (h *Hub) Broadcast(room, event string, payload any) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.rooms[room] {
		h.deliver(id, msg, event)
	}
}

func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	delete(h.rooms, room)
	h.mu.Unlock()
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
