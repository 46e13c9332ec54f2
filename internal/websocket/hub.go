// Package websocket streams scheduler events to connected calendar pages.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"concierge/internal/events"

	"github.com/rs/zerolog"
)

// Message is one event as sent to the browser.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewMessage encodes payload into a Message of the given type.
func NewMessage(eventType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: eventType, Payload: raw, At: time.Now()}, nil
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "ws_hub").Logger()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  l,
	}
}

// Attach forwards every event published on bus to the connected clients.
func (h *Hub) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(e *events.Event) error {
		h.Broadcast(Message{Type: e.Type, Payload: e.Payload, At: e.CreatedAt})
		return nil
	})
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Join registers c with greeting as its first queued message. The greeting is
// built while broadcasts are held off, so every event published after the
// snapshot was taken reaches c behind it.
func (h *Hub) Join(c *Client, greeting SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if greeting != nil {
		msg, err := NewMessage("snapshot", greeting())
		var data []byte
		if err == nil {
			data, err = json.Marshal(msg)
		}
		if err != nil {
			h.logger.Error().Err(err).Msg("encode snapshot")
		} else {
			c.send <- data
		}
	}
	h.clients[c] = struct{}{}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients. Slow clients miss it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("type", msg.Type).Msg("client buffer full, message dropped")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
