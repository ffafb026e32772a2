// Package realtime broadcasts committed attendance changes to websocket
// clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/rs/zerolog"
)

const sendBuffer = 32

// Message is what clients receive. Subject ids are not broadcast.
type Message struct {
	Type     registrations.NoticeType `json:"type"`
	EventID  string                   `json:"event_id"`
	RecordID string                   `json:"record_id"`
	Position *int                     `json:"position,omitempty"`
}

// Hub fans notices out to connected clients. It satisfies
// registrations.Notifier and never blocks the caller: a client whose
// buffer is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  zerolog.Logger
}

type client struct {
	eventID string // empty receives every event
	send    chan []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With().Str("component", "realtime").Logger(),
	}
}

func (h *Hub) Notify(_ context.Context, notice registrations.Notice) {
	payload, err := json.Marshal(Message{
		Type:     notice.Type,
		EventID:  notice.EventID,
		RecordID: notice.RecordID,
		Position: notice.Position,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode notice")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.eventID != "" && c.eventID != notice.EventID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.dropLocked(c)
			metrics.RealtimeDropped.Inc()
			h.logger.Warn().Str("event_id", c.eventID).Msg("dropping slow websocket client")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) join(eventID string) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{eventID: eventID, send: make(chan []byte, sendBuffer)}
	h.clients[c] = struct{}{}
	metrics.RealtimeClients.Inc()
	return c, true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// dropLocked closes the client's channel once; the writer then sends a
// close frame and exits.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.RealtimeClients.Dec()
}
