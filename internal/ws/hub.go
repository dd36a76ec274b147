// internal/ws/hub.go
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	domain "inkgen-service/internal/domain/session"

	"go.uber.org/zap"
)

// Event types pushed to clients.
const (
	EventConnected         = "connected"
	EventSessionTerminated = "session_terminated"
)

// Event is the wire shape of a hub push.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Hub fans session lifecycle events out to connected clients, so the
// losing device of a concurrent login learns immediately instead of on
// its next request.
type Hub struct {
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	events     chan targetedEvent

	logger *zap.Logger
}

type targetedEvent struct {
	userID int64
	event  *Event
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan targetedEvent, 256),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case te := <-h.events:
			h.deliver(te)
		}
	}
}

// SessionTerminated implements the session manager's Notifier seam.
// An empty token targets every device of the user (force logout).
func (h *Hub) SessionTerminated(userID int64, sessionToken string, reason domain.LogoutReason) {
	event := &Event{
		Type: EventSessionTerminated,
		Data: map[string]interface{}{
			"reason":  string(reason),
			"message": "your session has ended on this device",
		},
		Timestamp: time.Now(),
	}
	if sessionToken != "" {
		event.Data["session_token"] = sessionToken
	}

	select {
	case h.events <- targetedEvent{userID: userID, event: event}:
	default:
		// The hub must never block the session manager.
		h.logger.Warn("ws event queue full, dropping event", zap.Int64("user_id", userID))
	}
}

// ConnectedClients reports how many connections a user holds.
func (h *Hub) ConnectedClients(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true

	h.logger.Info("ws client connected",
		zap.Int64("user_id", client.userID),
		zap.Int("total", h.totalClients()),
	)

	client.Send(&Event{
		Type:      EventConnected,
		Data:      map[string]interface{}{"user_id": client.userID},
		Timestamp: time.Now(),
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.Close()

			if len(clients) == 0 {
				delete(h.clients, client.userID)
			}
		}
	}
}

func (h *Hub) deliver(te targetedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[te.userID]
	if !ok {
		return
	}

	token, _ := te.event.Data["session_token"].(string)
	for client := range clients {
		// Targeted events only reach the connection holding the
		// terminated session; untargeted ones reach every device.
		if token != "" && client.sessionToken != token {
			continue
		}
		client.Send(te.event)
	}
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
	}
	h.clients = make(map[int64]map[*Client]bool)
}

func marshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}
