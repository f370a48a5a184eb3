package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"tola_ledger/internal/logger"
)

// Hub fans ledger events out to connected clients. A user may hold several
// connections; events for user 0 go to everyone.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	log     *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		log:     logger.With("component", "ws_hub"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes the client and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.Send)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
}

// Publish implements service.Publisher. Clients whose queue is full are
// dropped rather than blocking the publisher.
func (h *Hub) Publish(userID int64, eventType string, payload any) {
	msg, err := json.Marshal(Message{Type: eventType, Data: payload})
	if err != nil {
		h.log.Error("marshal event", "type", eventType, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	deliver := func(set map[*Client]struct{}) {
		for c := range set {
			select {
			case c.Send <- msg:
			default:
				slow = append(slow, c)
			}
		}
	}
	if userID == 0 {
		for _, set := range h.clients {
			deliver(set)
		}
	} else {
		deliver(h.clients[userID])
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow client", "user_id", c.UserID)
		h.Unregister(c)
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
