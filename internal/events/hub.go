// Package events fans team activity out to live subscribers over
// Server-Sent Events and websockets.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event types published on a team stream.
const (
	TypeTeamChanged = "team_changed"
)

const defaultBuffer = 16

// Event is one message on a team stream.
type Event struct {
	Type       string    `json:"type"`
	TeamID     string    `json:"team_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Subscription receives events for one team until it is cancelled.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	teamID string
	hub    *Hub
	once   sync.Once
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub manages stream subscriptions by team ID.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*Subscription]struct{}
	buffer  int
	logger  *slog.Logger
	now     func() time.Time
}

// NewHub creates an initialised Hub. Each subscriber buffers up to buffer
// events; a subscriber that falls further behind misses events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		logger:  logger.With("component", "event_hub"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a subscriber for teamID.
func (h *Hub) Subscribe(teamID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, teamID: teamID, hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[teamID]; !ok {
		h.clients[teamID] = make(map[*Subscription]struct{})
	}
	h.clients[teamID][sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[sub.teamID]; ok {
		delete(clients, sub)
		if len(clients) == 0 {
			delete(h.clients, sub.teamID)
		}
	}
	close(sub.ch)
}

// Publish delivers ev to every subscriber of ev.TeamID without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients[ev.TeamID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("event dropped for slow subscriber", "team_id", ev.TeamID, "type", ev.Type)
		}
	}
}

// Subscribers reports how many streams are open for teamID.
func (h *Hub) Subscribers(teamID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[teamID])
}

// TeamChanged publishes a team_changed event. It lets the hub observe the
// team, invitation, consensus and assignment services.
func (h *Hub) TeamChanged(ctx context.Context, teamID string) {
	h.Publish(Event{Type: TypeTeamChanged, TeamID: teamID})
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
