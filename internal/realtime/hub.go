package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/events"
)

// Hub is the fan-out router: it keeps ticket-scoped subscriber groups over
// live connections and delivers events to every current subscriber of a
// ticket. Delivery is best-effort with no persistence or replay; a viewer
// that connects late fetches current state through the HTTP API instead.
//
// The registry is only ever mutated through Subscribe, Unsubscribe and
// Disconnect.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	logger *zap.Logger
}

// NewHub creates an empty router.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Run blocks until ctx is cancelled, then closes every connected client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	seen := make(map[*Client]struct{})
	for _, group := range h.groups {
		for client := range group {
			seen[client] = struct{}{}
		}
	}
	h.groups = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for client := range seen {
		client.closeSend()
	}
	h.logger.Info("fan-out hub stopped")
	return nil
}

// Subscribe joins the client to the ticket's viewer group. A connection may
// join any number of groups.
func (h *Hub) Subscribe(client *Client, ticketID string) {
	if ticketID == "" {
		return
	}
	h.mu.Lock()
	group, ok := h.groups[ticketID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[ticketID] = group
	}
	group[client] = struct{}{}
	h.mu.Unlock()

	client.trackJoin(ticketID)
	h.logger.Debug("viewer subscribed", zap.String("ticket_id", ticketID))
}

// Unsubscribe removes the client from one ticket group.
func (h *Hub) Unsubscribe(client *Client, ticketID string) {
	h.mu.Lock()
	h.removeLocked(client, ticketID)
	h.mu.Unlock()

	client.trackLeave(ticketID)
}

// Disconnect removes the client from every group it joined.
func (h *Hub) Disconnect(client *Client) {
	joined := client.joinedTickets()

	h.mu.Lock()
	for _, ticketID := range joined {
		h.removeLocked(client, ticketID)
	}
	h.mu.Unlock()

	client.closeSend()
}

func (h *Hub) removeLocked(client *Client, ticketID string) {
	group, ok := h.groups[ticketID]
	if !ok {
		return
	}
	delete(group, client)
	if len(group) == 0 {
		delete(h.groups, ticketID)
	}
}

// SubscriberCount reports current viewers of a ticket.
func (h *Hub) SubscriberCount(ticketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[ticketID])
}

// Publish delivers the event to every current subscriber of the ticket.
// Slow consumers whose send buffer is full are skipped rather than blocked
// on; publish never fails the triggering write.
func (h *Hub) Publish(ticketID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.groups[ticketID]))
	for client := range h.groups[ticketID] {
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	for _, client := range subscribers {
		if !client.enqueue(data) {
			h.logger.Warn("viewer send buffer full, dropping event",
				zap.String("ticket_id", ticketID),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// AttachDispatcher forwards ticket events from the domain dispatcher to the
// ticket's viewer group.
func (h *Hub) AttachDispatcher(dispatcher events.Dispatcher) {
	forward := func(_ context.Context, event events.Event) error {
		h.Publish(event.TicketID, event)
		return nil
	}
	dispatcher.Subscribe(events.EventTicketStatusChanged, forward)
	dispatcher.Subscribe(events.EventTicketAssigned, forward)
	dispatcher.Subscribe(events.EventTicketMessageAdded, forward)
}
