// Package gateway terminates client sessions over a message-framed
// transport, authenticates the handshake, dispatches inbound events, and
// emits outbound events with per-session duplicate suppression.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"chatcore/internal/fanout"
	"chatcore/internal/models"
)

// Hub tracks every live client, keyed by user id so an emit can reach every
// socket a user currently has open, and keyed by conversation id so a room
// broadcast need only look up its own roster.
type Hub struct {
	mu            sync.RWMutex
	clientsByUser map[string]map[*Client]bool
	roomMembers   map[string]map[*Client]bool

	presence Presence
	fanout   *fanout.Fanout
}

// Presence is the subset of the presence registry the hub drives directly
// at connect/disconnect time; heartbeat extension is driven by the client
// itself.
type Presence interface {
	RegisterConnection(ctx context.Context, userID string, binding models.SessionBinding) error
	Unregister(ctx context.Context, userID, socketID string) error
}

// NewHub constructs an empty Hub.
func NewHub(presence Presence, fo *fanout.Fanout) *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
		roomMembers:   make(map[string]map[*Client]bool),
		presence:      presence,
		fanout:        fo,
	}
}

// register adds a client to the hub and records its presence binding.
func (h *Hub) register(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clientsByUser[c.userID]; !ok {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
	h.mu.Unlock()

	if h.presence != nil {
		if err := h.presence.RegisterConnection(ctx, c.userID, models.SessionBinding{
			SocketID:    c.socketID,
			InstanceID:  c.instanceID,
			ConnectedAt: c.connectedAt,
		}); err != nil {
			slog.Warn("presence registration failed, session remains open", "user_id", c.userID, "error", err)
		}
	}
}

// unregister removes a client from the hub, every room it joined, and its
// presence binding.
func (h *Hub) unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if userClients, ok := h.clientsByUser[c.userID]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
	for conversationID := range c.rooms {
		if members, ok := h.roomMembers[conversationID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.roomMembers, conversationID)
			}
		}
	}
	h.mu.Unlock()

	if h.presence != nil {
		if err := h.presence.Unregister(ctx, c.userID, c.socketID); err != nil {
			slog.Warn("presence unregister failed", "user_id", c.userID, "error", err)
		}
	}
}

// joinRoom adds a client to a conversation's roster.
func (h *Hub) joinRoom(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.roomMembers[conversationID]; !ok {
		h.roomMembers[conversationID] = make(map[*Client]bool)
	}
	h.roomMembers[conversationID][c] = true
	c.rooms[conversationID] = true
}

// leaveRoom removes a client from a conversation's roster.
func (h *Hub) leaveRoom(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.roomMembers[conversationID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.roomMembers, conversationID)
		}
	}
	delete(c.rooms, conversationID)
}

// broadcastToRoom emits an event to every client currently joined to a
// conversation, optionally excluding one client (typically the sender, who
// already received a distinct `message_sent`/`conversation_joined` ack).
func (h *Hub) broadcastToRoom(conversationID string, exclude *Client, eventType string, payload interface{}) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.roomMembers[conversationID]))
	for c := range h.roomMembers[conversationID] {
		if c != exclude {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.emit(eventType, payload)
	}
}

// emitToUser delivers an event to every live socket a user has open,
// regardless of room membership. Nothing in the package calls it.
func (h *Hub) emitToUser(userID string, eventType string, payload interface{}) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clientsByUser[userID]))
	for c := range h.clientsByUser[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.emit(eventType, payload)
	}
}

// DrainDeliveries consumes the fanout queue until ctx is cancelled,
// delivering each entry to the recipient's live sockets (if any are
// connected on this instance) and recording a `delivered` receipt.
// This is the decoupling point between the delivery pipeline and
// transport: fanout never touches the hub directly.
func (h *Hub) DrainDeliveries(ctx context.Context, queue fanout.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-queue:
			if !ok {
				return
			}
			h.deliver(ctx, d)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, d fanout.Delivery) {
	h.mu.RLock()
	clients, ok := h.clientsByUser[d.RecipientID]
	h.mu.RUnlock()
	if !ok || len(clients) == 0 {
		return
	}

	payload := messagePayload(d.Envelope)
	for c := range clients {
		if c.dedupe.seen(d.Envelope.MessageID) {
			continue
		}
		c.dedupe.record(d.Envelope.MessageID)
		c.emit("new_message", payload)
	}
	if h.fanout != nil {
		h.fanout.RecordDelivered(ctx, d.Envelope.MessageID, d.RecipientID)
	}
}
