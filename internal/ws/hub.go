package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/metrics"
)

// MembershipChecker answers whether a user may join a conversation room.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// ErrHubFull is returned by Register when the connection ceiling is reached.
var ErrHubFull = errors.New("connection limit reached")

// Hub is the process-local fan-out registry: connections indexed by user id,
// rooms indexed by conversation id. Everything here is rebuildable; a
// reconnecting client re-joins its rooms and re-fetches missed history over
// the REST API.
type Hub struct {
	members  MembershipChecker
	maxConns int

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	total   int
}

func NewHub(members MembershipChecker, maxConns int) *Hub {
	return &Hub{
		members:  members,
		maxConns: maxConns,
		clients:  make(map[string]map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
	}
}

// Register adds the client. The first connection of a user flips them online
// for everyone; additional tabs are silent.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if h.maxConns > 0 && h.total >= h.maxConns {
		h.mu.Unlock()
		return ErrHubFull
	}
	set, existed := h.clients[c.userID]
	if !existed {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.total++
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	if !existed {
		h.broadcastGlobal(PresenceEvent(c.userID, "online"))
	}
	return nil
}

// Unregister removes the client from the user index and every room. The last
// connection of a user flips them offline. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	h.total--
	lastConn := len(set) == 0
	if lastConn {
		delete(h.clients, c.userID)
	}
	for room := range c.rooms {
		h.dropFromRoom(room, c)
	}
	h.mu.Unlock()

	c.close()
	metrics.WSConnections.Dec()
	if lastConn {
		h.broadcastGlobal(PresenceEvent(c.userID, "offline"))
	}
}

// caller holds h.mu
func (h *Hub) dropFromRoom(conversationID string, c *Client) {
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// Join subscribes the client to a conversation room after a membership check.
func (h *Hub) Join(ctx context.Context, c *Client, conversationID string) error {
	ok, err := h.members.IsMember(ctx, conversationID, c.userID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("not a participant")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, exists := h.rooms[conversationID]
	if !exists {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
	return nil
}

// Leave unsubscribes the client from a room.
func (h *Hub) Leave(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromRoom(conversationID, c)
	delete(c.rooms, conversationID)
}

// ToConversation delivers the event to every client joined to the room.
// Best-effort: a client whose buffer is full is dropped, not waited on.
func (h *Hub) ToConversation(conversationID string, e Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	metrics.EventsBroadcast.WithLabelValues(e.Type).Inc()
	for _, c := range targets {
		h.send(c, e)
	}
}

// ToUser delivers the event to every connection of one user.
func (h *Hub) ToUser(userID string, e Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	metrics.EventsBroadcast.WithLabelValues(e.Type).Inc()
	for _, c := range targets {
		h.send(c, e)
	}
}

// Online reports whether the user has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Typing relays a typing indicator to the room, excluding the typer's own
// connections. Nothing is persisted.
func (h *Hub) Typing(conversationID, userID string, typing bool) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		if c.userID != userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	e := Event{Type: EventUserTyping, Payload: TypingPayload{
		ConversationID: conversationID, UserID: userID, Typing: typing,
	}}
	metrics.EventsBroadcast.WithLabelValues(e.Type).Inc()
	for _, c := range targets {
		h.send(c, e)
	}
}

func (h *Hub) broadcastGlobal(e Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, set := range h.clients {
		for c := range set {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	metrics.EventsBroadcast.WithLabelValues(e.Type).Inc()
	for _, c := range targets {
		h.send(c, e)
	}
}

// send is non-blocking: a full buffer means the client cannot keep up and is
// disconnected rather than allowed to stall the fan-out.
func (h *Hub) send(c *Client, e Event) {
	select {
	case c.send <- e:
	default:
		logger.Errorf("ws: dropping slow client user=%s", c.userID)
		go h.Unregister(c)
	}
}

// Shutdown closes every connection. Called on graceful stop after the HTTP
// server has drained.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, set := range h.clients {
		for c := range set {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.Unregister(c)
	}
}
