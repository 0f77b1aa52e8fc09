package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMembers answers membership from a static map.
type fakeMembers struct {
	rooms map[string]map[string]bool
}

func (f *fakeMembers) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	return f.rooms[conversationID][userID], nil
}

func newTestHub(maxConns int) *Hub {
	return NewHub(&fakeMembers{rooms: map[string]map[string]bool{
		"conv-1": {"alice": true, "bob": true},
		"conv-2": {"alice": true},
	}}, maxConns)
}

// drain collects everything currently buffered on the client without blocking.
func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case e := <-c.send:
			out = append(out, e)
		default:
			return out
		}
	}
}

func types(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRegisterPresence(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient(h, nil, "alice", 8)
	require.NoError(t, h.Register(alice))
	assert.True(t, h.Online("alice"))
	drain(alice)

	t.Run("first connection broadcasts online", func(t *testing.T) {
		bob := NewClient(h, nil, "bob", 8)
		require.NoError(t, h.Register(bob))

		events := drain(alice)
		require.Len(t, events, 1)
		assert.Equal(t, EventPresenceUpdate, events[0].Type)
		assert.Equal(t, PresencePayload{UserID: "bob", Status: "online"}, events[0].Payload)
	})

	t.Run("second tab of the same user is silent", func(t *testing.T) {
		drain(alice)
		bob2 := NewClient(h, nil, "bob", 8)
		require.NoError(t, h.Register(bob2))
		assert.Empty(t, drain(alice))
	})
}

func TestUnregisterPresence(t *testing.T) {
	h := newTestHub(0)
	watcher := NewClient(h, nil, "alice", 8)
	require.NoError(t, h.Register(watcher))

	tab1 := NewClient(h, nil, "bob", 8)
	tab2 := NewClient(h, nil, "bob", 8)
	require.NoError(t, h.Register(tab1))
	require.NoError(t, h.Register(tab2))
	drain(watcher)

	t.Run("closing one of two tabs keeps the user online", func(t *testing.T) {
		h.Unregister(tab1)
		assert.True(t, h.Online("bob"))
		assert.Empty(t, drain(watcher))
	})

	t.Run("closing the last tab broadcasts offline", func(t *testing.T) {
		h.Unregister(tab2)
		assert.False(t, h.Online("bob"))

		events := drain(watcher)
		require.Len(t, events, 1)
		assert.Equal(t, PresencePayload{UserID: "bob", Status: "offline"}, events[0].Payload)
	})

	t.Run("double unregister is a no-op", func(t *testing.T) {
		h.Unregister(tab2)
		assert.Empty(t, drain(watcher))
	})
}

func TestJoin(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	t.Run("members join", func(t *testing.T) {
		alice := NewClient(h, nil, "alice", 8)
		require.NoError(t, h.Register(alice))
		require.NoError(t, h.Join(ctx, alice, "conv-1"))
	})

	t.Run("non-members are rejected", func(t *testing.T) {
		bob := NewClient(h, nil, "bob", 8)
		require.NoError(t, h.Register(bob))
		err := h.Join(ctx, bob, "conv-2")
		require.Error(t, err)
		assert.Equal(t, "not a participant", err.Error())
	})
}

func TestToConversation(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	alice := NewClient(h, nil, "alice", 8)
	bob := NewClient(h, nil, "bob", 8)
	require.NoError(t, h.Register(alice))
	require.NoError(t, h.Register(bob))
	require.NoError(t, h.Join(ctx, alice, "conv-1"))
	drain(alice)
	drain(bob)

	t.Run("only joined clients receive room events", func(t *testing.T) {
		h.ToConversation("conv-1", Event{Type: EventMessageDeleted})
		assert.Equal(t, []string{EventMessageDeleted}, types(drain(alice)))
		assert.Empty(t, drain(bob), "registered but not joined")
	})

	t.Run("leaving stops delivery", func(t *testing.T) {
		h.Leave(alice, "conv-1")
		h.ToConversation("conv-1", Event{Type: EventMessageDeleted})
		assert.Empty(t, drain(alice))
	})
}

func TestToUser(t *testing.T) {
	h := newTestHub(0)
	tab1 := NewClient(h, nil, "alice", 8)
	tab2 := NewClient(h, nil, "alice", 8)
	require.NoError(t, h.Register(tab1))
	require.NoError(t, h.Register(tab2))
	drain(tab1)
	drain(tab2)

	h.ToUser("alice", Event{Type: EventConversationUpdated})
	assert.Equal(t, []string{EventConversationUpdated}, types(drain(tab1)))
	assert.Equal(t, []string{EventConversationUpdated}, types(drain(tab2)), "every tab gets user events")
}

func TestTypingExcludesTyper(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	alice := NewClient(h, nil, "alice", 8)
	bob := NewClient(h, nil, "bob", 8)
	require.NoError(t, h.Register(alice))
	require.NoError(t, h.Register(bob))
	require.NoError(t, h.Join(ctx, alice, "conv-1"))
	require.NoError(t, h.Join(ctx, bob, "conv-1"))
	drain(alice)
	drain(bob)

	h.Typing("conv-1", "alice", true)

	assert.Empty(t, drain(alice), "typer does not hear their own indicator")
	events := drain(bob)
	require.Len(t, events, 1)
	assert.Equal(t, TypingPayload{ConversationID: "conv-1", UserID: "alice", Typing: true}, events[0].Payload)
}

func TestConnectionLimit(t *testing.T) {
	h := newTestHub(2)
	require.NoError(t, h.Register(NewClient(h, nil, "alice", 1)))
	require.NoError(t, h.Register(NewClient(h, nil, "bob", 1)))

	err := h.Register(NewClient(h, nil, "carol", 1))
	assert.ErrorIs(t, err, ErrHubFull)

	t.Run("a slot frees up on unregister", func(t *testing.T) {
		dave := NewClient(h, nil, "dave", 1)
		victim := NewClient(h, nil, "erin", 1)
		assert.ErrorIs(t, h.Register(victim), ErrHubFull)

		h.mu.RLock()
		var conn *Client
		for c := range h.clients["alice"] {
			conn = c
		}
		h.mu.RUnlock()
		h.Unregister(conn)
		assert.NoError(t, h.Register(dave))
	})
}

func TestSlowClientDropped(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	slow := NewClient(h, nil, "alice", 1)
	require.NoError(t, h.Register(slow))
	require.NoError(t, h.Join(ctx, slow, "conv-1"))
	drain(slow)

	// Fill the buffer, then overflow it. The overflowing send disconnects the
	// client instead of blocking the fan-out.
	h.ToConversation("conv-1", Event{Type: EventNewMessage})
	h.ToConversation("conv-1", Event{Type: EventNewMessage})

	assert.Eventually(t, func() bool { return !h.Online("alice") }, time.Second, 5*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	alice := NewClient(h, nil, "alice", 8)
	bob := NewClient(h, nil, "bob", 8)
	require.NoError(t, h.Register(alice))
	require.NoError(t, h.Register(bob))
	require.NoError(t, h.Join(ctx, alice, "conv-1"))

	h.Shutdown()

	assert.False(t, h.Online("alice"))
	assert.False(t, h.Online("bob"))
	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.rooms)
	assert.Zero(t, h.total)
}
