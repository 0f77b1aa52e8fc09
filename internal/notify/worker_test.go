package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records delivery attempts and returns a scripted error.
type fakeSender struct {
	name  string
	err   error
	calls []Intent
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) Send(_ context.Context, in Intent) error {
	s.calls = append(s.calls, in)
	return s.err
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()

	t.Run("first sender with a route wins", func(t *testing.T) {
		push := &fakeSender{name: ChannelPush}
		email := &fakeSender{name: ChannelEmail}
		w := &Worker{senders: []Sender{push, email}}

		require.NoError(t, w.deliver(ctx, Intent{ID: "i1", Recipient: "u1"}))
		assert.Len(t, push.calls, 1)
		assert.Empty(t, email.calls, "no fallthrough after success")
	})

	t.Run("no-route falls through to the next channel", func(t *testing.T) {
		push := &fakeSender{name: ChannelPush, err: ErrNoRoute}
		email := &fakeSender{name: ChannelEmail}
		w := &Worker{senders: []Sender{push, email}}

		require.NoError(t, w.deliver(ctx, Intent{ID: "i1", Recipient: "u1"}))
		assert.Len(t, push.calls, 1)
		assert.Len(t, email.calls, 1)
	})

	t.Run("no route anywhere", func(t *testing.T) {
		push := &fakeSender{name: ChannelPush, err: ErrNoRoute}
		email := &fakeSender{name: ChannelEmail, err: ErrNoRoute}
		w := &Worker{senders: []Sender{push, email}}

		err := w.deliver(ctx, Intent{ID: "i1", Recipient: "u1"})
		assert.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("channel hint skips other senders", func(t *testing.T) {
		push := &fakeSender{name: ChannelPush}
		email := &fakeSender{name: ChannelEmail}
		w := &Worker{senders: []Sender{push, email}}

		require.NoError(t, w.deliver(ctx, Intent{ID: "i1", Recipient: "u1", Channel: ChannelEmail}))
		assert.Empty(t, push.calls)
		assert.Len(t, email.calls, 1)
	})

	t.Run("transient failure surfaces with the channel name", func(t *testing.T) {
		boom := errors.New("smtp down")
		email := &fakeSender{name: ChannelEmail, err: boom}
		w := &Worker{senders: []Sender{email}}

		err := w.deliver(ctx, Intent{ID: "i1", Recipient: "u1", Channel: ChannelEmail})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), ChannelEmail)
	})
}
