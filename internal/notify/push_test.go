package notify

import (
	"context"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestSubscriptions(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	sub1 := webpush.Subscription{Endpoint: "https://push.example/ep1"}
	sub2 := webpush.Subscription{Endpoint: "https://push.example/ep2"}

	require.NoError(t, SaveSubscription(ctx, rdb, "u1", sub1))
	require.NoError(t, SaveSubscription(ctx, rdb, "u1", sub2))

	subs, err := rdb.HGetAll(ctx, subsKey("u1")).Result()
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	t.Run("re-saving the same endpoint does not duplicate", func(t *testing.T) {
		require.NoError(t, SaveSubscription(ctx, rdb, "u1", sub1))
		subs, _ := rdb.HGetAll(ctx, subsKey("u1")).Result()
		assert.Len(t, subs, 2)
	})

	t.Run("remove drops one endpoint", func(t *testing.T) {
		require.NoError(t, RemoveSubscription(ctx, rdb, "u1", sub1.Endpoint))
		subs, _ := rdb.HGetAll(ctx, subsKey("u1")).Result()
		assert.Len(t, subs, 1)
		assert.Contains(t, subs, sub2.Endpoint)
	})
}

func TestPushSenderNoRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("no vapid keys", func(t *testing.T) {
		s := NewPushSender(newTestRedis(t), "", "", "mailto:ops@example.com")
		err := s.Send(ctx, Intent{Recipient: "u1"})
		assert.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("no subscriptions", func(t *testing.T) {
		s := NewPushSender(newTestRedis(t), "pub", "priv", "mailto:ops@example.com")
		err := s.Send(ctx, Intent{Recipient: "u1"})
		assert.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("undecodable subscription is pruned", func(t *testing.T) {
		rdb := newTestRedis(t)
		rdb.HSet(ctx, subsKey("u1"), "https://push.example/bad", "{not json")
		s := NewPushSender(rdb, "pub", "priv", "mailto:ops@example.com")

		err := s.Send(ctx, Intent{Recipient: "u1"})
		assert.ErrorIs(t, err, ErrNoRoute)
		subs, _ := rdb.HGetAll(ctx, subsKey("u1")).Result()
		assert.Empty(t, subs)
	})
}
