package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	"github.com/teamtalk/internal/logger"
)

// subsKey stores a user's push subscriptions as a Redis hash of
// endpoint → subscription JSON.
func subsKey(userID string) string { return "push:subs:" + userID }

// PushSender delivers intents over Web Push. Subscriptions live in Redis,
// written by the subscription endpoint of the api service.
type PushSender struct {
	rdb        *redis.Client
	vapidPub   string
	vapidPriv  string
	subscriber string
}

func NewPushSender(rdb *redis.Client, vapidPub, vapidPriv, subscriber string) *PushSender {
	return &PushSender{rdb: rdb, vapidPub: vapidPub, vapidPriv: vapidPriv, subscriber: subscriber}
}

func (s *PushSender) Name() string { return ChannelPush }

// SaveSubscription registers a browser subscription for the user.
func SaveSubscription(ctx context.Context, rdb *redis.Client, userID string, sub webpush.Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push: encode subscription: %w", err)
	}
	if err := rdb.HSet(ctx, subsKey(userID), sub.Endpoint, raw).Err(); err != nil {
		return fmt.Errorf("push: save subscription: %w", err)
	}
	return nil
}

// RemoveSubscription drops one endpoint for the user.
func RemoveSubscription(ctx context.Context, rdb *redis.Client, userID, endpoint string) error {
	if err := rdb.HDel(ctx, subsKey(userID), endpoint).Err(); err != nil {
		return fmt.Errorf("push: remove subscription: %w", err)
	}
	return nil
}

// Send pushes to every subscription of the recipient. Gone endpoints
// (404/410) are pruned; delivery counts as success if at least one endpoint
// accepted the payload.
func (s *PushSender) Send(ctx context.Context, in Intent) error {
	if s.vapidPub == "" || s.vapidPriv == "" {
		return ErrNoRoute
	}
	subs, err := s.rdb.HGetAll(ctx, subsKey(in.Recipient)).Result()
	if err != nil {
		return fmt.Errorf("push: load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return ErrNoRoute
	}

	payload, err := json.Marshal(map[string]any{
		"template": in.Template,
		"priority": in.Priority,
		"data":     in.Data,
	})
	if err != nil {
		return fmt.Errorf("push: encode payload: %w", err)
	}

	delivered := 0
	var lastErr error
	for endpoint, raw := range subs {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			logger.Errorf("push: bad subscription for %s, pruning: %v", in.Recipient, err)
			s.rdb.HDel(ctx, subsKey(in.Recipient), endpoint)
			continue
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.vapidPub,
			VAPIDPrivateKey: s.vapidPriv,
			TTL:             3600,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			s.rdb.HDel(ctx, subsKey(in.Recipient), endpoint)
			resp.Body.Close()
			continue
		}
		resp.Body.Close()
		delivered++
	}
	if delivered > 0 {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("push: %w", lastErr)
	}
	return ErrNoRoute
}
