// Package cache is the Redis-backed accelerator for the hot read paths.
// It is never the system of record: values carry a bounded TTL, lookups
// that fail to deserialize count as misses, and callers treat every error
// as "go to the store".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/metrics"
)

// opTimeout bounds every cache operation so a slow Redis degrades reads to
// the entity store instead of stalling the caller.
const opTimeout = 500 * time.Millisecond

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("cache ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("cache ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient wraps an existing go-redis client (tests, shared pools).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw exposes the underlying client for neighbors sharing the connection
// (session lookup, push subscriptions).
func (c *Client) Raw() *redis.Client {
	return c.cli
}

// GetJSON loads key into dest. Returns false on any miss: absent key,
// Redis error, or a value that no longer deserializes.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := c.cli.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return false
	}
	if err != nil {
		logger.Errorf("cache get %s: %v", key, err)
		metrics.CacheMisses.Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		logger.Errorf("cache decode %s: %v (treating as miss)", key, err)
		metrics.CacheMisses.Inc()
		return false
	}
	metrics.CacheHits.Inc()
	return true
}

// SetJSON stores v under key with the given TTL. Failures are logged; the
// caller's mutation or read has already succeeded against the store.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("cache encode %s: %v", key, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.cli.Set(ctx, key, raw, ttl).Err(); err != nil {
		logger.Errorf("cache set %s: %v", key, err)
	}
}

// Delete removes the given keys. Failures are logged, never propagated:
// a missed invalidation only means staleness within the TTL window.
func (c *Client) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.cli.Del(ctx, keys...).Err(); err != nil {
		logger.Errorf("cache delete %v: %v", keys, err)
	}
}

// DeleteByPattern removes every key matching pattern via SCAN, for bulk
// conversation invalidation.
func (c *Client) DeleteByPattern(ctx context.Context, pattern string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	iter := c.cli.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.cli.Del(ctx, batch...).Err(); err != nil {
				logger.Errorf("cache delete pattern %s: %v", pattern, err)
				return
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		logger.Errorf("cache scan %s: %v", pattern, err)
		return
	}
	if len(batch) > 0 {
		if err := c.cli.Del(ctx, batch...).Err(); err != nil {
			logger.Errorf("cache delete pattern %s: %v", pattern, err)
		}
	}
}
