// Package startup holds the boot-time plumbing shared by the services:
// dependency connections with retry, and schema migrations.
package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/migrations"
)

const (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// ConnectDBWithRetry opens a pgx pool, retrying while the database comes up.
func ConnectDBWithRetry(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("startup: parse database url: %w", err)
	}
	cfg.MaxConns = int32(maxConns)

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Infof("startup: database not ready (attempt %d/%d): %v", attempt, connectAttempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	return nil, fmt.Errorf("startup: database unreachable: %w", err)
}

// ConnectRedisWithRetry opens a go-redis client, retrying while Redis comes up.
func ConnectRedisWithRetry(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("startup: parse redis url: %w", err)
	}
	cli := redis.NewClient(opts)
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = cli.Ping(ctx).Err(); err == nil {
			return cli, nil
		}
		logger.Infof("startup: redis not ready (attempt %d/%d): %v", attempt, connectAttempts, err)
		select {
		case <-ctx.Done():
			cli.Close()
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	cli.Close()
	return nil, fmt.Errorf("startup: redis unreachable: %w", err)
}

// ConnectAMQPWithRetry dials the broker, retrying while it comes up.
func ConnectAMQPWithRetry(ctx context.Context, url string) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Infof("startup: amqp not ready (attempt %d/%d): %v", attempt, connectAttempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	return nil, fmt.Errorf("startup: amqp unreachable: %w", err)
}

// RunMigrations applies the embedded SQL files in lexical order. Every file
// is idempotent (CREATE IF NOT EXISTS), so re-running is safe.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("startup: list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("startup: read migration %s: %w", name, err)
		}
		sql := strings.TrimSpace(string(raw))
		if sql == "" {
			continue
		}
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("startup: apply migration %s: %w", name, err)
		}
		logger.Infof("startup: applied migration %s", name)
	}
	return nil
}
