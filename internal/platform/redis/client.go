// Package redis builds the shared go-redis client for session storage and
// the ops health check.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"guardian/internal/platform/config"
	"guardian/pkg/platform/sentinel"
)

type Client struct {
	*redis.Client
}

// New dials cfg.URL and pings it under ctx. An empty URL yields nil, nil.
// An unreachable server is reported as sentinel.ErrUnavailable.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse GUARDIAN_REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w: %w", opts.Addr, sentinel.ErrUnavailable, err)
	}
	return &Client{Client: client}, nil
}

// Health pings the server; the ops router reports it as the "redis" check.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
