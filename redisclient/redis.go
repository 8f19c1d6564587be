// Package redisclient wraps a go-redis client built from the service
// config. It backs the outbound rate limiter (package ratelimiter) when
// REDIS_URL is configured.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olticketwidget/price-ingest/config"
)

// Client wraps *redis.Client so callers depend on this package, not
// go-redis directly, consistent with the rest of the service's
// dependency-boundary style.
type Client struct {
	Raw *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{Raw: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity; at startup a failed ping makes the service
// fall back to the in-memory rate limiter.
func (r *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.Raw.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Client) Close() error {
	return r.Raw.Close()
}
