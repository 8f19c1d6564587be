// Package ratelimiter throttles outbound calls to the TE API. TE is an
// upstream with its own (undocumented) rate limits; this protects against
// the poller's bounded-concurrency fan-out collectively exceeding them. It
// is redis-backed when a Redis URL is configured, falling back to an
// in-memory sliding window otherwise — the same fallback posture the
// inbound rate limiter it is grounded on describes for itself.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds the rate of outbound TE calls per minute.
type Limiter interface {
	// Wait blocks until a call is permitted or ctx is done.
	Wait(ctx context.Context) error
}

// inMemory is a per-process sliding-window limiter, used when no Redis
// backend is configured.
type inMemory struct {
	mu     sync.Mutex
	tokens []time.Time
	rpm    int
}

// NewInMemory builds a Limiter that allows at most rpm calls per rolling
// 60-second window.
func NewInMemory(rpm int) Limiter {
	if rpm <= 0 {
		rpm = 300
	}
	return &inMemory{tokens: make([]time.Time, 0, rpm), rpm: rpm}
}

func (l *inMemory) Wait(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *inMemory) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	valid := l.tokens[:0]
	for _, t := range l.tokens {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	l.tokens = valid

	if len(l.tokens) < l.rpm {
		l.tokens = append(l.tokens, now)
		return 0, true
	}
	return l.tokens[0].Add(time.Minute).Sub(now), false
}

// redisLimiter is a fixed-window counter keyed per minute, implemented
// with INCR + EXPIRE so concurrent processes share the same budget.
type redisLimiter struct {
	client *redis.Client
	key    string
	rpm    int
}

// NewRedis builds a Limiter backed by Redis, sharing the outbound TE
// budget across every process talking to the same Redis instance.
func NewRedis(client *redis.Client, key string, rpm int) Limiter {
	if rpm <= 0 {
		rpm = 300
	}
	if key == "" {
		key = "te:outbound:rate"
	}
	return &redisLimiter{client: client, key: key, rpm: rpm}
}

func (l *redisLimiter) Wait(ctx context.Context) error {
	for {
		windowKey := l.key + ":" + time.Now().UTC().Format("200601021504")
		count, err := l.client.Incr(ctx, windowKey).Result()
		if err != nil {
			// Redis is unavailable; fail open rather than blocking the
			// poller indefinitely on a dependency this feature is
			// optional in the first place.
			return nil
		}
		if count == 1 {
			l.client.Expire(ctx, windowKey, 2*time.Minute)
		}
		if count <= int64(l.rpm) {
			return nil
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
