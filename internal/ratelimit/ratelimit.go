package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces fixed-window request limits backed by Redis. A nil
// *Limiter allows everything, which keeps rate limiting optional in
// deployments without Redis.
type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for key within the window and reports
// whether the caller is still under the limit. Redis errors fail open:
// a broken limiter must not take the API down.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}

	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(window.Seconds()))

	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return true, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, windowKey, window).Err(); err != nil {
			return true, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	return count <= int64(limit), nil
}
