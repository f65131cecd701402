package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectLimiter throttles connection attempts by client IP across all
// server processes, using a fixed window counter in Redis.
type ConnectLimiter struct {
	client *redis.Client
	limit  Limit
}

// NewConnectLimiter creates a store-backed connection-attempt limiter.
// A nil client falls back to allowing everything; single-instance
// deployments use the in-process limiter on the websocket path instead.
func NewConnectLimiter(client *redis.Client) *ConnectLimiter {
	return &ConnectLimiter{client: client, limit: DefaultLimits[ClassConnect]}
}

func connectKey(ip string, window time.Duration, now time.Time) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("chathub:ratelimit:connect:%s:%d", ip, bucket)
}

// Allow counts one connection attempt for the IP. Store errors resolve to
// allowed: connection limiting is abuse protection, not access control,
// and must not take the service down with the store.
func (c *ConnectLimiter) Allow(ctx context.Context, ip string) (bool, int, time.Time) {
	now := time.Now()
	resetAt := now.Truncate(c.limit.Window).Add(c.limit.Window)
	if c.client == nil {
		return true, c.limit.Requests, resetAt
	}

	key := connectKey(ip, c.limit.Window, now)
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.limit.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, c.limit.Requests, resetAt
	}

	count := int(incr.Val())
	remaining := c.limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= c.limit.Requests, remaining, resetAt
}
