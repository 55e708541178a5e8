package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meditrust/records-api/internal/repository"
)

// rateCounter keeps OTP issuance counters in Redis so the limit survives
// restarts and is shared across instances.
type rateCounter struct {
	client *redis.Client
	prefix string
}

func NewRateCounter(client *redis.Client, prefix string) repository.RateCounter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &rateCounter{client: client, prefix: prefix}
}

// Incr bumps the counter for key and returns the new count. The TTL is set
// only when the key is first created, giving fixed-window semantics.
func (c *rateCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := fmt.Sprintf("%s:%s", c.prefix, key)

	count, err := c.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, full, window).Err(); err != nil {
			return count, fmt.Errorf("failed to set rate counter expiry: %w", err)
		}
	}
	return count, nil
}
