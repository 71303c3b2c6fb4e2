package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter shared by every API instance. The key expires one
// window after the first attempt, so idle counters clean themselves up.
type Redis struct {
	client *redis.Client
	prefix string
	cfg    Config
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client, prefix string, cfg Config) *Redis {
	if prefix == "" {
		prefix = "attendance:ratelimit:"
	}
	return &Redis{client: client, prefix: prefix, cfg: cfg.normalized()}
}

// Allow increments the shared counter for key.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := r.prefix + key

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, k, r.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	if int(count) > r.cfg.MaxAttempts {
		ttl, err := r.client.PTTL(ctx, k).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit ttl: %w", err)
		}
		if ttl < 0 {
			// Counter lost its expiry; restore it so the key cannot pin the student forever.
			_ = r.client.PExpire(ctx, k, r.cfg.Window).Err()
			ttl = r.cfg.Window
		}
		return Decision{Allowed: false, Count: int(count), RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Count: int(count)}, nil
}

var _ Limiter = (*Redis)(nil)
var _ Limiter = (*Window)(nil)

// RetryAfterSeconds rounds a retry hint up to whole seconds for HTTP headers.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
