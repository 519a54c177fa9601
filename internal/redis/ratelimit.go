package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines API rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // max requests allowed per key
	Window time.Duration // time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter implements sliding-window rate limiting over Redis sorted
// sets, keyed per caller.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	cfg    RateLimitConfig
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// Allow checks whether one more request fits under the limit, recording
// it when it does. Rejected requests are not recorded, so a throttled
// caller does not extend its own penalty.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	bucket := "ratelimit:" + key
	cutoff := strconv.FormatInt(now.Add(-r.cfg.Window).UnixNano(), 10)

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, bucket, "0", cutoff)
	inWindow := pipe.ZCard(ctx, bucket)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	result := &RateLimitResult{ResetAt: now.Add(r.cfg.Window)}
	current := int(inWindow.Val())

	if current >= r.cfg.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", current),
			zap.Int("limit", r.cfg.Limit),
		)
		return result, nil
	}

	stamp := strconv.FormatInt(now.UnixNano(), 10)
	pipe = r.client.rdb.Pipeline()
	pipe.ZAdd(ctx, bucket, redis.Z{Score: float64(now.UnixNano()), Member: stamp})
	pipe.Expire(ctx, bucket, r.cfg.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	result.Allowed = true
	result.Remaining = r.cfg.Limit - current - 1
	return result, nil
}
