package simulator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// rateLimitPrefix namespaces the per-user run windows in Redis
const rateLimitPrefix = "regulens:simruns:"

// RateLimiter enforces a per-user sliding window over simulation runs.
// Each run is a timestamped member of the user's sorted set; members
// older than the window are trimmed before counting. A nil RateLimiter
// allows everything, so the simulator can run without Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a rate limiter over an existing Redis client
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 12
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow records one run attempt for the user and reports whether it fits
// inside the window. Rejected attempts are not recorded.
func (rl *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if rl == nil || rl.client == nil {
		return true, nil
	}

	key := rateLimitPrefix + userID
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to query rate limit window for user %s: %w", userID, err)
	}
	metrics.RecordRedisOperation("rate_limit_check")

	if count.Val() >= int64(rl.limit) {
		return false, nil
	}

	pipe = rl.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record run for user %s: %w", userID, err)
	}
	metrics.RecordRedisOperation("rate_limit_record")

	return true, nil
}

// Remaining reports how many runs the user has left in the current window
func (rl *RateLimiter) Remaining(ctx context.Context, userID string) (int, error) {
	if rl == nil || rl.client == nil {
		return 0, fmt.Errorf("rate limiter not configured")
	}

	key := rateLimitPrefix + userID
	windowStart := time.Now().Add(-rl.window)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to query rate limit window for user %s: %w", userID, err)
	}

	remaining := rl.limit - int(count.Val())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the user's window, re-arming them immediately
func (rl *RateLimiter) Reset(ctx context.Context, userID string) error {
	if rl == nil || rl.client == nil {
		return nil
	}
	if err := rl.client.Del(ctx, rateLimitPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for user %s: %w", userID, err)
	}
	return nil
}
