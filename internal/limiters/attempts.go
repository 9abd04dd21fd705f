package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 5 * time.Minute
)

var (
	ErrRateLimited = errors.New("attempts rate limited")
	ErrUnavailable = errors.New("attempt limiter unavailable")
)

// Config holds the thresholds for one attempt limiter.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// AttemptLimiter counts failures per subject in a fixed window that starts
// at the first failure.
type AttemptLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// NewAttemptLimiter creates a limiter under the given key prefix. Zero-value
// fields in cfg fall back to 5 attempts per 5 minutes.
func NewAttemptLimiter(redisClient redis.UniversalClient, prefix string, cfg Config) *AttemptLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultCooldown
	}
	return &AttemptLimiter{redis: redisClient, prefix: prefix, maxAttempts: int64(max), cooldown: cd}
}

func (l *AttemptLimiter) key(subject string) string {
	return l.prefix + ":" + subject
}

// Check returns ErrRateLimited once the subject has used its budget.
func (l *AttemptLimiter) Check(ctx context.Context, subject string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure counts one failure and reports ErrRateLimited when the
// failure exhausted the budget.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, subject string) error {
	if l == nil {
		return nil
	}
	key := l.key(subject)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, subject string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
