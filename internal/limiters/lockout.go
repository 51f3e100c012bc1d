package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the automatic account lockout guard.
type LockoutConfig struct {
	Enabled       bool
	Threshold     int
	FailureWindow time.Duration // rolling window for counting failures
	LockDuration  time.Duration // 0 = manual unlock only
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutGuard tracks persistent failed primary-factor attempts per
// principal and flips the account into a locked state when the threshold
// is reached. The lock is an absolute locked-until record so repeated
// probes observe a decreasing retry-after.
type LockoutGuard struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutGuard creates a new lockout guard.
func NewLockoutGuard(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutGuard {
	return &LockoutGuard{redis: redisClient, config: cfg}
}

func (g *LockoutGuard) counterKey(principalID string) string {
	return "lo:c:" + principalID
}

func (g *LockoutGuard) lockKey(principalID string) string {
	return "lo:u:" + principalID
}

// Status reports whether the principal is currently locked and, if so,
// how long until the lock expires.
func (g *LockoutGuard) Status(ctx context.Context, principalID string) (bool, time.Duration, error) {
	if g == nil || !g.config.Enabled || principalID == "" {
		return false, 0, nil
	}

	until, err := g.redis.Get(ctx, g.lockKey(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	left := time.Until(time.UnixMilli(until))
	if left <= 0 {
		return false, 0, nil
	}
	return true, left, nil
}

// RecordFailure increments the failure counter for a principal. When the
// threshold is reached the lock record is written and the counter cleared.
// Returns true plus the lock duration when the lock was just engaged.
func (g *LockoutGuard) RecordFailure(ctx context.Context, principalID string) (bool, time.Duration, error) {
	if g == nil || !g.config.Enabled || principalID == "" {
		return false, 0, nil
	}

	count, err := g.redis.Incr(ctx, g.counterKey(principalID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && g.config.FailureWindow > 0 {
		// TTL on first failure approximates a rolling window without
		// per-attempt bookkeeping.
		if err := g.redis.Expire(ctx, g.counterKey(principalID), g.config.FailureWindow).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	if count < int64(g.config.Threshold) {
		return false, 0, nil
	}

	until := time.Now().Add(g.config.LockDuration).UnixMilli()
	if g.config.LockDuration > 0 {
		err = g.redis.Set(ctx, g.lockKey(principalID), until, g.config.LockDuration).Err()
	} else {
		err = g.redis.Set(ctx, g.lockKey(principalID), until, 0).Err()
	}
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if err := g.redis.Del(ctx, g.counterKey(principalID)).Err(); err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	return true, g.config.LockDuration, nil
}

// Reset clears the failure counter for a principal after a successful
// primary verification. An engaged lock is not cleared here.
func (g *LockoutGuard) Reset(ctx context.Context, principalID string) error {
	if g == nil || !g.config.Enabled || principalID == "" {
		return nil
	}

	if err := g.redis.Del(ctx, g.counterKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Unlock removes an engaged lock and the failure counter. Used by
// operator tooling rather than the login path.
func (g *LockoutGuard) Unlock(ctx context.Context, principalID string) error {
	if g == nil || !g.config.Enabled || principalID == "" {
		return nil
	}

	if err := g.redis.Del(ctx, g.lockKey(principalID), g.counterKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure count for a principal.
func (g *LockoutGuard) FailureCount(ctx context.Context, principalID string) (int, error) {
	if g == nil || !g.config.Enabled || principalID == "" {
		return 0, nil
	}

	count, err := g.redis.Get(ctx, g.counterKey(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
