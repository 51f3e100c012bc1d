package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Class names one guarded endpoint class. Each class carries its own
// window, attempt budget and block duration.
type Class string

const (
	ClassLogin        Class = "login"
	ClassMagicLink    Class = "magiclink"
	ClassSecondFactor Class = "mfa"
	ClassRefresh      Class = "refresh"
)

// Limit is the tuning for one class.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// Config maps endpoint classes to their limits. A class with no entry is
// not limited.
type Config struct {
	Limits         map[Class]Limit
	ClearOnSuccess bool
}

// Decision is the outcome of a single Reserve call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-(identifier, class) sliding-window limits with a
// block record once the window budget is exhausted. The window update is
// a single Lua script so check and record cannot interleave.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// reserveLua trims the window, checks the budget and records the attempt
// atomically. Timestamps are unix milliseconds supplied by the caller.
//
// Returns {0, remaining} when allowed, {1, retryAfterMillis} when denied.
var reserveLua = redis.NewScript(`
local blocked = redis.call("GET", KEYS[2])
local now = tonumber(ARGV[1])
if blocked then
	local left = tonumber(blocked) - now
	if left > 0 then
		return {1, left}
	end
	redis.call("DEL", KEYS[2])
end

local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= max then
	local block = tonumber(ARGV[4])
	redis.call("SET", KEYS[2], now + block, "PX", block)
	redis.call("DEL", KEYS[1])
	return {1, block}
end

redis.call("ZADD", KEYS[1], now, ARGV[5])
redis.call("PEXPIRE", KEYS[1], window)
return {0, max - count - 1}
`)

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Reserve records one attempt for the identifier within the class window
// and reports whether it is allowed. Denials carry the time until the
// next attempt can succeed.
func (l *Limiter) Reserve(ctx context.Context, class Class, identifier string) (Decision, error) {
	limit, ok := l.config.Limits[class]
	if !ok || limit.MaxAttempts <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d:%s", now, uuid.NewString())

	res, err := reserveLua.Run(ctx, l.redis,
		[]string{windowKey(class, identifier), blockKey(class, identifier)},
		now, limit.Window.Milliseconds(), limit.MaxAttempts, limit.Block.Milliseconds(), member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected reserve reply", ErrRedisUnavailable)
	}

	if res[0] == 1 {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Duration(res[1]) * time.Millisecond,
		}, nil
	}

	return Decision{Allowed: true, Remaining: int(res[1])}, nil
}

// ClearOnSuccess drops the window and block records for the identifier.
// Called after the guarded operation succeeds, when configured.
func (l *Limiter) ClearOnSuccess(ctx context.Context, class Class, identifier string) error {
	if !l.config.ClearOnSuccess {
		return nil
	}

	err := l.redis.Del(ctx, windowKey(class, identifier), blockKey(class, identifier)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the number of attempts currently inside the window.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) Attempts(ctx context.Context, class Class, identifier string) (int, error) {
	count, err := l.redis.ZCard(ctx, windowKey(class, identifier)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func windowKey(class Class, identifier string) string {
	return "rl:" + string(class) + ":" + identifier
}

func blockKey(class Class, identifier string) string {
	return "rlb:" + string(class) + ":" + identifier
}
