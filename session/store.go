package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshHashMismatch is an exported constant or variable used by the authentication engine.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when the target session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when the target session has passed its expiry.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionRevoked is returned when the target session was revoked earlier.
var ErrSessionRevoked = errors.New("session revoked")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusRevoked  int64 = 4
)

// rotateRefreshLua is the compare-and-swap at the heart of refresh
// rotation. A hash mismatch marks the whole session revoked before
// reporting, so the losing side of a replay cannot retry its way in.
// Exactly one concurrent caller can observe status 3 for a given
// provided hash.
const rotateRefreshScript = `
local key = KEYS[1]
local provided = ARGV[1]
local next = ARGV[2]
local now = tonumber(ARGV[3])

if redis.call("EXISTS", key) == 0 then
  return {0}
end

local vals = redis.call("HMGET", key, "rh", "exp", "rev")
if vals[3] == "1" then
  return {4}
end
if tonumber(vals[2]) <= now then
  return {1}
end
if vals[1] ~= provided then
  redis.call("HSET", key, "rev", "1", "revr", "replay")
  return {2}
end

local gen = redis.call("HINCRBY", key, "gen", 1)
redis.call("HSET", key, "rh", next, "rat", now)
return {3, gen}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// revokeSessionLua marks a session revoked while keeping the record (and
// its TTL) alive so later probes can be answered with a revoked shape
// instead of not-found.
const revokeSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "rev") == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "rev", "1", "revr", ARGV[1])
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// Store is a Redis-backed session registry that handles persistence,
// expiration, revocation, and atomic refresh-token rotation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "asg"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + "p:" + principalID
}

func (s *Store) replayKey(sessionID string) string {
	return s.prefix + "rp:" + sessionID
}

func (s *Store) anomalyKey(sessionID, kind string) string {
	return s.prefix + "an:" + sessionID + ":" + kind
}

// Save persists a [Session] and indexes it under its principal.
//
//	Performance: 3 Redis commands in one MULTI (HSET + EXPIRE + SADD).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sess.SessionID), sessionToFields(sess)...)
		pipe.Expire(ctx, s.key(sess.SessionID), ttl)
		pipe.SAdd(ctx, s.principalKey(sess.PrincipalID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a session by ID. Revoked sessions are returned with
// Revoked set; expired sessions are pruned and reported as expired.
//
//	Performance: 1 Redis HGETALL on the happy path.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := sessionFromFields(sessionID, fields)
	if err != nil {
		return nil, err
	}

	if time.Now().Unix() >= sess.ExpiresAt {
		if err := s.deleteSessionAndIndex(ctx, sess.PrincipalID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	return sess, nil
}

// Rotate atomically swaps the refresh hash when providedHash matches the
// stored one, bumping the generation counter. A mismatch revokes the
// session and returns [ErrRefreshHashMismatch]; the caller decides what
// to tell the client.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
func (s *Store) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (uint32, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
		time.Now().Unix(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return 0, ErrSessionNotFound
	case rotateStatusExpired:
		return 0, ErrSessionExpired
	case rotateStatusMismatch:
		return 0, ErrRefreshHashMismatch
	case rotateStatusRevoked:
		return 0, ErrSessionRevoked
	case rotateStatusRotated:
		if len(parts) < 2 {
			return 0, fmt.Errorf("%w: missing rotate generation", ErrRedisUnavailable)
		}
		gen, ok := parts[1].(int64)
		if !ok || gen < 0 {
			return 0, fmt.Errorf("%w: invalid rotate generation", ErrRedisUnavailable)
		}
		return uint32(gen), nil
	default:
		return 0, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Revoke marks a session revoked while keeping the record until its
// natural expiry. Returns ErrSessionNotFound when no record exists;
// revoking twice is not an error.
func (s *Store) Revoke(ctx context.Context, sessionID, reason string) error {
	res, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, reason).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForPrincipal revokes every indexed session of a principal.
// Returns the number of sessions that transitioned to revoked.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID, reason string) (int, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, sessionID := range sessionIDs {
		res, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, reason).Int64()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if res == 1 {
			revoked++
		}
	}
	return revoked, nil
}

// Delete removes a session record and its index entry entirely. Used for
// pruning, not for logout; logout goes through Revoke so the record can
// still answer status probes.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil
	}

	return s.deleteSessionAndIndex(ctx, fields[fieldPrincipal], sessionID)
}

// ActiveSessionIDs returns tracked session IDs for a principal.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns the number of tracked session IDs for a principal.
func (s *Store) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// TrackReplayAnomaly increments the replay anomaly counter for a session ID.
func (s *Store) TrackReplayAnomaly(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	key := s.replayKey(sessionID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// ShouldEmitDeviceAnomaly returns true only for the first anomaly in the window per session/kind.
func (s *Store) ShouldEmitDeviceAnomaly(ctx context.Context, sessionID, kind string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Minute
	}
	key := s.anomalyKey(sessionID, kind)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return true, nil
	}

	return false, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, principalID, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.principalKey(principalID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
