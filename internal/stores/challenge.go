package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion1 = 1

	consumedMarkerTTL = 30 * time.Minute
)

// ChallengeKind namespaces the single-use records sharing this store.
type ChallengeKind byte

const (
	KindSecondFactor ChallengeKind = iota + 1
	KindMagicLink
	KindOAuthState
	KindWebAuthn
)

func (k ChallengeKind) String() string {
	switch k {
	case KindSecondFactor:
		return "2fa"
	case KindMagicLink:
		return "link"
	case KindOAuthState:
		return "oauth"
	case KindWebAuthn:
		return "wa"
	default:
		return "unknown"
	}
}

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeConsumed = errors.New("challenge already consumed")
	ErrChallengeBackend  = errors.New("challenge backend unavailable")
)

// Challenge is one pending single-use record: a second-factor ticket, a
// magic link, an OAuth state or a WebAuthn ceremony. SecretHash is the
// SHA-256 of the bearer secret for kinds that carry one; Meta holds
// kind-specific payload (ceremony session data, allowed methods).
type Challenge struct {
	Kind        ChallengeKind
	PrincipalID string
	ExpiresAt   int64
	Attempts    uint16
	SecretHash  [32]byte
	Meta        []byte
}

// ChallengeStore persists challenges in Redis with atomic single-use
// consumption. Consumption leaves a short-lived marker so a second
// presentation is distinguishable from a token that never existed.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// consumeLua deletes the record and writes the consumed marker in one
// step. Returns {0} not found, {1, data} consumed now, {2} already
// consumed earlier.
var consumeLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if data then
	redis.call("DEL", KEYS[1])
	redis.call("SET", KEYS[2], "1", "EX", tonumber(ARGV[1]))
	return {1, data}
end
if redis.call("EXISTS", KEYS[2]) == 1 then
	return {2}
end
return {0}
`)

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "ach"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(kind ChallengeKind, challengeID string) string {
	return s.prefix + ":" + kind.String() + ":" + challengeID
}

func (s *ChallengeStore) markerKey(kind ChallengeKind, challengeID string) string {
	return s.prefix + "t:" + kind.String() + ":" + challengeID
}

func (s *ChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *Challenge,
	ttl time.Duration,
) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.Kind, challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the challenge without consuming it. A challenge that was
// already consumed reports ErrChallengeConsumed while its marker lives,
// matching what a later Consume would report.
func (s *ChallengeStore) Get(ctx context.Context, kind ChallengeKind, challengeID string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(kind, challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			n, markerErr := s.redis.Exists(ctx, s.markerKey(kind, challengeID)).Result()
			if markerErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, markerErr)
			}
			if n > 0 {
				return nil, ErrChallengeConsumed
			}
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if record.Kind != kind {
		return nil, ErrChallengeNotFound
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(kind, challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Consume atomically removes the challenge and returns it. Exactly one
// caller observes the record; later callers get ErrChallengeConsumed
// while the marker lives, ErrChallengeNotFound after.
func (s *ChallengeStore) Consume(ctx context.Context, kind ChallengeKind, challengeID string) (*Challenge, error) {
	res, err := consumeLua.Run(ctx, s.redis,
		[]string{s.key(kind, challengeID), s.markerKey(kind, challengeID)},
		int64(consumedMarkerTTL.Seconds()),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: unexpected consume reply", ErrChallengeBackend)
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected consume reply", ErrChallengeBackend)
	}

	switch status {
	case 0:
		return nil, ErrChallengeNotFound
	case 2:
		return nil, ErrChallengeConsumed
	}

	data, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected consume payload", ErrChallengeBackend)
	}

	record, err := decodeChallenge([]byte(data))
	if err != nil {
		return nil, err
	}
	if record.Kind != kind {
		return nil, ErrChallengeNotFound
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, kind ChallengeKind, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(kind, challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter under WATCH so concurrent
// failures cannot lose updates. Reaching maxAttempts deletes the record
// and reports exceeded.
func (s *ChallengeStore) RecordFailure(
	ctx context.Context,
	kind ChallengeKind,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(kind, challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if record.Kind != kind {
				return ErrChallengeNotFound
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return nil
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) || errors.Is(err, ErrChallengeNotFound) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(record.Kind))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.SecretHash[:])

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("challenge principal id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)

	if len(record.Meta) > 1<<20 {
		return nil, errors.New("challenge meta length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(record.Meta))); err != nil {
		return nil, err
	}
	buf.Write(record.Meta)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &Challenge{Kind: ChallengeKind(kind)}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	var principalLen uint16
	if err := binary.Read(reader, binary.BigEndian, &principalLen); err != nil {
		return nil, err
	}
	principal := make([]byte, principalLen)
	if _, err := io.ReadFull(reader, principal); err != nil {
		return nil, err
	}
	record.PrincipalID = string(principal)

	var metaLen uint32
	if err := binary.Read(reader, binary.BigEndian, &metaLen); err != nil {
		return nil, err
	}
	if metaLen > 0 {
		record.Meta = make([]byte, metaLen)
		if _, err := io.ReadFull(reader, record.Meta); err != nil {
			return nil, err
		}
	}

	return record, nil
}
