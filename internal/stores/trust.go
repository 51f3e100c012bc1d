package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTrustBackend = errors.New("device trust backend unavailable")
)

// TrustedDevice is one remembered device for a principal. Timestamps are
// unix milliseconds.
type TrustedDevice struct {
	Fingerprint      string
	Label            string
	TrustedAt        int64
	ExpiresAt        int64
	SkipSecondFactor bool
}

// TrustStore keeps per-principal trusted-device records. The set is
// capped; trusting a device beyond the cap evicts the least recently
// trusted entries.
type TrustStore struct {
	redis  redis.UniversalClient
	prefix string
	cap    int
}

func NewTrustStore(redisClient redis.UniversalClient, prefix string, maxPerPrincipal int) *TrustStore {
	if prefix == "" {
		prefix = "adt"
	}
	return &TrustStore{
		redis:  redisClient,
		prefix: prefix,
		cap:    maxPerPrincipal,
	}
}

func (s *TrustStore) indexKey(principalID string) string {
	return s.prefix + "i:" + principalID
}

func (s *TrustStore) deviceKey(principalID, fingerprint string) string {
	return s.prefix + ":" + principalID + ":" + fingerprint
}

// Trust writes the device record and refreshes its position in the
// recency index. Eviction of over-cap entries happens in the same
// transaction under WATCH on the index.
func (s *TrustStore) Trust(ctx context.Context, principalID string, device *TrustedDevice) error {
	const maxRetries = 4
	indexKey := s.indexKey(principalID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var evict []string
			if s.cap > 0 {
				members, err := tx.ZRange(ctx, indexKey, 0, -1).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}

				present := false
				for _, m := range members {
					if m == device.Fingerprint {
						present = true
						break
					}
				}
				excess := len(members) - s.cap
				if !present {
					excess++
				}
				for j := 0; j < excess && j < len(members); j++ {
					if members[j] == device.Fingerprint {
						continue
					}
					evict = append(evict, members[j])
				}
			}

			ttl := time.Until(time.UnixMilli(device.ExpiresAt))
			if ttl <= 0 {
				return errors.New("device trust expiry in the past")
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				key := s.deviceKey(principalID, device.Fingerprint)
				pipe.HSet(ctx, key,
					"at", device.TrustedAt,
					"until", device.ExpiresAt,
					"skip2fa", boolField(device.SkipSecondFactor),
					"label", device.Label,
				)
				pipe.Expire(ctx, key, ttl)
				pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(device.TrustedAt), Member: device.Fingerprint})
				for _, fp := range evict {
					pipe.ZRem(ctx, indexKey, fp)
					pipe.Del(ctx, s.deviceKey(principalID, fp))
				}
				return nil
			})
			return err
		}, indexKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTrustBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: trust transaction contention", ErrTrustBackend)
}

// Lookup returns the live trust record for the device, or nil when the
// device is unknown or its trust has expired. Expired records are
// pruned on read.
func (s *TrustStore) Lookup(ctx context.Context, principalID, fingerprint string) (*TrustedDevice, error) {
	fields, err := s.redis.HGetAll(ctx, s.deviceKey(principalID, fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustBackend, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	device, err := deviceFromFields(fingerprint, fields)
	if err != nil {
		return nil, err
	}

	if time.Now().UnixMilli() >= device.ExpiresAt {
		_, _ = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.deviceKey(principalID, fingerprint))
			pipe.ZRem(ctx, s.indexKey(principalID), fingerprint)
			return nil
		})
		return nil, nil
	}

	return device, nil
}

// Revoke removes a single device. Returns true when a record existed.
func (s *TrustStore) Revoke(ctx context.Context, principalID, fingerprint string) (bool, error) {
	var deleted *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.deviceKey(principalID, fingerprint))
		pipe.ZRem(ctx, s.indexKey(principalID), fingerprint)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTrustBackend, err)
	}
	return deleted.Val() > 0, nil
}

// RevokeAll removes every trusted device for the principal.
func (s *TrustStore) RevokeAll(ctx context.Context, principalID string) error {
	members, err := s.redis.ZRange(ctx, s.indexKey(principalID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrTrustBackend, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, fp := range members {
			pipe.Del(ctx, s.deviceKey(principalID, fp))
		}
		pipe.Del(ctx, s.indexKey(principalID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustBackend, err)
	}
	return nil
}

// List returns the live trusted devices ordered oldest trust first.
func (s *TrustStore) List(ctx context.Context, principalID string) ([]*TrustedDevice, error) {
	members, err := s.redis.ZRange(ctx, s.indexKey(principalID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrTrustBackend, err)
	}

	now := time.Now().UnixMilli()
	devices := make([]*TrustedDevice, 0, len(members))
	for _, fp := range members {
		fields, err := s.redis.HGetAll(ctx, s.deviceKey(principalID, fp)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTrustBackend, err)
		}
		if len(fields) == 0 {
			_, _ = s.redis.ZRem(ctx, s.indexKey(principalID), fp).Result()
			continue
		}
		device, err := deviceFromFields(fp, fields)
		if err != nil {
			return nil, err
		}
		if now >= device.ExpiresAt {
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func deviceFromFields(fingerprint string, fields map[string]string) (*TrustedDevice, error) {
	at, err := strconv.ParseInt(fields["at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt trust record", ErrTrustBackend)
	}
	until, err := strconv.ParseInt(fields["until"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt trust record", ErrTrustBackend)
	}

	return &TrustedDevice{
		Fingerprint:      fingerprint,
		Label:            fields["label"],
		TrustedAt:        at,
		ExpiresAt:        until,
		SkipSecondFactor: fields["skip2fa"] == "1",
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
