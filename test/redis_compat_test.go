//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/halcyonlabs/authgate/session"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				if err := rdb.FlushDB(context.Background()).Err(); err != nil {
					t.Fatalf("flushdb: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func TestCompatSessionLifecycle(t *testing.T) {
	for _, mode := range redisModes(t) {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			client, cleanup := mode.setup(t)
			defer cleanup()

			store := session.NewStore(client, "asg")

			current := hashByte(10)
			sess := makeSession("p-compat", "sid-compat", current)
			if err := store.Save(ctx, sess, time.Hour); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err := store.Get(ctx, "sid-compat")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.PrincipalID != "p-compat" || got.RefreshHash != current {
				t.Fatalf("round-trip mismatch: %+v", got)
			}

			next := hashByte(11)
			gen, err := store.Rotate(ctx, "sid-compat", current, next)
			if err != nil {
				t.Fatalf("Rotate failed: %v", err)
			}
			if gen != 1 {
				t.Fatalf("expected generation 1 after first rotation, got %d", gen)
			}

			if err := store.Revoke(ctx, "sid-compat", "logout"); err != nil {
				t.Fatalf("Revoke failed: %v", err)
			}

			// The revoked record stays until expiry so probes see revoked,
			// not not-found.
			got, err = store.Get(ctx, "sid-compat")
			if err != nil {
				t.Fatalf("Get after revoke failed: %v", err)
			}
			if !got.Revoked || got.RevokeReason != "logout" {
				t.Fatalf("expected logout-revoked session, got %+v", got)
			}

			if _, err := store.Rotate(ctx, "sid-compat", next, hashByte(12)); !errors.Is(err, session.ErrSessionRevoked) {
				t.Fatalf("expected ErrSessionRevoked, got %v", err)
			}
		})
	}
}

func TestCompatRevokeAllForPrincipal(t *testing.T) {
	for _, mode := range redisModes(t) {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			client, cleanup := mode.setup(t)
			defer cleanup()

			store := session.NewStore(client, "asg")

			for i := byte(0); i < 3; i++ {
				sid := "sid-all-" + string(rune('a'+i))
				if err := store.Save(ctx, makeSession("p-all", sid, hashByte(i+20)), time.Hour); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}

			count, err := store.RevokeAllForPrincipal(ctx, "p-all", "logout_all")
			if err != nil {
				t.Fatalf("RevokeAllForPrincipal failed: %v", err)
			}
			if count != 3 {
				t.Fatalf("expected 3 revoked sessions, got %d", count)
			}

			got, err := store.Get(ctx, "sid-all-a")
			if err != nil {
				t.Fatalf("Get after revoke-all failed: %v", err)
			}
			if !got.Revoked {
				t.Fatal("expected session revoked after revoke-all")
			}
		})
	}
}
