package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return New(rdb, cfg)
}

func loginOnly(maxAttempts int, window, block time.Duration) Config {
	return Config{
		Limits: map[Class]Limit{
			ClassLogin: {MaxAttempts: maxAttempts, Window: window, Block: block},
		},
		ClearOnSuccess: true,
	}
}

func TestReserveCountsDownToBlock(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, loginOnly(3, time.Minute, time.Minute))

	for i, wantRemaining := range []int{2, 1, 0} {
		d, err := limiter.Reserve(ctx, ClassLogin, "alice")
		if err != nil {
			t.Fatalf("Reserve %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
		if d.Remaining != wantRemaining {
			t.Fatalf("attempt %d remaining = %d, want %d", i, d.Remaining, wantRemaining)
		}
	}

	d, err := limiter.Reserve(ctx, ClassLogin, "alice")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("attempt over budget must be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denied decision must carry a retry-after, got %s", d.RetryAfter)
	}
}

func TestReserveIsolatesIdentifiers(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, loginOnly(1, time.Minute, time.Minute))

	if d, err := limiter.Reserve(ctx, ClassLogin, "alice"); err != nil || !d.Allowed {
		t.Fatalf("alice's first attempt should pass: %+v, %v", d, err)
	}
	if d, err := limiter.Reserve(ctx, ClassLogin, "alice"); err != nil || d.Allowed {
		t.Fatalf("alice's second attempt should be denied: %+v, %v", d, err)
	}
	if d, err := limiter.Reserve(ctx, ClassLogin, "bob"); err != nil || !d.Allowed {
		t.Fatalf("bob must not share alice's budget: %+v, %v", d, err)
	}
}

func TestUnconfiguredClassIsUnlimited(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, loginOnly(1, time.Minute, time.Minute))

	for i := 0; i < 10; i++ {
		d, err := limiter.Reserve(ctx, ClassRefresh, "sid-1")
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if !d.Allowed || d.Remaining != -1 {
			t.Fatalf("unconfigured class must always allow, got %+v", d)
		}
	}
}

func TestClearOnSuccessResetsBudget(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, loginOnly(2, time.Minute, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := limiter.Reserve(ctx, ClassLogin, "alice"); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
	}

	if err := limiter.ClearOnSuccess(ctx, ClassLogin, "alice"); err != nil {
		t.Fatalf("ClearOnSuccess failed: %v", err)
	}

	d, err := limiter.Reserve(ctx, ClassLogin, "alice")
	if err != nil {
		t.Fatalf("Reserve after clear failed: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected full budget after clear, got %+v", d)
	}
}

func TestClearOnSuccessDisabledKeepsWindow(t *testing.T) {
	ctx := context.Background()
	cfg := loginOnly(2, time.Minute, time.Minute)
	cfg.ClearOnSuccess = false
	limiter := newTestLimiter(t, cfg)

	if _, err := limiter.Reserve(ctx, ClassLogin, "alice"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := limiter.ClearOnSuccess(ctx, ClassLogin, "alice"); err != nil {
		t.Fatalf("ClearOnSuccess failed: %v", err)
	}

	count, err := limiter.Attempts(ctx, ClassLogin, "alice")
	if err != nil {
		t.Fatalf("Attempts failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("window must survive when clearing is disabled, got %d attempts", count)
	}
}

func TestAttempts(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, loginOnly(5, time.Minute, time.Minute))

	count, err := limiter.Attempts(ctx, ClassLogin, "nobody")
	if err != nil {
		t.Fatalf("Attempts failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("missing window must report zero, got %d", count)
	}

	for i := 0; i < 3; i++ {
		if _, err := limiter.Reserve(ctx, ClassLogin, "alice"); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
	}

	count, err = limiter.Attempts(ctx, ClassLogin, "alice")
	if err != nil {
		t.Fatalf("Attempts failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", count)
	}
}
