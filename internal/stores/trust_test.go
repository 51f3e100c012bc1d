package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTrustStore(t *testing.T, maxPerPrincipal int) *TrustStore {
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

	return NewTrustStore(rdb, "", maxPerPrincipal)
}

func testDevice(fingerprint string, trustedAt time.Time) *TrustedDevice {
	return &TrustedDevice{
		Fingerprint:      fingerprint,
		Label:            "laptop",
		TrustedAt:        trustedAt.UnixMilli(),
		ExpiresAt:        trustedAt.Add(24 * time.Hour).UnixMilli(),
		SkipSecondFactor: true,
	}
}

func TestTrustLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 5)

	now := time.Now()
	if err := store.Trust(ctx, "p1", testDevice("fp-a", now)); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	got, err := store.Lookup(ctx, "p1", "fp-a")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a trust record")
	}
	if got.Label != "laptop" || !got.SkipSecondFactor {
		t.Fatalf("record mismatch: %+v", got)
	}
	if got.TrustedAt != now.UnixMilli() {
		t.Fatalf("TrustedAt = %d, want %d", got.TrustedAt, now.UnixMilli())
	}
}

func TestLookupUnknownDevice(t *testing.T) {
	store := newTestTrustStore(t, 5)

	got, err := store.Lookup(context.Background(), "p1", "fp-missing")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Fatalf("unknown device must come back nil, got %+v", got)
	}
}

func TestLookupPrunesExpiredTrust(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 5)

	device := testDevice("fp-exp", time.Now())
	device.ExpiresAt = time.Now().Add(50 * time.Millisecond).UnixMilli()
	if err := store.Trust(ctx, "p1", device); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	got, err := store.Lookup(ctx, "p1", "fp-exp")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expired trust must come back nil, got %+v", got)
	}

	devices, err := store.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected empty list after expiry, got %d devices", len(devices))
	}
}

func TestTrustEvictsOverCap(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 2)

	base := time.Now()
	for i, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		if err := store.Trust(ctx, "p1", testDevice(fp, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Trust %s failed: %v", fp, err)
		}
	}

	// The least recently trusted device falls out.
	got, err := store.Lookup(ctx, "p1", "fp-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Fatal("oldest device must be evicted at the cap")
	}

	devices, err := store.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices at the cap, got %d", len(devices))
	}
	if devices[0].Fingerprint != "fp-2" || devices[1].Fingerprint != "fp-3" {
		t.Fatalf("unexpected survivors: %s, %s", devices[0].Fingerprint, devices[1].Fingerprint)
	}
}

func TestReTrustRefreshesInsteadOfEvicting(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 2)

	base := time.Now()
	if err := store.Trust(ctx, "p1", testDevice("fp-1", base)); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	if err := store.Trust(ctx, "p1", testDevice("fp-2", base.Add(time.Second))); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	// Re-trusting an existing device stays within the cap and must not
	// evict its sibling.
	if err := store.Trust(ctx, "p1", testDevice("fp-1", base.Add(2*time.Second))); err != nil {
		t.Fatalf("re-Trust failed: %v", err)
	}

	devices, err := store.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected both devices to survive, got %d", len(devices))
	}
}

func TestRevokeDevice(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 5)

	if err := store.Trust(ctx, "p1", testDevice("fp-r", time.Now())); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	existed, err := store.Revoke(ctx, "p1", "fp-r")
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !existed {
		t.Fatal("revoking a known device must report true")
	}

	existed, err = store.Revoke(ctx, "p1", "fp-r")
	if err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if existed {
		t.Fatal("revoking twice must report false")
	}

	got, err := store.Lookup(ctx, "p1", "fp-r")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Fatal("revoked device must come back nil")
	}
}

func TestRevokeAllDevices(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 5)

	base := time.Now()
	for i, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		if err := store.Trust(ctx, "p1", testDevice(fp, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Trust failed: %v", err)
		}
	}
	if err := store.Trust(ctx, "p2", testDevice("fp-other", base)); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	if err := store.RevokeAll(ctx, "p1"); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}

	devices, err := store.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices after RevokeAll, got %d", len(devices))
	}

	// Another principal's trust is untouched.
	got, err := store.Lookup(ctx, "p2", "fp-other")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil {
		t.Fatal("RevokeAll must be scoped to its principal")
	}
}

func TestListOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestTrustStore(t, 5)

	base := time.Now()
	if err := store.Trust(ctx, "p1", testDevice("fp-new", base.Add(time.Second))); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	if err := store.Trust(ctx, "p1", testDevice("fp-old", base)); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	devices, err := store.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Fingerprint != "fp-old" || devices[1].Fingerprint != "fp-new" {
		t.Fatalf("expected oldest trust first, got %s then %s", devices[0].Fingerprint, devices[1].Fingerprint)
	}
}
