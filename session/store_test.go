package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
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

	return NewStore(rdb, "asg"), mr
}

func testHash(b byte) [32]byte {
	return sha256.Sum256([]byte{b})
}

func testSession(principalID, sessionID string, refreshHash [32]byte) *Session {
	now := time.Now().Unix()
	return &Session{
		SessionID:   sessionID,
		PrincipalID: principalID,
		Method:      "password",
		RefreshHash: refreshHash,
		CreatedAt:   now,
		ExpiresAt:   now + 3600,
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := testSession("p1", "sid-1", testHash(1))
	sess.SecondFactor = "totp"
	sess.Fingerprint = "fp-1"
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PrincipalID != "p1" || got.Method != "password" || got.SecondFactor != "totp" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Fingerprint != "fp-1" {
		t.Fatalf("expected fingerprint fp-1, got %q", got.Fingerprint)
	}
	if got.RefreshHash != testHash(1) {
		t.Fatal("refresh hash did not survive the round trip")
	}
	if got.Generation != 0 || got.Revoked {
		t.Fatalf("fresh session should be generation 0 and not revoked: %+v", got)
	}
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetPrunesExpiredSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := testSession("p1", "sid-exp", testHash(2))
	sess.ExpiresAt = time.Now().Unix() - 1
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "sid-exp"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// The expired record and its index entry are pruned on read.
	if _, err := store.Get(ctx, "sid-exp"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after pruning, got %v", err)
	}
	count, err := store.ActiveSessionCount(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty index after pruning, got %d", count)
	}
}

func TestRotateBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	first := testHash(3)
	if err := store.Save(ctx, testSession("p1", "sid-rot", first), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := testHash(4)
	gen, err := store.Rotate(ctx, "sid-rot", first, second)
	if err != nil {
		t.Fatalf("first Rotate failed: %v", err)
	}
	if gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}

	third := testHash(5)
	gen, err = store.Rotate(ctx, "sid-rot", second, third)
	if err != nil {
		t.Fatalf("second Rotate failed: %v", err)
	}
	if gen != 2 {
		t.Fatalf("expected generation 2, got %d", gen)
	}

	got, err := store.Get(ctx, "sid-rot")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Generation != 2 {
		t.Fatalf("stored generation = %d, want 2", got.Generation)
	}
	if got.RefreshHash != third {
		t.Fatal("stored refresh hash was not swapped to the latest")
	}
	if got.RotatedAt == 0 {
		t.Fatal("expected RotatedAt to be recorded")
	}
}

func TestRotateMismatchRevokesSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	current := testHash(6)
	if err := store.Save(ctx, testSession("p1", "sid-mm", current), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Rotate(ctx, "sid-mm", testHash(7), testHash(8)); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}

	got, err := store.Get(ctx, "sid-mm")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked || got.RevokeReason != "replay" {
		t.Fatalf("expected replay-revoked session, got %+v", got)
	}

	// Even the legitimate hash cannot rotate a revoked session.
	if _, err := store.Rotate(ctx, "sid-mm", current, testHash(9)); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestRotateUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Rotate(context.Background(), "missing", testHash(1), testHash(2)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.Save(ctx, testSession("p1", "sid-rev", testHash(10)), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Revoke(ctx, "sid-rev", "logout"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	// Revoking twice is not an error.
	if err := store.Revoke(ctx, "sid-rev", "logout"); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-rev")
	if err != nil {
		t.Fatalf("Get after revoke failed: %v", err)
	}
	if !got.Revoked || got.RevokeReason != "logout" {
		t.Fatalf("expected logout-revoked session, got %+v", got)
	}
}

func TestRevokeUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Revoke(context.Background(), "missing", "logout"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeAllForPrincipal(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for i := byte(0); i < 3; i++ {
		sid := "sid-ra-" + string(rune('a'+i))
		if err := store.Save(ctx, testSession("p-ra", sid, testHash(20+i)), time.Hour); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, testSession("p-other", "sid-other", testHash(30)), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	count, err := store.RevokeAllForPrincipal(ctx, "p-ra", "logout_all")
	if err != nil {
		t.Fatalf("RevokeAllForPrincipal failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked, got %d", count)
	}

	// Already revoked sessions do not count twice.
	count, err = store.RevokeAllForPrincipal(ctx, "p-ra", "logout_all")
	if err != nil {
		t.Fatalf("second RevokeAllForPrincipal failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 revoked on repeat, got %d", count)
	}

	got, err := store.Get(ctx, "sid-other")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Revoked {
		t.Fatal("unrelated principal's session must stay live")
	}
}

func TestDeleteRemovesRecordAndIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.Save(ctx, testSession("p-del", "sid-del", testHash(40)), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete(ctx, "sid-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Idempotent.
	if err := store.Delete(ctx, "sid-del"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	if _, err := store.Get(ctx, "sid-del"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	count, err := store.ActiveSessionCount(ctx, "p-del")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty index, got %d", count)
	}
}

func TestActiveSessionIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ids, err := store.ActiveSessionIDs(ctx, "p-none")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no sessions, got %v", ids)
	}

	if err := store.Save(ctx, testSession("p-ids", "sid-a", testHash(50)), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, testSession("p-ids", "sid-b", testHash(51)), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ids, err = store.ActiveSessionIDs(ctx, "p-ids")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 session IDs, got %v", ids)
	}
}

func TestShouldEmitDeviceAnomalyOncePerWindow(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	first, err := store.ShouldEmitDeviceAnomaly(ctx, "sid-an", "ip", time.Minute)
	if err != nil {
		t.Fatalf("ShouldEmitDeviceAnomaly failed: %v", err)
	}
	if !first {
		t.Fatal("first anomaly in the window must be emitted")
	}

	again, err := store.ShouldEmitDeviceAnomaly(ctx, "sid-an", "ip", time.Minute)
	if err != nil {
		t.Fatalf("ShouldEmitDeviceAnomaly failed: %v", err)
	}
	if again {
		t.Fatal("repeat anomaly in the same window must be suppressed")
	}

	mr.FastForward(2 * time.Minute)

	later, err := store.ShouldEmitDeviceAnomaly(ctx, "sid-an", "ip", time.Minute)
	if err != nil {
		t.Fatalf("ShouldEmitDeviceAnomaly failed: %v", err)
	}
	if !later {
		t.Fatal("anomaly after the window expired must be emitted again")
	}
}
