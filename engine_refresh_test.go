package authgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRefreshRotatesTokenPair(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t, nil)
	rec := seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	login, err := engine.Login(ctx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	pair, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.SessionID != login.SessionID {
		t.Fatalf("rotation changed the session: %s vs %s", pair.SessionID, login.SessionID)
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	access, err := engine.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess after rotation failed: %v", err)
	}
	if access.PrincipalID != rec.ID || access.Generation != 1 {
		t.Fatalf("unexpected access result after rotation: %+v", access)
	}
}

func TestRefreshReplayRevokesSession(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t, nil)
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	login, err := engine.Login(ctx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	pair, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Replaying the pre-rotation token burns the whole session.
	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrTokenReplay) {
		t.Fatalf("expected ErrTokenReplay, got %v", err)
	}

	status, err := engine.GetSessionStatus(ctx, login.SessionID)
	if err != nil {
		t.Fatalf("GetSessionStatus failed: %v", err)
	}
	if !status.Revoked || status.RevokeReason != "replay" {
		t.Fatalf("expected replay-revoked session, got %+v", status)
	}

	// The holder of the newest token is locked out too.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for the current token, got %v", err)
	}
	if _, err := engine.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for access, got %v", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	if _, err := engine.Refresh(context.Background(), "not-a-refresh-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t, nil)
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	login, err := engine.Login(ctx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := engine.Logout(ctx, login.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestValidateAccessStaleGeneration(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t, nil)
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	login, err := engine.Login(ctx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// The pre-rotation access token carries generation 0 against a
	// session now at generation 1.
	if _, err := engine.ValidateAccess(ctx, login.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for a stale generation, got %v", err)
	}
}

func TestValidateAccessGarbageToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	if _, err := engine.ValidateAccess(context.Background(), "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateAccessEnforcesIPBinding(t *testing.T) {
	engine, store, _ := newTestEngine(t, func(cfg *Config) {
		cfg.Security.EnableIPBinding = true
	})
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	loginCtx := WithClientIP(context.Background(), "203.0.113.7")
	login, err := engine.Login(loginCtx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := engine.ValidateAccess(loginCtx, login.AccessToken); err != nil {
		t.Fatalf("ValidateAccess from the login address failed: %v", err)
	}

	otherCtx := WithClientIP(context.Background(), "198.51.100.9")
	if _, err := engine.ValidateAccess(otherCtx, login.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid from a different address, got %v", err)
	}
	if _, err := engine.ValidateAccess(context.Background(), login.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid without a client address, got %v", err)
	}
}

func TestValidateAccessEnforcesUABinding(t *testing.T) {
	engine, store, _ := newTestEngine(t, nil)
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	loginCtx := WithUserAgent(context.Background(), "test-agent/1.0")
	login, err := engine.Login(loginCtx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := engine.ValidateAccess(loginCtx, login.AccessToken); err != nil {
		t.Fatalf("ValidateAccess with the login user agent failed: %v", err)
	}

	otherCtx := WithUserAgent(context.Background(), "other-agent/2.0")
	if _, err := engine.ValidateAccess(otherCtx, login.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid from a different user agent, got %v", err)
	}
}

func TestBindingMismatchAuditedOncePerWindow(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(32)
	engine, store, mr := newTestEngine(t, func(cfg *Config) {
		cfg.Security.EnableIPBinding = true
		cfg.Metrics.Enabled = true
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 32
	}, func(b *Builder) { b.WithAuditSink(sink) })
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	loginCtx := WithClientIP(ctx, "203.0.113.7")
	login, err := engine.Login(loginCtx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	wrongCtx := WithClientIP(ctx, "198.51.100.9")
	for i := 0; i < 3; i++ {
		if _, err := engine.ValidateAccess(wrongCtx, login.AccessToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("mismatch %d: expected ErrTokenInvalid, got %v", i, err)
		}
	}

	// A fresh window allows one more anomaly event.
	mr.FastForward(2 * time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := engine.ValidateAccess(wrongCtx, login.AccessToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("mismatch %d after window: expected ErrTokenInvalid, got %v", i, err)
		}
	}

	// Logout closes the stream; everything before it has been delivered.
	if err := engine.Logout(ctx, login.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	anomalies := 0
	for {
		event := awaitEvent(t, sink.Events())
		if event.EventType == auditEventLogoutSession {
			break
		}
		if event.EventType != auditEventBindingRejected {
			continue
		}
		anomalies++
		if event.SessionID != login.SessionID {
			t.Fatalf("anomaly event for session %q, want %q", event.SessionID, login.SessionID)
		}
		if event.Metadata["kind"] != "ip" {
			t.Fatalf("anomaly kind = %q, want ip", event.Metadata["kind"])
		}
	}
	if anomalies != 2 {
		t.Fatalf("expected one anomaly event per window, got %d", anomalies)
	}

	// The counter is not throttled; every rejection is counted.
	if got := engine.MetricsSnapshot().Counters[MetricBindingMismatch]; got != 5 {
		t.Fatalf("MetricBindingMismatch = %d, want 5", got)
	}
}

func TestValidateAccessUnboundSessionIgnoresContext(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t, nil)
	seedPrincipal(t, engine, store, "alice@example.com", testPassword)

	// Login without a user agent stores a zero hash, so later requests
	// are not held to one.
	login, err := engine.Login(ctx, "alice@example.com", testPassword, DeviceSignal{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	uaCtx := WithUserAgent(ctx, "late-agent/1.0")
	if _, err := engine.ValidateAccess(uaCtx, login.AccessToken); err != nil {
		t.Fatalf("ValidateAccess failed for an unbound session: %v", err)
	}
}
