package authgate

import (
	"context"
	"testing"
)

func BenchmarkLogin(b *testing.B) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(b, nil)
	seedPrincipal(b, engine, store, "bench@example.com", testPassword)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Login(ctx, "bench@example.com", testPassword, DeviceSignal{}); err != nil {
			b.Fatalf("Login failed: %v", err)
		}
	}
}

func BenchmarkValidateAccess(b *testing.B) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(b, nil)
	seedPrincipal(b, engine, store, "bench@example.com", testPassword)

	login, err := engine.Login(ctx, "bench@example.com", testPassword, DeviceSignal{})
	if err != nil {
		b.Fatalf("Login failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(ctx, login.AccessToken); err != nil {
			b.Fatalf("ValidateAccess failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(b, func(cfg *Config) {
		// Rotation on every iteration would trip the refresh limiter.
		cfg.RateLimit.Enabled = false
	})
	seedPrincipal(b, engine, store, "bench@example.com", testPassword)

	login, err := engine.Login(ctx, "bench@example.com", testPassword, DeviceSignal{})
	if err != nil {
		b.Fatalf("Login failed: %v", err)
	}
	refreshToken := login.RefreshToken

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Refresh(ctx, refreshToken)
		if err != nil {
			b.Fatalf("Refresh failed: %v", err)
		}
		refreshToken = pair.RefreshToken
	}
}
