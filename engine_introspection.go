package authgate

import (
	"context"
	"errors"
	"time"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// GetActiveSessionCount returns how many sessions are tracked for the
// principal, revoked-but-unexpired ones included.
//
// GetActiveSessionCount may return an error when input validation, dependency calls, or security checks fail.
// GetActiveSessionCount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	if principalID == "" {
		return 0, ErrPrincipalNotFound
	}

	return e.sessionStore.ActiveSessionCount(ctx, principalID)
}

// ListActiveSessions returns the registry view of every tracked session
// for a principal. Sessions that expired since indexing are skipped.
//
// ListActiveSessions may return an error when input validation, dependency calls, or security checks fail.
// ListActiveSessions does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListActiveSessions(ctx context.Context, principalID string) ([]SessionStatus, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	if principalID == "" {
		return nil, ErrPrincipalNotFound
	}

	sessionIDs, err := e.sessionStore.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	out := make([]SessionStatus, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		status, err := e.GetSessionStatus(ctx, sid)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
				continue
			}
			return nil, err
		}
		out = append(out, *status)
	}
	return out, nil
}

// Health reports point-in-time Redis availability and latency.
//
// Health may return an error when input validation, dependency calls, or security checks fail.
// Health does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessionStore == nil {
		return HealthStatus{}
	}

	latency, err := e.sessionStore.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}
