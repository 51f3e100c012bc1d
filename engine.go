package authgate

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/halcyonlabs/authgate/internal"
	"github.com/halcyonlabs/authgate/internal/limiters"
	"github.com/halcyonlabs/authgate/internal/rate"
	"github.com/halcyonlabs/authgate/internal/stores"
	"github.com/halcyonlabs/authgate/jwt"
	"github.com/halcyonlabs/authgate/password"
	"github.com/halcyonlabs/authgate/session"
)

const (
	// MethodPassword is an exported constant or variable used by the authentication engine.
	MethodPassword = "password"
	// MethodMagicLink is an exported constant or variable used by the authentication engine.
	MethodMagicLink = "magic_link"
	// MethodOAuth is an exported constant or variable used by the authentication engine.
	MethodOAuth = "oauth"
	// MethodWebAuthn is an exported constant or variable used by the authentication engine.
	MethodWebAuthn = "webauthn"

	// SecondFactorTOTP is an exported constant or variable used by the authentication engine.
	SecondFactorTOTP = "totp"
	// SecondFactorBackupCode is an exported constant or variable used by the authentication engine.
	SecondFactorBackupCode = "backup_code"
	// SecondFactorTrustedDevice is an exported constant or variable used by the authentication engine.
	SecondFactorTrustedDevice = "trusted_device"
)

// Engine defines a public type used by authgate APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	lockout      *limiters.LockoutGuard
	challenges   *stores.ChallengeStore
	trust        *stores.TrustStore
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	totp         *totpManager
	jwtManager   *jwt.Manager
	webauthn     *webauthn.WebAuthn
	httpClient   *http.Client
	principals   PrincipalStore
	notifier     Notifier
	claims       ClaimsProvider
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies the primary password factor and either issues a token
// pair or hands back a second-factor ticket. Unknown identifiers burn
// the same hashing work as known ones so response timing does not
// reveal account existence.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, identifier, pw string, device DeviceSignal) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	rateID := strings.ToLower(strings.TrimSpace(identifier))

	decision, err := e.rateLimiter.Reserve(ctx, rate.ClassLogin, rateID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if !decision.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", MethodPassword, ErrRateLimited, func() map[string]string {
			return map[string]string{
				"identifier": rateID,
			}
		})
		e.emitRateLimit(ctx, "login", func() map[string]string {
			return map[string]string{
				"identifier": rateID,
			}
		})
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	locked, retryAfter, err := e.lockout.Status(ctx, rateID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if locked {
		e.metricInc(MetricLockoutHit)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", MethodPassword, ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"identifier": rateID,
				"reason":     "account_locked",
			}
		})
		return nil, &AccountLockedError{RetryAfter: retryAfter}
	}

	if pw == "" {
		return nil, e.failLogin(ctx, rateID, "", "empty_password")
	}

	principal, err := e.principals.GetByIdentifier(ctx, identifier)
	if err != nil {
		// Burn equivalent hashing work for the unknown-identifier path.
		e.passwordHash.DummyVerify(pw)
		return nil, e.failLogin(ctx, rateID, "", "principal_not_found")
	}

	ok, err := e.passwordHash.Verify(pw, principal.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, rateID, principal.ID, "password_mismatch")
	}

	if principal.Status != AccountActive {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", MethodPassword, ErrAccountDisabled, func() map[string]string {
			return map[string]string{
				"identifier": rateID,
				"reason":     "account_disabled",
			}
		})
		return nil, ErrAccountDisabled
	}

	if err := e.lockout.Reset(ctx, rateID); err != nil {
		log.Print("authgate: lockout counter reset failed")
	}
	if err := e.rateLimiter.ClearOnSuccess(ctx, rate.ClassLogin, rateID); err != nil {
		log.Print("authgate: login limiter clear failed")
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.passwordHash.NeedsUpgrade(principal.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := e.passwordHash.Hash(pw); err == nil {
				// Rehash update is best-effort and must not block successful login.
				if err := e.principals.UpdatePasswordHash(ctx, principal.ID, upgradedHash); err != nil {
					log.Print("authgate: password hash upgrade update failed")
				}
			} else {
				log.Print("authgate: password hash upgrade generation failed")
			}
		}
	}
	pw = ""

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)

	need, trustedSkip, err := e.secondFactorDecision(ctx, principal, fingerprint, device.Risk)
	if err != nil {
		return nil, err
	}
	if need {
		return e.beginSecondFactor(ctx, principal, fingerprint)
	}

	secondFactor := ""
	if trustedSkip {
		secondFactor = SecondFactorTrustedDevice
		e.metricInc(MetricDeviceTrustSkip)
	}

	pair, err := e.issueSession(ctx, principal.ID, MethodPassword, secondFactor, fingerprint)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", MethodPassword, err, func() map[string]string {
			return map[string]string{
				"identifier": rateID,
				"reason":     "session_issue_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, principal.ID, pair.SessionID, MethodPassword, nil, func() map[string]string {
		return map[string]string{
			"identifier": rateID,
		}
	})

	return &LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    pair.SessionID,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// failLogin records a failed primary attempt against the lockout guard
// and returns the uniform invalid-credential error. Engaging the lock
// emits a critical audit event.
func (e *Engine) failLogin(ctx context.Context, rateID, principalID, reason string) error {
	engaged, lockFor, err := e.lockout.RecordFailure(ctx, rateID)
	if err != nil {
		log.Print("authgate: lockout failure recording failed")
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, principalID, "", MethodPassword, ErrInvalidCredential, func() map[string]string {
		return map[string]string{
			"identifier": rateID,
			"reason":     reason,
		}
	})

	if engaged {
		e.metricInc(MetricLockoutEngaged)
		e.emitCriticalAudit(ctx, auditEventLockoutEngaged, principalID, "", MethodPassword, ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"identifier":    rateID,
				"lock_duration": lockFor.String(),
			}
		})
	}

	return ErrInvalidCredential
}

// Refresh rotates the refresh token and mints a new access token. A
// token that misses the stored hash is treated as replayed: the whole
// session is revoked atomically and the caller gets [ErrTokenReplay].
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, ErrRefreshInvalid
	}

	decision, err := e.rateLimiter.Reserve(ctx, rate.ClassRefresh, sessionID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if !decision.Allowed {
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, "", ErrRateLimited, nil)
		e.emitRateLimit(ctx, "refresh", func() map[string]string {
			return map[string]string{
				"session_id": sessionID,
			}
		})
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	generation, err := e.sessionStore.Rotate(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricReplayDetected)
			e.metricInc(MetricSessionInvalidated)
			if e.config.Security.EnableReplayTracking {
				if trackErr := e.sessionStore.TrackReplayAnomaly(ctx, sessionID, e.config.Session.Lifetime); trackErr != nil {
					log.Print("authgate: replay anomaly tracking failed")
				}
			}
			e.emitCriticalAudit(ctx, auditEventTokenReplayDetected, "", sessionID, "", ErrTokenReplay, nil)
			return nil, ErrTokenReplay
		case errors.Is(err, session.ErrSessionRevoked):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, "", ErrSessionRevoked, func() map[string]string {
				return map[string]string{
					"reason": "session_revoked",
				}
			})
			return nil, ErrSessionRevoked
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, "", ErrRefreshInvalid, func() map[string]string {
				return map[string]string{
					"reason": "session_gone",
				}
			})
			return nil, ErrRefreshInvalid
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, "", err, func() map[string]string {
				return map[string]string{
					"reason": "rotate_failed",
				}
			})
			return nil, ErrBackendUnavailable
		}
	}

	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrBackendUnavailable
	}

	access, err := e.issueAccessToken(ctx, sess, generation)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	refresh, err := internal.EncodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	if err := e.rateLimiter.ClearOnSuccess(ctx, rate.ClassRefresh, sessionID); err != nil {
		log.Print("authgate: refresh limiter clear failed")
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.PrincipalID, sessionID, sess.Method, nil, nil)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresAt:    time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// ValidateAccess checks an access token against its signature and the
// live session registry. A token whose generation no longer matches the
// session is stale and rejected.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AccessResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenInvalid
	}

	sess, err := e.sessionStore.Get(ctx, claims.SID)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrSessionExpired):
			return nil, ErrSessionExpired
		}
		return nil, ErrBackendUnavailable
	}
	if sess.Revoked {
		e.metricInc(MetricValidateFailure)
		return nil, ErrSessionRevoked
	}
	if claims.Generation != sess.Generation {
		e.metricInc(MetricValidateFailure)
		e.emitAudit(ctx, auditEventValidateFailure, false, sess.PrincipalID, claims.SID, sess.Method, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "stale_generation",
			}
		})
		return nil, ErrTokenInvalid
	}
	if err := e.validateBinding(ctx, sess); err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}

	e.metricInc(MetricValidateSuccess)

	return &AccessResult{
		PrincipalID:  sess.PrincipalID,
		SessionID:    sess.SessionID,
		Method:       sess.Method,
		SecondFactor: sess.SecondFactor,
		Generation:   sess.Generation,
		Scopes:       claims.Scopes,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// bindingAnomalyWindow bounds how often a binding mismatch on one
// session produces an audit event.
const bindingAnomalyWindow = time.Minute

// validateBinding compares the caller's IP and user agent hashes to the
// ones captured at session creation, when binding is enabled. An empty
// stored hash means nothing was captured and nothing is enforced.
func (e *Engine) validateBinding(ctx context.Context, sess *session.Session) error {
	var zero [32]byte

	if e.config.Security.EnableIPBinding && sess.IPHash != zero {
		ip := clientIPFromContext(ctx)
		if ip == "" || internal.HashBindingValue(ip) != sess.IPHash {
			e.reportBindingMismatch(ctx, sess, "ip")
			return ErrTokenInvalid
		}
	}
	if e.config.Security.EnableUABinding && sess.UserAgentHash != zero {
		ua := userAgentFromContext(ctx)
		if ua == "" || internal.HashBindingValue(ua) != sess.UserAgentHash {
			e.reportBindingMismatch(ctx, sess, "ua")
			return ErrTokenInvalid
		}
	}
	return nil
}

// reportBindingMismatch counts the mismatch and emits the anomaly audit
// event at most once per window per session and kind, so a stolen token
// replayed in a tight loop cannot flood the sink.
func (e *Engine) reportBindingMismatch(ctx context.Context, sess *session.Session, kind string) {
	e.metricInc(MetricBindingMismatch)

	emit, err := e.sessionStore.ShouldEmitDeviceAnomaly(ctx, sess.SessionID, kind, bindingAnomalyWindow)
	if err != nil || !emit {
		return
	}
	e.emitAudit(ctx, auditEventBindingRejected, false, sess.PrincipalID, sess.SessionID, sess.Method, ErrTokenInvalid, func() map[string]string {
		return map[string]string{
			"kind": kind,
		}
	})
}

// Logout revokes a single session. The record stays in Redis until its
// natural expiry so status probes answer revoked instead of not-found.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	err := e.sessionStore.Revoke(ctx, sessionID, "logout")
	if errors.Is(err, session.ErrSessionNotFound) {
		err = ErrSessionNotFound
	}
	if err == nil {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogoutSession, err == nil, "", sessionID, "", err, nil)
	return err
}

// LogoutAll revokes every tracked session of a principal and returns
// how many transitioned to revoked.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessionStore.RevokeAllForPrincipal(ctx, principalID, "logout_all")
	if err == nil {
		e.metricInc(MetricLogoutAll)
		for i := 0; i < revoked; i++ {
			e.metricInc(MetricSessionInvalidated)
		}
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, principalID, "", "", err, func() map[string]string {
		return map[string]string{
			"revoked": strconv.Itoa(revoked),
		}
	})
	return revoked, err
}

// GetSessionStatus returns the registry view of one session, revoked
// sessions included.
//
// GetSessionStatus may return an error when input validation, dependency calls, or security checks fail.
// GetSessionStatus does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrSessionExpired):
			return nil, ErrSessionExpired
		}
		return nil, ErrBackendUnavailable
	}

	status := &SessionStatus{
		SessionID:    sess.SessionID,
		PrincipalID:  sess.PrincipalID,
		Method:       sess.Method,
		SecondFactor: sess.SecondFactor,
		Generation:   sess.Generation,
		CreatedAt:    time.Unix(sess.CreatedAt, 0),
		ExpiresAt:    time.Unix(sess.ExpiresAt, 0),
		Revoked:      sess.Revoked,
		RevokeReason: sess.RevokeReason,
	}
	if sess.RotatedAt > 0 {
		status.RotatedAt = time.Unix(sess.RotatedAt, 0)
	}
	return status, nil
}

// issueSession creates the session record and mints the initial token
// pair for it.
func (e *Engine) issueSession(
	ctx context.Context,
	principalID, method, secondFactor, fingerprint string,
) (*TokenPair, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	lifetime := e.sessionLifetime()

	var ipHash, userAgentHash [32]byte
	if e.config.Security.EnableIPBinding {
		if ip := clientIPFromContext(ctx); ip != "" {
			ipHash = internal.HashBindingValue(ip)
		}
	}
	if e.config.Security.EnableUABinding {
		if ua := userAgentFromContext(ctx); ua != "" {
			userAgentHash = internal.HashBindingValue(ua)
		}
	}

	sess := &session.Session{
		SessionID:     sessionID,
		PrincipalID:   principalID,
		Method:        method,
		SecondFactor:  secondFactor,
		Fingerprint:   fingerprint,
		Generation:    0,
		RefreshHash:   internal.HashRefreshSecret(refreshSecret),
		IPHash:        ipHash,
		UserAgentHash: userAgentHash,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(lifetime).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, lifetime); err != nil {
		return nil, ErrBackendUnavailable
	}

	access, err := e.issueAccessToken(ctx, sess, 0)
	if err != nil {
		return nil, err
	}

	refresh, err := internal.EncodeRefreshToken(sessionID, refreshSecret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresAt:    time.Unix(sess.ExpiresAt, 0),
	}, nil
}

func (e *Engine) issueAccessToken(ctx context.Context, sess *session.Session, generation uint32) (string, error) {
	var scopes []string
	if e.claims != nil {
		s, err := e.claims.ScopesFor(ctx, sess.PrincipalID)
		if err != nil {
			return "", err
		}
		scopes = s
	}

	return e.jwtManager.CreateAccess(jwt.AccessInput{
		PrincipalID:  sess.PrincipalID,
		SessionID:    sess.SessionID,
		Generation:   generation,
		Method:       sess.Method,
		SecondFactor: sess.SecondFactor,
		Scopes:       scopes,
	})
}

func (e *Engine) sessionLifetime() time.Duration {
	lifetime := e.config.Session.Lifetime
	if e.config.JWT.RefreshTTL > 0 && e.config.JWT.RefreshTTL < lifetime {
		return e.config.JWT.RefreshTTL
	}
	return lifetime
}
