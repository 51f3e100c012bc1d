package authgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventLoginRateLimited          = "login_rate_limited"
	auditEventLockoutEngaged            = "lockout_engaged"
	auditEventSecondFactorRequired      = "second_factor_required"
	auditEventSecondFactorSuccess       = "second_factor_success"
	auditEventSecondFactorFailure       = "second_factor_failure"
	auditEventSecondFactorExceeded      = "second_factor_attempts_exceeded"
	auditEventChallengeReplay           = "challenge_replay"
	auditEventRefreshSuccess            = "refresh_success"
	auditEventRefreshInvalid            = "refresh_invalid"
	auditEventRefreshRateLimited        = "refresh_rate_limited"
	auditEventTokenReplayDetected       = "token_replay_detected"
	auditEventLogoutSession             = "logout_session"
	auditEventLogoutAll                 = "logout_all"
	auditEventValidateFailure           = "validate_failure"
	auditEventBindingRejected           = "binding_rejected"
	auditEventMagicLinkRequested        = "magic_link_requested"
	auditEventMagicLinkConsumed         = "magic_link_consumed"
	auditEventMagicLinkFailure          = "magic_link_failure"
	auditEventOAuthBegin                = "oauth_begin"
	auditEventOAuthSuccess              = "oauth_success"
	auditEventOAuthFailure              = "oauth_failure"
	auditEventOAuthProvisioned          = "oauth_account_provisioned"
	auditEventWebAuthnBegin             = "webauthn_begin"
	auditEventWebAuthnSuccess           = "webauthn_success"
	auditEventWebAuthnFailure           = "webauthn_failure"
	auditEventWebAuthnCounterRegression = "webauthn_counter_regression"
	auditEventDeviceTrusted             = "device_trusted"
	auditEventDeviceTrustRevoked        = "device_trust_revoked"
	auditEventTOTPSetupRequested        = "totp_setup_requested"
	auditEventTOTPEnabled               = "totp_enabled"
	auditEventTOTPDisabled              = "totp_disabled"
	auditEventBackupCodesGenerated      = "backup_codes_generated"
	auditEventBackupCodeUsed            = "backup_code_used"
	auditEventRateLimitTriggered        = "rate_limit_triggered"
)

// AuditErrorCode defines a public type used by authgate APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredential   AuditErrorCode = "invalid_credential"
	auditErrPrincipalNotFound   AuditErrorCode = "principal_not_found"
	auditErrAccountDisabled     AuditErrorCode = "account_disabled"
	auditErrAccountLocked       AuditErrorCode = "account_locked"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrSecondFactorInvalid AuditErrorCode = "second_factor_invalid"
	auditErrChallengeInvalid    AuditErrorCode = "challenge_invalid"
	auditErrChallengeReplay     AuditErrorCode = "challenge_replay"
	auditErrAttemptsExceeded    AuditErrorCode = "attempts_exceeded"
	auditErrTokenReplay         AuditErrorCode = "token_replay"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrSessionNotFound     AuditErrorCode = "session_not_found"
	auditErrSessionRevoked      AuditErrorCode = "session_revoked"
	auditErrMagicLinkInvalid    AuditErrorCode = "magic_link_invalid"
	auditErrOAuthFailed         AuditErrorCode = "oauth_failed"
	auditErrWebAuthnInvalid     AuditErrorCode = "webauthn_invalid"
	auditErrCounterRegression   AuditErrorCode = "counter_regression"
	auditErrUpstreamTimeout     AuditErrorCode = "upstream_timeout"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	sessionID string,
	method string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	e.audit.Emit(ctx, e.buildAuditEvent(ctx, eventType, success, principalID, sessionID, method, err, metadataBuilder))
}

// emitCriticalAudit bypasses the async buffer so that replay and clone
// signals reach the sink even when the dispatcher is saturated.
func (e *Engine) emitCriticalAudit(
	ctx context.Context,
	eventType string,
	principalID string,
	sessionID string,
	method string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	e.audit.EmitCritical(ctx, e.buildAuditEvent(ctx, eventType, false, principalID, sessionID, method, err, metadataBuilder))
}

func (e *Engine) buildAuditEvent(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	sessionID string,
	method string,
	err error,
	metadataBuilder func() map[string]string,
) AuditEvent {
	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		Method:      method,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	return event
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrPrincipalNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSecondFactorInvalid),
		errors.Is(err, ErrSecondFactorNotEnrolled),
		errors.Is(err, ErrTOTPInvalid),
		errors.Is(err, ErrTOTPNotConfigured):
		return auditErrSecondFactorInvalid
	case errors.Is(err, ErrChallengeConsumed):
		return auditErrChallengeReplay
	case errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTokenReplay):
		return auditErrTokenReplay
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired):
		return auditErrSessionNotFound
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrMagicLinkInvalid):
		return auditErrMagicLinkInvalid
	case errors.Is(err, ErrOAuthProviderUnknown),
		errors.Is(err, ErrOAuthStateInvalid),
		errors.Is(err, ErrOAuthExchangeFailed),
		errors.Is(err, ErrOAuthSignupDisabled):
		return auditErrOAuthFailed
	case errors.Is(err, ErrWebAuthnCounterRegression):
		return auditErrCounterRegression
	case errors.Is(err, ErrWebAuthnInvalid),
		errors.Is(err, ErrWebAuthnNoCredentials),
		errors.Is(err, ErrWebAuthnFeatureDisabled):
		return auditErrWebAuthnInvalid
	case errors.Is(err, ErrUpstreamTimeout):
		return auditErrUpstreamTimeout
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
