package authgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredential is an exported constant or variable used by the authentication engine.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrPrincipalNotFound is an exported constant or variable used by the authentication engine.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrAccountDisabled is an exported constant or variable used by the authentication engine.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is an exported constant or variable used by the authentication engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrSecondFactorInvalid is an exported constant or variable used by the authentication engine.
	ErrSecondFactorInvalid = errors.New("second factor invalid")
	// ErrSecondFactorNotEnrolled is an exported constant or variable used by the authentication engine.
	ErrSecondFactorNotEnrolled = errors.New("second factor not enrolled")
	// ErrChallengeNotFound is an exported constant or variable used by the authentication engine.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeConsumed is an exported constant or variable used by the authentication engine.
	ErrChallengeConsumed = errors.New("challenge already consumed")
	// ErrChallengeAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrTOTPInvalid is an exported constant or variable used by the authentication engine.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTOTPNotConfigured is an exported constant or variable used by the authentication engine.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPFeatureDisabled is an exported constant or variable used by the authentication engine.
	ErrTOTPFeatureDisabled = errors.New("totp feature disabled")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is an exported constant or variable used by the authentication engine.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is an exported constant or variable used by the authentication engine.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is an exported constant or variable used by the authentication engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrTokenReplay is an exported constant or variable used by the authentication engine.
	ErrTokenReplay = errors.New("refresh token replay detected")
	// ErrMagicLinkInvalid is an exported constant or variable used by the authentication engine.
	ErrMagicLinkInvalid = errors.New("invalid magic link")
	// ErrOAuthProviderUnknown is an exported constant or variable used by the authentication engine.
	ErrOAuthProviderUnknown = errors.New("unknown oauth provider")
	// ErrOAuthStateInvalid is an exported constant or variable used by the authentication engine.
	ErrOAuthStateInvalid = errors.New("invalid oauth state")
	// ErrOAuthExchangeFailed is an exported constant or variable used by the authentication engine.
	ErrOAuthExchangeFailed = errors.New("oauth code exchange failed")
	// ErrOAuthSignupDisabled is an exported constant or variable used by the authentication engine.
	ErrOAuthSignupDisabled = errors.New("oauth signup disabled")
	// ErrWebAuthnFeatureDisabled is an exported constant or variable used by the authentication engine.
	ErrWebAuthnFeatureDisabled = errors.New("webauthn feature disabled")
	// ErrWebAuthnInvalid is an exported constant or variable used by the authentication engine.
	ErrWebAuthnInvalid = errors.New("webauthn assertion invalid")
	// ErrWebAuthnNoCredentials is an exported constant or variable used by the authentication engine.
	ErrWebAuthnNoCredentials = errors.New("no webauthn credentials enrolled")
	// ErrWebAuthnCounterRegression is an exported constant or variable used by the authentication engine.
	ErrWebAuthnCounterRegression = errors.New("webauthn signature counter regression")
	// ErrDeviceNotTrusted is an exported constant or variable used by the authentication engine.
	ErrDeviceNotTrusted = errors.New("device not trusted")
	// ErrUpstreamTimeout is an exported constant or variable used by the authentication engine.
	ErrUpstreamTimeout = errors.New("upstream dependency timeout")
	// ErrBackendUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the wait until the next attempt can succeed.
// It matches [ErrRateLimited] under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// AccountLockedError carries the remaining lockout duration. It matches
// [ErrAccountLocked] under errors.Is.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
