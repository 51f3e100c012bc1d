package internaldefs

import (
	authgate "github.com/halcyonlabs/authgate"
)

// CounterDef defines a public type used by authgate APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by authgate APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Successful login attempts."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Failed login attempts."},
	{ID: authgate.MetricLoginRateLimited, Name: "authgate_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authgate.MetricLockoutEngaged, Name: "authgate_lockout_engaged_total", Help: "Lockouts engaged by consecutive failures."},
	{ID: authgate.MetricLockoutHit, Name: "authgate_lockout_hit_total", Help: "Login attempts rejected by an active lockout."},
	{ID: authgate.MetricSecondFactorRequired, Name: "authgate_second_factor_required_total", Help: "Login flows requiring a second factor."},
	{ID: authgate.MetricSecondFactorSuccess, Name: "authgate_second_factor_success_total", Help: "Successful second-factor confirmations."},
	{ID: authgate.MetricSecondFactorFailure, Name: "authgate_second_factor_failure_total", Help: "Failed second-factor confirmations."},
	{ID: authgate.MetricSecondFactorRateLimited, Name: "authgate_second_factor_rate_limited_total", Help: "Rate-limited second-factor attempts."},
	{ID: authgate.MetricChallengeReplayAttempt, Name: "authgate_challenge_replay_attempt_total", Help: "Consumed challenges presented again."},
	{ID: authgate.MetricChallengeAttemptsExceeded, Name: "authgate_challenge_attempts_exceeded_total", Help: "Challenges invalidated by the attempt cap."},
	{ID: authgate.MetricTOTPSuccess, Name: "authgate_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: authgate.MetricTOTPFailure, Name: "authgate_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: authgate.MetricBackupCodeUsed, Name: "authgate_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: authgate.MetricBackupCodeFailed, Name: "authgate_backup_code_failed_total", Help: "Failed backup-code authentications."},
	{ID: authgate.MetricBackupCodeRegenerated, Name: "authgate_backup_code_regenerated_total", Help: "Backup-code regeneration operations."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authgate.MetricRefreshRateLimited, Name: "authgate_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: authgate.MetricRefreshReuseDetected, Name: "authgate_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authgate.MetricReplayDetected, Name: "authgate_replay_detected_total", Help: "Detected replay attempts."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Created sessions."},
	{ID: authgate.MetricSessionInvalidated, Name: "authgate_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Single-session logout operations."},
	{ID: authgate.MetricLogoutAll, Name: "authgate_logout_all_total", Help: "Logout-all operations."},
	{ID: authgate.MetricMagicLinkRequested, Name: "authgate_magic_link_requested_total", Help: "Magic-link issue requests."},
	{ID: authgate.MetricMagicLinkConsumed, Name: "authgate_magic_link_consumed_total", Help: "Consumed magic links."},
	{ID: authgate.MetricMagicLinkFailure, Name: "authgate_magic_link_failure_total", Help: "Failed magic-link consumptions."},
	{ID: authgate.MetricMagicLinkRateLimited, Name: "authgate_magic_link_rate_limited_total", Help: "Rate-limited magic-link requests."},
	{ID: authgate.MetricOAuthBegin, Name: "authgate_oauth_begin_total", Help: "Started OAuth authorization flows."},
	{ID: authgate.MetricOAuthSuccess, Name: "authgate_oauth_success_total", Help: "Completed OAuth logins."},
	{ID: authgate.MetricOAuthFailure, Name: "authgate_oauth_failure_total", Help: "Failed OAuth logins."},
	{ID: authgate.MetricOAuthProvisioned, Name: "authgate_oauth_provisioned_total", Help: "Principals provisioned from OAuth identities."},
	{ID: authgate.MetricWebAuthnBegin, Name: "authgate_webauthn_begin_total", Help: "Started WebAuthn assertion ceremonies."},
	{ID: authgate.MetricWebAuthnSuccess, Name: "authgate_webauthn_success_total", Help: "Completed WebAuthn logins."},
	{ID: authgate.MetricWebAuthnFailure, Name: "authgate_webauthn_failure_total", Help: "Failed WebAuthn ceremonies."},
	{ID: authgate.MetricWebAuthnCounterRegression, Name: "authgate_webauthn_counter_regression_total", Help: "Signature counter regressions treated as cloned authenticators."},
	{ID: authgate.MetricDeviceTrusted, Name: "authgate_device_trusted_total", Help: "Devices remembered as trusted."},
	{ID: authgate.MetricDeviceTrustSkip, Name: "authgate_device_trust_skip_total", Help: "Second-factor steps skipped for trusted devices."},
	{ID: authgate.MetricDeviceTrustMiss, Name: "authgate_device_trust_miss_total", Help: "Trust lookups that found no live record."},
	{ID: authgate.MetricValidateSuccess, Name: "authgate_validate_success_total", Help: "Successful access-token validations."},
	{ID: authgate.MetricValidateFailure, Name: "authgate_validate_failure_total", Help: "Failed access-token validations."},
	{ID: authgate.MetricBindingMismatch, Name: "authgate_binding_mismatch_total", Help: "Access validations rejected by IP or user-agent binding."},
	{ID: authgate.MetricNotifyFailure, Name: "authgate_notify_failure_total", Help: "Failed notifier deliveries."},
	{ID: authgate.MetricUpstreamTimeout, Name: "authgate_upstream_timeout_total", Help: "Upstream calls abandoned after timeout and retry."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricValidateLatency, Name: "authgate_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the authentication engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
