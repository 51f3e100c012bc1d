package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/halcyonlabs/authgate/internal"
	"github.com/halcyonlabs/authgate/internal/rate"
	"github.com/halcyonlabs/authgate/internal/stores"
)

// secondFactorMeta is the challenge payload bound to a pending ticket.
type secondFactorMeta struct {
	Fingerprint string   `json:"fp,omitempty"`
	Methods     []string `json:"m"`
}

// secondFactorDecision reports whether a password login must present a
// second factor, and whether a trusted device is the reason it does not.
// A high-risk assessment on the call disqualifies the trust skip when
// the policy says so; it never waives an otherwise required factor.
func (e *Engine) secondFactorDecision(
	ctx context.Context,
	principal *PrincipalRecord,
	fingerprint string,
	risk RiskAssessment,
) (bool, bool, error) {
	if !e.config.MFA.RequireForPassword || !principal.TOTPEnabled {
		return false, false, nil
	}

	highRisk := risk == RiskHigh && e.config.Security.ForceSecondFactorOnHighRisk
	if e.config.DeviceTrust.Enabled && fingerprint != "" && !highRisk {
		device, err := e.trust.Lookup(ctx, principal.ID, fingerprint)
		if err != nil {
			return false, false, ErrBackendUnavailable
		}
		if device != nil && device.SkipSecondFactor {
			return false, true, nil
		}
		e.metricInc(MetricDeviceTrustMiss)
	}

	return true, false, nil
}

// beginSecondFactor stores a single-use challenge and hands the caller
// an opaque ticket. The password is already verified at this point; no
// tokens exist until the factor is presented.
func (e *Engine) beginSecondFactor(
	ctx context.Context,
	principal *PrincipalRecord,
	fingerprint string,
) (*LoginResult, error) {
	cid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewLinkSecret()
	if err != nil {
		return nil, err
	}

	methods := []string{SecondFactorTOTP, SecondFactorBackupCode}
	meta, err := json.Marshal(secondFactorMeta{
		Fingerprint: fingerprint,
		Methods:     methods,
	})
	if err != nil {
		return nil, err
	}

	challenge := &stores.Challenge{
		Kind:        stores.KindSecondFactor,
		PrincipalID: principal.ID,
		ExpiresAt:   time.Now().Add(e.config.MFA.TicketTTL).Unix(),
		SecretHash:  internal.HashLinkSecret(secret),
		Meta:        meta,
	}
	if err := e.challenges.Save(ctx, cid.String(), challenge, e.config.MFA.TicketTTL); err != nil {
		return nil, ErrBackendUnavailable
	}

	ticket, err := internal.EncodeLinkToken(cid.String(), secret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSecondFactorRequired)
	e.emitAudit(ctx, auditEventSecondFactorRequired, true, principal.ID, "", MethodPassword, nil, nil)

	return &LoginResult{
		SecondFactorRequired: true,
		Ticket:               ticket,
		Methods:              methods,
	}, nil
}

// VerifySecondFactor completes a pending login by checking a TOTP code
// or a backup code against the ticket issued by Login. The ticket is
// consumed exactly once; a replayed ticket is reported as consumed, not
// as unknown.
//
// VerifySecondFactor may return an error when input validation, dependency calls, or security checks fail.
// VerifySecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifySecondFactor(ctx context.Context, input SecondFactorInput) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	challengeID, secret, err := internal.DecodeLinkToken(input.Ticket)
	if err != nil {
		e.metricInc(MetricSecondFactorFailure)
		return nil, ErrSecondFactorInvalid
	}

	decision, err := e.rateLimiter.Reserve(ctx, rate.ClassSecondFactor, challengeID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if !decision.Allowed {
		e.metricInc(MetricSecondFactorRateLimited)
		e.emitRateLimit(ctx, "second_factor", func() map[string]string {
			return map[string]string{
				"challenge_id": challengeID,
			}
		})
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	challenge, err := e.challenges.Get(ctx, stores.KindSecondFactor, challengeID)
	if err != nil {
		return nil, e.secondFactorLookupError(ctx, challengeID, err)
	}
	if challenge.SecretHash != internal.HashLinkSecret(secret) {
		return nil, e.failSecondFactor(ctx, challenge.PrincipalID, challengeID, "", "secret_mismatch")
	}

	var meta secondFactorMeta
	if len(challenge.Meta) > 0 {
		if err := json.Unmarshal(challenge.Meta, &meta); err != nil {
			return nil, ErrSecondFactorInvalid
		}
	}

	fingerprint := internal.FingerprintDevice(
		input.Device.Platform, input.Device.OSVersion, input.Device.Model,
		input.Device.Locale, input.Device.Timezone, input.Device.AppVersion,
	)
	if meta.Fingerprint != "" && fingerprint != meta.Fingerprint {
		return nil, e.failSecondFactor(ctx, challenge.PrincipalID, challengeID, "", "fingerprint_mismatch")
	}

	var usedFactor string
	switch classifySecondFactorCode(input.Code, e.config.TOTP.Digits, e.config.TOTP.BackupCodeLength) {
	case secondFactorTOTP:
		if err := e.verifyTOTPFactor(ctx, challenge.PrincipalID, input.Code); err != nil {
			if errors.Is(err, ErrSecondFactorInvalid) {
				e.metricInc(MetricTOTPFailure)
				return nil, e.failSecondFactor(ctx, challenge.PrincipalID, challengeID, SecondFactorTOTP, "totp_mismatch")
			}
			return nil, err
		}
		usedFactor = SecondFactorTOTP
		e.metricInc(MetricTOTPSuccess)
	case secondFactorBackupCode:
		matched, err := e.principals.ConsumeBackupCode(ctx, challenge.PrincipalID, hashBackupCode(input.Code))
		if err != nil {
			return nil, ErrBackendUnavailable
		}
		if !matched {
			e.metricInc(MetricBackupCodeFailed)
			return nil, e.failSecondFactor(ctx, challenge.PrincipalID, challengeID, SecondFactorBackupCode, "backup_code_mismatch")
		}
		usedFactor = SecondFactorBackupCode
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, challenge.PrincipalID, "", MethodPassword, nil, nil)
	default:
		return nil, e.failSecondFactor(ctx, challenge.PrincipalID, challengeID, "", "unrecognized_code_shape")
	}

	// The code is verified; now claim the ticket. Losing this race to a
	// concurrent verification means the other caller got the session.
	if _, err := e.challenges.Consume(ctx, stores.KindSecondFactor, challengeID); err != nil {
		return nil, e.secondFactorLookupError(ctx, challengeID, err)
	}

	if input.TrustDevice && e.config.DeviceTrust.Enabled && fingerprint != "" {
		if err := e.rememberDevice(ctx, challenge.PrincipalID, fingerprint, input.Device.Label); err != nil {
			return nil, err
		}
	}

	pair, err := e.issueSession(ctx, challenge.PrincipalID, MethodPassword, usedFactor, fingerprint)
	if err != nil {
		e.metricInc(MetricSecondFactorFailure)
		return nil, err
	}

	if err := e.rateLimiter.ClearOnSuccess(ctx, rate.ClassSecondFactor, challengeID); err != nil {
		log.Print("authgate: second factor limiter clear failed")
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, challenge.PrincipalID, pair.SessionID, MethodPassword, nil, func() map[string]string {
		return map[string]string{
			"factor": usedFactor,
		}
	})

	return &LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    pair.SessionID,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// verifyTOTPFactor checks a TOTP code for the principal, enforcing the
// last-used-counter so each code verifies at most once.
func (e *Engine) verifyTOTPFactor(ctx context.Context, principalID, code string) error {
	record, err := e.principals.GetTOTP(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrTOTPNotConfigured
		}
		return ErrBackendUnavailable
	}
	if record == nil || !record.Confirmed || len(record.Secret) == 0 {
		return ErrTOTPNotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return ErrSecondFactorInvalid
	}
	if !ok {
		return ErrSecondFactorInvalid
	}
	if e.config.TOTP.EnforceReplayProtection {
		if counter <= record.LastUsedCounter {
			return ErrSecondFactorInvalid
		}
		if err := e.principals.UpdateTOTPLastUsedCounter(ctx, principalID, counter); err != nil {
			return ErrBackendUnavailable
		}
	}
	return nil
}

// failSecondFactor records a failed attempt against the challenge's
// budget. Exhausting the budget deletes the challenge so the ticket
// cannot be brute forced.
func (e *Engine) failSecondFactor(
	ctx context.Context,
	principalID, challengeID, factor, reason string,
) error {
	e.metricInc(MetricSecondFactorFailure)

	exceeded, err := e.challenges.RecordFailure(ctx, stores.KindSecondFactor, challengeID, e.config.MFA.MaxAttempts)
	if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) && !errors.Is(err, stores.ErrChallengeExpired) {
		return ErrBackendUnavailable
	}

	if exceeded {
		e.metricInc(MetricChallengeAttemptsExceeded)
		e.emitAudit(ctx, auditEventSecondFactorExceeded, false, principalID, "", MethodPassword, ErrChallengeAttemptsExceeded, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return ErrChallengeAttemptsExceeded
	}

	e.emitAudit(ctx, auditEventSecondFactorFailure, false, principalID, "", MethodPassword, ErrSecondFactorInvalid, func() map[string]string {
		m := map[string]string{
			"reason": reason,
		}
		if factor != "" {
			m["factor"] = factor
		}
		return m
	})
	return ErrSecondFactorInvalid
}

// secondFactorLookupError maps challenge store errors onto the public
// surface, flagging replayed tickets distinctly.
func (e *Engine) secondFactorLookupError(ctx context.Context, challengeID string, err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeConsumed):
		e.metricInc(MetricChallengeReplayAttempt)
		e.emitCriticalAudit(ctx, auditEventChallengeReplay, "", "", MethodPassword, ErrChallengeConsumed, func() map[string]string {
			return map[string]string{
				"challenge_id": challengeID,
			}
		})
		return ErrChallengeConsumed
	case errors.Is(err, stores.ErrChallengeExpired):
		e.metricInc(MetricSecondFactorFailure)
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeNotFound):
		e.metricInc(MetricSecondFactorFailure)
		return ErrChallengeNotFound
	default:
		return ErrBackendUnavailable
	}
}

// rememberDevice writes a trust record that skips the second factor for
// the configured duration.
func (e *Engine) rememberDevice(ctx context.Context, principalID, fingerprint, label string) error {
	now := time.Now()
	device := &stores.TrustedDevice{
		Fingerprint:      fingerprint,
		Label:            label,
		TrustedAt:        now.UnixMilli(),
		ExpiresAt:        now.Add(e.config.DeviceTrust.DefaultDuration).UnixMilli(),
		SkipSecondFactor: true,
	}
	if err := e.trust.Trust(ctx, principalID, device); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"fingerprint": fingerprint,
		}
	})
	return nil
}
