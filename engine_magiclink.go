package authgate

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/halcyonlabs/authgate/internal"
	"github.com/halcyonlabs/authgate/internal/rate"
	"github.com/halcyonlabs/authgate/internal/stores"
)

// RequestMagicLink issues a single-use login link for the identifier
// and hands it to the notifier. Unknown identifiers return success with
// no delivery, so the endpoint cannot be used to probe for accounts.
//
// RequestMagicLink may return an error when input validation, dependency calls, or security checks fail.
// RequestMagicLink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestMagicLink(ctx context.Context, identifier string) error {
	if e == nil || e.challenges == nil {
		return ErrEngineNotReady
	}
	if !e.config.MagicLink.Enabled {
		return ErrMagicLinkInvalid
	}
	if e.notifier == nil {
		return ErrEngineNotReady
	}

	rateID := strings.ToLower(strings.TrimSpace(identifier))

	decision, err := e.rateLimiter.Reserve(ctx, rate.ClassMagicLink, rateID)
	if err != nil {
		return ErrBackendUnavailable
	}
	if !decision.Allowed {
		e.metricInc(MetricMagicLinkRateLimited)
		e.emitRateLimit(ctx, "magic_link", func() map[string]string {
			return map[string]string{
				"identifier": rateID,
			}
		})
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	principal, err := e.principals.GetByIdentifier(ctx, identifier)
	if err != nil {
		// Same outward response as the known-identifier path.
		e.emitAudit(ctx, auditEventMagicLinkRequested, true, "", "", MethodMagicLink, nil, func() map[string]string {
			return map[string]string{
				"identifier": rateID,
				"delivered":  "false",
			}
		})
		return nil
	}
	if principal.Status != AccountActive {
		e.emitAudit(ctx, auditEventMagicLinkRequested, true, principal.ID, "", MethodMagicLink, nil, func() map[string]string {
			return map[string]string{
				"identifier": rateID,
				"delivered":  "false",
			}
		})
		return nil
	}

	cid, err := internal.NewSessionID()
	if err != nil {
		return err
	}
	secret, err := internal.NewLinkSecret()
	if err != nil {
		return err
	}

	challenge := &stores.Challenge{
		Kind:        stores.KindMagicLink,
		PrincipalID: principal.ID,
		ExpiresAt:   time.Now().Add(e.config.MagicLink.LinkTTL).Unix(),
		SecretHash:  internal.HashLinkSecret(secret),
	}
	if err := e.challenges.Save(ctx, cid.String(), challenge, e.config.MagicLink.LinkTTL); err != nil {
		return ErrBackendUnavailable
	}

	token, err := internal.EncodeLinkToken(cid.String(), secret)
	if err != nil {
		return err
	}

	link := token
	if e.config.MagicLink.BaseURL != "" {
		link = e.config.MagicLink.BaseURL + token
	}

	if err := e.notifyWithRetry(ctx, func(callCtx context.Context) error {
		return e.notifier.SendMagicLink(callCtx, identifier, link)
	}); err != nil {
		// Delivery failed; the link is useless, so drop it.
		if _, delErr := e.challenges.Delete(ctx, stores.KindMagicLink, cid.String()); delErr != nil {
			log.Print("authgate: undeliverable magic link cleanup failed")
		}
		e.metricInc(MetricNotifyFailure)
		e.metricInc(MetricUpstreamTimeout)
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, principal.ID, "", MethodMagicLink, ErrUpstreamTimeout, func() map[string]string {
			return map[string]string{
				"reason": "notify_failed",
			}
		})
		return ErrUpstreamTimeout
	}

	e.metricInc(MetricMagicLinkRequested)
	e.emitAudit(ctx, auditEventMagicLinkRequested, true, principal.ID, "", MethodMagicLink, nil, func() map[string]string {
		return map[string]string{
			"identifier": rateID,
			"delivered":  "true",
		}
	})
	return nil
}

// ConsumeMagicLink exchanges a delivered link token for a session.
// Exactly one presentation succeeds; a second presentation reports the
// link as consumed while the marker lives.
//
// ConsumeMagicLink may return an error when input validation, dependency calls, or security checks fail.
// ConsumeMagicLink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConsumeMagicLink(ctx context.Context, token string, device DeviceSignal) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.MagicLink.Enabled {
		return nil, ErrMagicLinkInvalid
	}

	challengeID, secret, err := internal.DecodeLinkToken(token)
	if err != nil {
		e.metricInc(MetricMagicLinkFailure)
		return nil, ErrMagicLinkInvalid
	}

	// Check the secret against a read first. A forged token carrying a
	// real challenge ID must not destroy the pending link.
	challenge, err := e.challenges.Get(ctx, stores.KindMagicLink, challengeID)
	if err != nil {
		return nil, e.magicLinkLookupError(ctx, challengeID, err)
	}
	if challenge.SecretHash != internal.HashLinkSecret(secret) {
		e.metricInc(MetricMagicLinkFailure)
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, challenge.PrincipalID, "", MethodMagicLink, ErrMagicLinkInvalid, func() map[string]string {
			return map[string]string{
				"reason": "secret_mismatch",
			}
		})
		return nil, ErrMagicLinkInvalid
	}

	if _, err := e.challenges.Consume(ctx, stores.KindMagicLink, challengeID); err != nil {
		return nil, e.magicLinkLookupError(ctx, challengeID, err)
	}

	principal, err := e.principals.GetByID(ctx, challenge.PrincipalID)
	if err != nil {
		e.metricInc(MetricMagicLinkFailure)
		return nil, ErrMagicLinkInvalid
	}
	if principal.Status != AccountActive {
		e.metricInc(MetricMagicLinkFailure)
		return nil, ErrAccountDisabled
	}

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)

	pair, err := e.issueSession(ctx, principal.ID, MethodMagicLink, "", fingerprint)
	if err != nil {
		e.metricInc(MetricMagicLinkFailure)
		return nil, err
	}

	e.metricInc(MetricMagicLinkConsumed)
	e.emitAudit(ctx, auditEventMagicLinkConsumed, true, principal.ID, pair.SessionID, MethodMagicLink, nil, nil)

	return &LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    pair.SessionID,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// magicLinkLookupError maps challenge store errors onto the public
// surface, flagging replayed links distinctly.
func (e *Engine) magicLinkLookupError(ctx context.Context, challengeID string, err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeConsumed):
		e.metricInc(MetricChallengeReplayAttempt)
		e.emitCriticalAudit(ctx, auditEventChallengeReplay, "", "", MethodMagicLink, ErrChallengeConsumed, func() map[string]string {
			return map[string]string{
				"challenge_id": challengeID,
			}
		})
		return ErrChallengeConsumed
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
		e.metricInc(MetricMagicLinkFailure)
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, "", "", MethodMagicLink, ErrMagicLinkInvalid, nil)
		return ErrMagicLinkInvalid
	default:
		return ErrBackendUnavailable
	}
}

// notifyWithRetry runs a notifier call with the configured timeout and
// a single backoff retry.
func (e *Engine) notifyWithRetry(ctx context.Context, call func(context.Context) error) error {
	timeout := e.config.Notify.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return call(callCtx)
	}

	err := attempt()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	if e.config.Notify.RetryBackoff > 0 {
		select {
		case <-time.After(e.config.Notify.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return attempt()
}
