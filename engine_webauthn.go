package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/halcyonlabs/authgate/internal"
	"github.com/halcyonlabs/authgate/internal/stores"
)

// webauthnUser adapts a principal and its enrolled credentials to the
// relying-party library's user model.
type webauthnUser struct {
	principal   *PrincipalRecord
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.principal.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.principal.Identifier
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.principal.Identifier
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (e *Engine) webauthnUserFor(ctx context.Context, principal *PrincipalRecord) (*webauthnUser, error) {
	records, err := e.principals.GetWebAuthnCredentials(ctx, principal.ID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	creds := make([]webauthn.Credential, 0, len(records))
	for _, r := range records {
		if r.Disabled {
			continue
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(r.Transports))
		for _, t := range r.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		creds = append(creds, webauthn.Credential{
			ID:        r.CredentialID,
			PublicKey: r.PublicKey,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				AAGUID:    r.AAGUID,
				SignCount: r.SignCount,
			},
		})
	}
	if len(creds) == 0 {
		return nil, ErrWebAuthnNoCredentials
	}

	return &webauthnUser{principal: principal, credentials: creds}, nil
}

// BeginWebAuthnLogin starts an assertion ceremony for the identifier.
// The returned options blob goes to the browser; the ticket references
// the stored ceremony state and is single use.
//
// BeginWebAuthnLogin may return an error when input validation, dependency calls, or security checks fail.
// BeginWebAuthnLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginWebAuthnLogin(ctx context.Context, identifier string) (*WebAuthnBegin, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.WebAuthn.Enabled || e.webauthn == nil {
		return nil, ErrWebAuthnFeatureDisabled
	}

	principal, err := e.principals.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, ErrWebAuthnNoCredentials
	}
	if principal.Status != AccountActive {
		return nil, ErrAccountDisabled
	}

	user, err := e.webauthnUserFor(ctx, principal)
	if err != nil {
		return nil, err
	}

	assertion, sessionData, err := e.webauthn.BeginLogin(user)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		return nil, ErrWebAuthnInvalid
	}

	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(sessionData)
	if err != nil {
		return nil, err
	}

	cid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewLinkSecret()
	if err != nil {
		return nil, err
	}

	challenge := &stores.Challenge{
		Kind:        stores.KindWebAuthn,
		PrincipalID: principal.ID,
		ExpiresAt:   time.Now().Add(e.config.WebAuthn.CeremonyTTL).Unix(),
		SecretHash:  internal.HashLinkSecret(secret),
		Meta:        meta,
	}
	if err := e.challenges.Save(ctx, cid.String(), challenge, e.config.WebAuthn.CeremonyTTL); err != nil {
		return nil, ErrBackendUnavailable
	}

	ticket, err := internal.EncodeLinkToken(cid.String(), secret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricWebAuthnBegin)
	e.emitAudit(ctx, auditEventWebAuthnBegin, true, principal.ID, "", MethodWebAuthn, nil, nil)

	return &WebAuthnBegin{
		Options: options,
		Ticket:  ticket,
	}, nil
}

// FinishWebAuthnLogin validates the browser's assertion response
// against the stored ceremony. A signature counter that fails to
// advance is treated as a cloned authenticator: the credential is
// disabled and the ceremony fails.
//
// FinishWebAuthnLogin may return an error when input validation, dependency calls, or security checks fail.
// FinishWebAuthnLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) FinishWebAuthnLogin(
	ctx context.Context,
	ticket string,
	response []byte,
	device DeviceSignal,
) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.WebAuthn.Enabled || e.webauthn == nil {
		return nil, ErrWebAuthnFeatureDisabled
	}

	challengeID, secret, err := internal.DecodeLinkToken(ticket)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		return nil, ErrWebAuthnInvalid
	}

	challenge, err := e.challenges.Consume(ctx, stores.KindWebAuthn, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeConsumed) {
			e.metricInc(MetricChallengeReplayAttempt)
			e.emitCriticalAudit(ctx, auditEventChallengeReplay, "", "", MethodWebAuthn, ErrWebAuthnInvalid, func() map[string]string {
				return map[string]string{
					"challenge_id": challengeID,
				}
			})
		}
		e.metricInc(MetricWebAuthnFailure)
		return nil, ErrWebAuthnInvalid
	}
	if challenge.SecretHash != internal.HashLinkSecret(secret) {
		e.metricInc(MetricWebAuthnFailure)
		return nil, ErrWebAuthnInvalid
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal(challenge.Meta, &sessionData); err != nil {
		e.metricInc(MetricWebAuthnFailure)
		return nil, ErrWebAuthnInvalid
	}

	principal, err := e.principals.GetByID(ctx, challenge.PrincipalID)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		return nil, ErrWebAuthnInvalid
	}
	if principal.Status != AccountActive {
		return nil, ErrAccountDisabled
	}

	user, err := e.webauthnUserFor(ctx, principal)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		e.emitAudit(ctx, auditEventWebAuthnFailure, false, principal.ID, "", MethodWebAuthn, ErrWebAuthnInvalid, func() map[string]string {
			return map[string]string{
				"reason": "response_parse_failed",
			}
		})
		return nil, ErrWebAuthnInvalid
	}

	credential, err := e.webauthn.ValidateLogin(user, sessionData, parsed)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		e.emitAudit(ctx, auditEventWebAuthnFailure, false, principal.ID, "", MethodWebAuthn, ErrWebAuthnInvalid, func() map[string]string {
			return map[string]string{
				"reason": "assertion_invalid",
			}
		})
		return nil, ErrWebAuthnInvalid
	}

	if credential.Authenticator.CloneWarning {
		e.metricInc(MetricWebAuthnCounterRegression)
		if err := e.principals.DisableWebAuthnCredential(ctx, principal.ID, credential.ID); err != nil {
			log.Print("authgate: cloned credential disable failed")
		}
		e.emitCriticalAudit(ctx, auditEventWebAuthnCounterRegression, principal.ID, "", MethodWebAuthn, ErrWebAuthnCounterRegression, nil)
		return nil, ErrWebAuthnCounterRegression
	}

	if err := e.principals.UpdateWebAuthnCounter(ctx, principal.ID, credential.ID, credential.Authenticator.SignCount); err != nil {
		log.Print("authgate: webauthn counter update failed")
	}

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)

	secondFactor := ""
	if e.config.MFA.SkipForWebAuthn {
		secondFactor = MethodWebAuthn
	}

	pair, err := e.issueSession(ctx, principal.ID, MethodWebAuthn, secondFactor, fingerprint)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		return nil, err
	}

	e.metricInc(MetricWebAuthnSuccess)
	e.emitAudit(ctx, auditEventWebAuthnSuccess, true, principal.ID, pair.SessionID, MethodWebAuthn, nil, nil)

	return &LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    pair.SessionID,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}
