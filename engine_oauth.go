package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/halcyonlabs/authgate/internal"
	"github.com/halcyonlabs/authgate/internal/stores"
)

const oauthResponseLimit = 1 << 20

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

type oauthUserInfo struct {
	Subject string `json:"sub"`
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// BeginOAuthLogin starts the authorization-code flow against a
// configured provider. The returned state is single use and bound to
// the provider it was minted for.
//
// BeginOAuthLogin may return an error when input validation, dependency calls, or security checks fail.
// BeginOAuthLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginOAuthLogin(ctx context.Context, provider string) (*OAuthBegin, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.OAuth.Enabled {
		return nil, ErrOAuthProviderUnknown
	}

	pcfg, ok := e.config.OAuth.Providers[provider]
	if !ok {
		return nil, ErrOAuthProviderUnknown
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
		Kind:       stores.KindOAuthState,
		ExpiresAt:  time.Now().Add(e.config.OAuth.StateTTL).Unix(),
		SecretHash: internal.HashLinkSecret(secret),
		Meta:       []byte(provider),
	}
	if err := e.challenges.Save(ctx, cid.String(), challenge, e.config.OAuth.StateTTL); err != nil {
		return nil, ErrBackendUnavailable
	}

	state, err := internal.EncodeLinkToken(cid.String(), secret)
	if err != nil {
		return nil, err
	}

	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", pcfg.ClientID)
	v.Set("redirect_uri", pcfg.RedirectURI)
	v.Set("state", state)
	if len(pcfg.Scopes) > 0 {
		v.Set("scope", strings.Join(pcfg.Scopes, " "))
	}

	sep := "?"
	if strings.Contains(pcfg.AuthorizeURL, "?") {
		sep = "&"
	}

	e.metricInc(MetricOAuthBegin)
	e.emitAudit(ctx, auditEventOAuthBegin, true, "", "", MethodOAuth, nil, func() map[string]string {
		return map[string]string{
			"provider": provider,
		}
	})

	return &OAuthBegin{
		AuthorizeURL: pcfg.AuthorizeURL + sep + v.Encode(),
		State:        state,
	}, nil
}

// CompleteOAuthLogin validates the returned state, exchanges the code
// upstream and maps the provider subject onto a principal. Unknown
// subjects are provisioned when the provider allows signup.
//
// CompleteOAuthLogin may return an error when input validation, dependency calls, or security checks fail.
// CompleteOAuthLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CompleteOAuthLogin(
	ctx context.Context,
	provider, state, code string,
	device DeviceSignal,
) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.OAuth.Enabled {
		return nil, ErrOAuthProviderUnknown
	}

	pcfg, ok := e.config.OAuth.Providers[provider]
	if !ok {
		return nil, ErrOAuthProviderUnknown
	}

	challengeID, secret, err := internal.DecodeLinkToken(state)
	if err != nil {
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthStateInvalid, "state_decode_failed")
	}

	challenge, err := e.challenges.Consume(ctx, stores.KindOAuthState, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeConsumed) {
			e.metricInc(MetricChallengeReplayAttempt)
			e.emitCriticalAudit(ctx, auditEventChallengeReplay, "", "", MethodOAuth, ErrOAuthStateInvalid, func() map[string]string {
				return map[string]string{
					"challenge_id": challengeID,
					"provider":     provider,
				}
			})
		}
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthStateInvalid, "state_lookup_failed")
	}
	if challenge.SecretHash != internal.HashLinkSecret(secret) {
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthStateInvalid, "state_secret_mismatch")
	}
	if string(challenge.Meta) != provider {
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthStateInvalid, "state_provider_mismatch")
	}

	upstreamToken, err := e.exchangeOAuthCode(ctx, pcfg, code)
	if err != nil {
		if errors.Is(err, ErrUpstreamTimeout) {
			e.metricInc(MetricUpstreamTimeout)
			return nil, e.failOAuth(ctx, provider, "", ErrUpstreamTimeout, "exchange_timeout")
		}
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthExchangeFailed, "exchange_failed")
	}

	info, err := e.fetchOAuthUserInfo(ctx, pcfg, upstreamToken)
	if err != nil {
		if errors.Is(err, ErrUpstreamTimeout) {
			e.metricInc(MetricUpstreamTimeout)
			return nil, e.failOAuth(ctx, provider, "", ErrUpstreamTimeout, "userinfo_timeout")
		}
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthExchangeFailed, "userinfo_failed")
	}

	subject := info.Subject
	if subject == "" {
		subject = info.ID
	}
	if subject == "" {
		return nil, e.failOAuth(ctx, provider, "", ErrOAuthExchangeFailed, "missing_subject")
	}

	principal, err := e.principals.GetByOAuthSubject(ctx, provider, subject)
	if err != nil {
		if !errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrBackendUnavailable
		}
		if !pcfg.AllowSignup {
			return nil, e.failOAuth(ctx, provider, "", ErrOAuthSignupDisabled, "signup_disabled")
		}
		principal, err = e.principals.CreateFromOAuth(ctx, CreateFromOAuthInput{
			Provider:   provider,
			Subject:    subject,
			Identifier: info.Email,
			Name:       info.Name,
		})
		if err != nil {
			return nil, ErrBackendUnavailable
		}
		e.metricInc(MetricOAuthProvisioned)
		e.emitAudit(ctx, auditEventOAuthProvisioned, true, principal.ID, "", MethodOAuth, nil, func() map[string]string {
			return map[string]string{
				"provider": provider,
			}
		})
	}
	if principal.Status != AccountActive {
		return nil, e.failOAuth(ctx, provider, principal.ID, ErrAccountDisabled, "account_disabled")
	}

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)

	pair, err := e.issueSession(ctx, principal.ID, MethodOAuth+":"+provider, "", fingerprint)
	if err != nil {
		e.metricInc(MetricOAuthFailure)
		return nil, err
	}

	e.metricInc(MetricOAuthSuccess)
	e.emitAudit(ctx, auditEventOAuthSuccess, true, principal.ID, pair.SessionID, MethodOAuth, nil, func() map[string]string {
		return map[string]string{
			"provider": provider,
		}
	})

	return &LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    pair.SessionID,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

func (e *Engine) failOAuth(ctx context.Context, provider, principalID string, cause error, reason string) error {
	e.metricInc(MetricOAuthFailure)
	e.emitAudit(ctx, auditEventOAuthFailure, false, principalID, "", MethodOAuth, cause, func() map[string]string {
		return map[string]string{
			"provider": provider,
			"reason":   reason,
		}
	})
	return cause
}

// exchangeOAuthCode swaps the authorization code for an upstream access
// token. One retry after a timeout, then the failure is surfaced.
func (e *Engine) exchangeOAuthCode(ctx context.Context, pcfg OAuthProviderConfig, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", pcfg.RedirectURI)
	form.Set("client_id", pcfg.ClientID)
	form.Set("client_secret", pcfg.ClientSecret)

	body, err := e.oauthPostWithRetry(ctx, pcfg.TokenURL, form)
	if err != nil {
		return "", err
	}

	var token oauthTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOAuthExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return "", ErrOAuthExchangeFailed
	}
	return token.AccessToken, nil
}

func (e *Engine) fetchOAuthUserInfo(ctx context.Context, pcfg OAuthProviderConfig, accessToken string) (*oauthUserInfo, error) {
	attempt := func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.exchangeTimeout())
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, pcfg.UserInfoURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		return e.doOAuthRequest(req)
	}

	body, err := attempt()
	if err != nil {
		if !isTimeout(err) || ctx.Err() != nil {
			return nil, err
		}
		body, err = attempt()
		if err != nil {
			if isTimeout(err) {
				return nil, ErrUpstreamTimeout
			}
			return nil, err
		}
	}

	var info oauthUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOAuthExchangeFailed, err)
	}
	return &info, nil
}

func (e *Engine) oauthPostWithRetry(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	attempt := func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.exchangeTimeout())
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		return e.doOAuthRequest(req)
	}

	body, err := attempt()
	if err == nil {
		return body, nil
	}
	if !isTimeout(err) || ctx.Err() != nil {
		return nil, err
	}

	body, err = attempt()
	if err != nil {
		if isTimeout(err) {
			return nil, ErrUpstreamTimeout
		}
		return nil, err
	}
	return body, nil
}

func (e *Engine) doOAuthRequest(req *http.Request) ([]byte, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, oauthResponseLimit))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: upstream status %d", ErrOAuthExchangeFailed, resp.StatusCode)
	}
	return body, nil
}

func (e *Engine) exchangeTimeout() time.Duration {
	if e.config.OAuth.ExchangeTimeout > 0 {
		return e.config.OAuth.ExchangeTimeout
	}
	return 10 * time.Second
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
