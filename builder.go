package authgate

import (
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/halcyonlabs/authgate/internal/limiters"
	"github.com/halcyonlabs/authgate/internal/rate"
	"github.com/halcyonlabs/authgate/internal/stores"
	"github.com/halcyonlabs/authgate/jwt"
	"github.com/halcyonlabs/authgate/password"
	"github.com/halcyonlabs/authgate/session"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by authgate APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals PrincipalStore
	notifier   Notifier
	claims     ClaimsProvider
	auditSink  AuditSink
	httpClient *http.Client

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalStore describes the withprincipalstore operation and its observable behavior.
//
// WithPrincipalStore may return an error when input validation, dependency calls, or security checks fail.
// WithPrincipalStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithPrincipalStore(ps PrincipalStore) *Builder {
	b.principals = ps
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
//
// WithNotifier may return an error when input validation, dependency calls, or security checks fail.
// WithNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithClaimsProvider describes the withclaimsprovider operation and its observable behavior.
//
// WithClaimsProvider may return an error when input validation, dependency calls, or security checks fail.
// WithClaimsProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithClaimsProvider(cp ClaimsProvider) *Builder {
	b.claims = cp
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithHTTPClient overrides the client used for OAuth code exchange and
// userinfo calls. Tests point this at a stub server.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if cfg.MagicLink.Enabled && b.notifier == nil {
		return nil, errors.New("magic link requires a notifier")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		principals: b.principals,
		notifier:   b.notifier,
		claims:     b.claims,
	}

	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.challenges = stores.NewChallengeStore(b.redis, "")
	engine.trust = stores.NewTrustStore(b.redis, cfg.DeviceTrust.RedisPrefix, cfg.DeviceTrust.MaxPerPrincipal)
	engine.lockout = limiters.NewLockoutGuard(b.redis, limiters.LockoutConfig{
		Enabled:       cfg.Lockout.Enabled,
		Threshold:     cfg.Lockout.Threshold,
		FailureWindow: cfg.Lockout.FailureWindow,
		LockDuration:  cfg.Lockout.LockDuration,
	})

	limits := map[rate.Class]rate.Limit{}
	if cfg.RateLimit.Enabled {
		limits[rate.ClassLogin] = classToLimit(cfg.RateLimit.Login)
		limits[rate.ClassMagicLink] = classToLimit(cfg.RateLimit.MagicLink)
		limits[rate.ClassSecondFactor] = classToLimit(cfg.RateLimit.SecondFactor)
		limits[rate.ClassRefresh] = classToLimit(cfg.RateLimit.Refresh)
	}
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Limits:         limits,
		ClearOnSuccess: cfg.RateLimit.ClearOnSuccess,
	})

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TOTP)

	engine.httpClient = b.httpClient
	if engine.httpClient == nil {
		engine.httpClient = &http.Client{}
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.WebAuthn.Enabled {
		wa, err := webauthn.New(&webauthn.Config{
			RPID:          cfg.WebAuthn.RPID,
			RPDisplayName: cfg.WebAuthn.RPDisplayName,
			RPOrigins:     cfg.WebAuthn.RPOrigins,
		})
		if err != nil {
			return nil, err
		}
		engine.webauthn = wa
	}

	b.built = true

	return engine, nil
}

func classToLimit(cl ClassLimit) rate.Limit {
	return rate.Limit{
		MaxAttempts: cl.MaxAttempts,
		Window:      cl.Window,
		Block:       cl.Block,
	}
}
