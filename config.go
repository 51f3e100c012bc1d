package authgate

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by authgate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT         JWTConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Lockout     LockoutConfig
	Password    PasswordConfig
	TOTP        TOTPConfig
	MFA         MFAConfig
	MagicLink   MagicLinkConfig
	OAuth       OAuthConfig
	WebAuthn    WebAuthnConfig
	DeviceTrust DeviceTrustConfig
	Notify      NotifyConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Security    SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by authgate APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by authgate APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime caps the whole session; refresh rotation never extends a
	// session past CreatedAt+Lifetime.
	Lifetime time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// ClassLimit tunes one guarded endpoint class.
type ClassLimit struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// RateLimitConfig defines a public type used by authgate APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	Enabled        bool
	Login          ClassLimit
	MagicLink      ClassLimit
	SecondFactor   ClassLimit
	Refresh        ClassLimit
	ClearOnSuccess bool
}

// LockoutConfig defines a public type used by authgate APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	Enabled       bool
	Threshold     int
	FailureWindow time.Duration
	LockDuration  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by authgate APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TOTPConfig defines a public type used by authgate APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Enabled                 bool
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	BackupCodeCount         int
	BackupCodeLength        int
}

// MFAConfig defines a public type used by authgate APIs.
//
// MFAConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MFAConfig struct {
	// RequireForPassword forces a second factor after password logins for
	// enrolled principals. Trusted devices with the skip flag bypass it.
	RequireForPassword bool
	// SkipForWebAuthn treats a passkey assertion as already multi-factor.
	SkipForWebAuthn bool
	TicketTTL       time.Duration
	MaxAttempts     int
}

// MagicLinkConfig defines a public type used by authgate APIs.
//
// MagicLinkConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MagicLinkConfig struct {
	Enabled     bool
	LinkTTL     time.Duration
	MaxAttempts int
	// BaseURL is prepended to the token when composing the notification
	// message. Delivery itself is the Notifier's job.
	BaseURL string
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthProviderConfig describes one upstream identity provider.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	RedirectURI  string
	Scopes       []string
	// AllowSignup provisions a principal on first login instead of
	// rejecting unknown subjects.
	AllowSignup bool
}

// OAuthConfig defines a public type used by authgate APIs.
//
// OAuthConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OAuthConfig struct {
	Enabled         bool
	StateTTL        time.Duration
	ExchangeTimeout time.Duration
	Providers       map[string]OAuthProviderConfig
}

// WebAuthnConfig defines a public type used by authgate APIs.
//
// WebAuthnConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WebAuthnConfig struct {
	Enabled       bool
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	CeremonyTTL   time.Duration
}

// DeviceTrustConfig defines a public type used by authgate APIs.
//
// DeviceTrustConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DeviceTrustConfig struct {
	Enabled         bool
	MaxPerPrincipal int
	DefaultDuration time.Duration
	RedisPrefix     string
}

// NotifyConfig defines a public type used by authgate APIs.
//
// NotifyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NotifyConfig struct {
	Timeout time.Duration
	// One retry after RetryBackoff before the call is reported as an
	// upstream timeout.
	RetryBackoff time.Duration
}

// AuditConfig defines a public type used by authgate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authgate APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by authgate APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	ProductionMode       bool
	EnableIPBinding      bool
	EnableUABinding      bool
	EnableReplayTracking bool
	// ForceSecondFactorOnHighRisk suppresses the trusted-device skip for
	// logins whose DeviceSignal carries [RiskHigh]. Logins without an
	// assessment are unaffected.
	ForceSecondFactorOnHighRisk bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration the builder starts from.
// Callers that only need a few overrides take this, mutate, and pass
// the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "asg",
			Lifetime:    7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Login:          ClassLimit{MaxAttempts: 5, Window: time.Minute, Block: 5 * time.Minute},
			MagicLink:      ClassLimit{MaxAttempts: 3, Window: 5 * time.Minute, Block: 15 * time.Minute},
			SecondFactor:   ClassLimit{MaxAttempts: 3, Window: time.Minute, Block: 10 * time.Minute},
			Refresh:        ClassLimit{MaxAttempts: 20, Window: time.Minute, Block: time.Minute},
			ClearOnSuccess: true,
		},
		Lockout: LockoutConfig{
			Enabled:       true,
			Threshold:     5,
			FailureWindow: time.Hour,
			LockDuration:  30 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Enabled:                 false,
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			BackupCodeCount:         10,
			BackupCodeLength:        8,
		},
		MFA: MFAConfig{
			RequireForPassword: true,
			SkipForWebAuthn:    true,
			TicketTTL:          5 * time.Minute,
			MaxAttempts:        3,
		},
		MagicLink: MagicLinkConfig{
			Enabled:     false,
			LinkTTL:     15 * time.Minute,
			MaxAttempts: 3,
		},
		OAuth: OAuthConfig{
			Enabled:         false,
			StateTTL:        10 * time.Minute,
			ExchangeTimeout: 10 * time.Second,
		},
		WebAuthn: WebAuthnConfig{
			Enabled:     false,
			CeremonyTTL: 5 * time.Minute,
		},
		DeviceTrust: DeviceTrustConfig{
			Enabled:         true,
			MaxPerPrincipal: 5,
			DefaultDuration: 30 * 24 * time.Hour,
			RedisPrefix:     "adt",
		},
		Notify: NotifyConfig{
			Timeout:      5 * time.Second,
			RetryBackoff: 500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:              false,
			EnableIPBinding:             false,
			EnableUABinding:             true,
			EnableReplayTracking:        true,
			ForceSecondFactorOnHighRisk: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if len(cfg.JWT.VerifyKeys) > 0 {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if len(cfg.OAuth.Providers) > 0 {
		out.OAuth.Providers = make(map[string]OAuthProviderConfig, len(cfg.OAuth.Providers))
		for name, provider := range cfg.OAuth.Providers {
			provider.Scopes = append([]string(nil), provider.Scopes...)
			out.OAuth.Providers[name] = provider
		}
	}
	out.WebAuthn.RPOrigins = append([]string(nil), cfg.WebAuthn.RPOrigins...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}

	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}

	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.JWT.RefreshTTL > c.Session.Lifetime {
		return errors.New("JWT RefreshTTL must not exceed Session Lifetime")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		for _, entry := range []struct {
			name  string
			limit ClassLimit
		}{
			{"Login", c.RateLimit.Login},
			{"MagicLink", c.RateLimit.MagicLink},
			{"SecondFactor", c.RateLimit.SecondFactor},
			{"Refresh", c.RateLimit.Refresh},
		} {
			if entry.limit.MaxAttempts <= 0 {
				return errors.New("RateLimit " + entry.name + " MaxAttempts must be > 0")
			}
			if entry.limit.Window <= 0 {
				return errors.New("RateLimit " + entry.name + " Window must be > 0")
			}
			if entry.limit.Block <= 0 {
				return errors.New("RateLimit " + entry.name + " Block must be > 0")
			}
		}
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.FailureWindow <= 0 {
			return errors.New("Lockout FailureWindow must be > 0")
		}
		if c.Lockout.LockDuration < 0 {
			return errors.New("Lockout LockDuration must be >= 0")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// TOTP
	if c.TOTP.Enabled {
		if c.TOTP.Issuer == "" {
			return errors.New("TOTP Issuer is required when TOTP is enabled")
		}
		if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
			return errors.New("TOTP Digits must be 6 or 8")
		}
		if c.TOTP.Period < 15 {
			return errors.New("TOTP Period must be >= 15 seconds")
		}
		if c.TOTP.Skew < 0 {
			return errors.New("TOTP Skew must be >= 0")
		}
		if c.TOTP.BackupCodeCount <= 0 {
			return errors.New("TOTP BackupCodeCount must be > 0")
		}
		if c.TOTP.BackupCodeLength <= 0 {
			return errors.New("TOTP BackupCodeLength must be > 0")
		}
		switch strings.ToUpper(c.TOTP.Algorithm) {
		case "", "SHA1", "SHA256", "SHA512":
			// valid (empty treated as SHA1)
		default:
			return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
		}
	}

	// MFA
	if c.MFA.TicketTTL <= 0 {
		return errors.New("MFA TicketTTL must be > 0")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA MaxAttempts must be > 0")
	}

	// Magic link
	if c.MagicLink.Enabled {
		if c.MagicLink.LinkTTL <= 0 {
			return errors.New("MagicLink LinkTTL must be > 0")
		}
		if c.MagicLink.MaxAttempts <= 0 {
			return errors.New("MagicLink MaxAttempts must be > 0")
		}
	}

	// OAuth
	if c.OAuth.Enabled {
		if len(c.OAuth.Providers) == 0 {
			return errors.New("OAuth requires at least one provider")
		}
		if c.OAuth.StateTTL <= 0 {
			return errors.New("OAuth StateTTL must be > 0")
		}
		if c.OAuth.ExchangeTimeout <= 0 {
			return errors.New("OAuth ExchangeTimeout must be > 0")
		}
		for name, provider := range c.OAuth.Providers {
			if name == "" {
				return errors.New("OAuth provider name must not be empty")
			}
			if provider.ClientID == "" || provider.ClientSecret == "" {
				return errors.New("OAuth provider " + name + " requires ClientID and ClientSecret")
			}
			if provider.TokenURL == "" {
				return errors.New("OAuth provider " + name + " requires TokenURL")
			}
			if provider.UserInfoURL == "" {
				return errors.New("OAuth provider " + name + " requires UserInfoURL")
			}
		}
	}

	// WebAuthn
	if c.WebAuthn.Enabled {
		if c.WebAuthn.RPID == "" {
			return errors.New("WebAuthn RPID is required when WebAuthn is enabled")
		}
		if len(c.WebAuthn.RPOrigins) == 0 {
			return errors.New("WebAuthn RPOrigins is required when WebAuthn is enabled")
		}
		if c.WebAuthn.CeremonyTTL <= 0 {
			return errors.New("WebAuthn CeremonyTTL must be > 0")
		}
	}

	// Device trust
	if c.DeviceTrust.Enabled {
		if c.DeviceTrust.MaxPerPrincipal <= 0 {
			return errors.New("DeviceTrust MaxPerPrincipal must be > 0")
		}
		if c.DeviceTrust.DefaultDuration <= 0 {
			return errors.New("DeviceTrust DefaultDuration must be > 0")
		}
	}

	// Notify
	if c.Notify.Timeout <= 0 {
		return errors.New("Notify Timeout must be > 0")
	}
	if c.Notify.RetryBackoff < 0 {
		return errors.New("Notify RetryBackoff must be >= 0")
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if !c.RateLimit.Enabled {
			return errors.New("ProductionMode requires RateLimit Enabled")
		}
		if !c.Lockout.Enabled {
			return errors.New("ProductionMode requires Lockout Enabled")
		}
		if c.TOTP.Enabled {
			if c.TOTP.Period > 60 {
				return errors.New("ProductionMode requires TOTP Period <= 60")
			}
			if c.TOTP.Skew > 2 {
				return errors.New("ProductionMode requires TOTP Skew <= 2")
			}
			if !c.TOTP.EnforceReplayProtection {
				return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
			}
			if c.TOTP.BackupCodeCount < 8 {
				return errors.New("ProductionMode requires TOTP BackupCodeCount >= 8")
			}
			if c.TOTP.BackupCodeLength < 8 {
				return errors.New("ProductionMode requires TOTP BackupCodeLength >= 8")
			}
		}
	}

	return nil
}
