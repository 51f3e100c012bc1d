package authgate

import "time"

// SecurityReport summarizes the engine's active protections for
// operator dashboards and startup logging.
type SecurityReport struct {
	ProductionMode         bool
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Argon2                 PasswordConfigReport
	TOTPEnabled            bool
	BackupCodesEnabled     bool
	MagicLinkEnabled       bool
	OAuthProviders         int
	WebAuthnEnabled        bool
	DeviceTrustEnabled     bool
	IPBindingEnabled       bool
	UserAgentBinding       bool
	ReplayTrackingEnabled  bool
	LockoutEnabled         bool
	RateLimitingActive     bool
	SecondFactorOnPassword bool
}

// PasswordConfigReport echoes the active Argon2id cost parameters.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		TOTPEnabled:            e.config.TOTP.Enabled,
		BackupCodesEnabled:     e.config.TOTP.Enabled && e.config.TOTP.BackupCodeCount > 0,
		MagicLinkEnabled:       e.config.MagicLink.Enabled,
		OAuthProviders:         len(e.config.OAuth.Providers),
		WebAuthnEnabled:        e.config.WebAuthn.Enabled,
		DeviceTrustEnabled:     e.config.DeviceTrust.Enabled,
		IPBindingEnabled:       e.config.Security.EnableIPBinding,
		UserAgentBinding:       e.config.Security.EnableUABinding,
		ReplayTrackingEnabled:  e.config.Security.EnableReplayTracking,
		LockoutEnabled:         e.config.Lockout.Enabled,
		RateLimitingActive:     e.config.RateLimit.Enabled,
		SecondFactorOnPassword: e.config.MFA.RequireForPassword,
	}
}
