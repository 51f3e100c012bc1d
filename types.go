package authgate

import (
	"context"
	"time"
)

// PrincipalRecord defines a public type used by authgate APIs.
//
// PrincipalRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PrincipalRecord struct {
	ID           string
	Identifier   string
	PasswordHash string
	Status       AccountStatus
	TOTPEnabled  bool
	CreatedAt    time.Time
}

// AccountStatus defines a public type used by authgate APIs.
//
// AccountStatus instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountStatus string

const (
	// AccountActive is an exported constant or variable used by the authentication engine.
	AccountActive AccountStatus = "active"
	// AccountDisabled is an exported constant or variable used by the authentication engine.
	AccountDisabled AccountStatus = "disabled"
)

// TOTPRecord defines a public type used by authgate APIs.
//
// TOTPRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPRecord struct {
	PrincipalID     string
	Secret          []byte
	Confirmed       bool
	LastUsedCounter int64
	CreatedAt       time.Time
}

// BackupCodeRecord holds the SHA-256 digest of a single-use recovery
// code. The clear text is shown to the caller once at generation time
// and never stored.
type BackupCodeRecord struct {
	PrincipalID string
	CodeHash    [32]byte
	Used        bool
	CreatedAt   time.Time
}

// WebAuthnCredentialRecord defines a public type used by authgate APIs.
//
// WebAuthnCredentialRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WebAuthnCredentialRecord struct {
	PrincipalID  string
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	AAGUID       []byte
	Disabled     bool
	CreatedAt    time.Time
}

// PrincipalStore is the persistence boundary the host application
// implements. The engine never owns principal data; it only reads
// identity and credential material through this interface and writes
// back the few fields it is authoritative for (TOTP state, backup
// codes, WebAuthn counters).
//
// Implementations must be safe for concurrent use. Lookup methods
// return [ErrPrincipalNotFound] when no record matches.
type PrincipalStore interface {
	GetByIdentifier(ctx context.Context, identifier string) (*PrincipalRecord, error)
	GetByID(ctx context.Context, principalID string) (*PrincipalRecord, error)

	GetByOAuthSubject(ctx context.Context, provider, subject string) (*PrincipalRecord, error)
	CreateFromOAuth(ctx context.Context, input CreateFromOAuthInput) (*PrincipalRecord, error)

	UpdatePasswordHash(ctx context.Context, principalID, newHash string) error

	GetTOTP(ctx context.Context, principalID string) (*TOTPRecord, error)
	SaveTOTP(ctx context.Context, record *TOTPRecord) error
	DeleteTOTP(ctx context.Context, principalID string) error
	UpdateTOTPLastUsedCounter(ctx context.Context, principalID string, counter int64) error

	ReplaceBackupCodes(ctx context.Context, principalID string, records []BackupCodeRecord) error
	// ConsumeBackupCode marks the matching unused code as used and
	// reports whether a match existed. The check and the mark must be
	// atomic in the implementation.
	ConsumeBackupCode(ctx context.Context, principalID string, codeHash [32]byte) (bool, error)

	GetWebAuthnCredentials(ctx context.Context, principalID string) ([]WebAuthnCredentialRecord, error)
	UpdateWebAuthnCounter(ctx context.Context, principalID string, credentialID []byte, signCount uint32) error
	DisableWebAuthnCredential(ctx context.Context, principalID string, credentialID []byte) error
}

// CreateFromOAuthInput defines a public type used by authgate APIs.
//
// CreateFromOAuthInput instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CreateFromOAuthInput struct {
	Provider   string
	Subject    string
	Identifier string
	Name       string
}

// Notifier delivers out-of-band messages such as magic-link URLs and
// security alerts. Implementations should honor ctx cancellation;
// the engine applies its own timeout per attempt.
type Notifier interface {
	SendMagicLink(ctx context.Context, identifier, link string) error
	SendSecurityAlert(ctx context.Context, principalID, alert string) error
}

// ClaimsProvider lets the host add custom claims (scopes, roles) to
// access tokens at issuance time. Returning nil scopes is valid.
type ClaimsProvider interface {
	ScopesFor(ctx context.Context, principalID string) ([]string, error)
}

// RiskAssessment is a caller-supplied verdict from host-side device
// checks (tamper detection, attestation, emulator heuristics). The
// engine never computes risk itself; it consumes the verdict only as a
// policy input to the second-factor decision.
type RiskAssessment string

const (
	// RiskUnknown means the caller supplied no assessment.
	RiskUnknown RiskAssessment = ""
	// RiskLow is an exported constant or variable used by the authentication engine.
	RiskLow RiskAssessment = "low"
	// RiskHigh is an exported constant or variable used by the authentication engine.
	RiskHigh RiskAssessment = "high"
)

// DeviceSignal carries the client-device attributes used for
// fingerprinting and trust decisions. All fields are optional; an
// empty signal yields an empty fingerprint and no trust handling.
type DeviceSignal struct {
	Platform   string
	OSVersion  string
	Model      string
	Locale     string
	Timezone   string
	AppVersion string
	Label      string
	// Risk is excluded from the fingerprint; it only influences the
	// second-factor decision for this call.
	Risk RiskAssessment
}

// LoginResult defines a public type used by authgate APIs.
//
// LoginResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LoginResult struct {
	// SecondFactorRequired reports that credentials were accepted but a
	// second factor must be presented before tokens are issued. When
	// set, Ticket carries the opaque challenge reference and Methods
	// the factor types the principal can use.
	SecondFactorRequired bool
	Ticket               string
	Methods              []string

	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresAt    time.Time
}

// TokenPair defines a public type used by authgate APIs.
//
// TokenPair instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresAt    time.Time
}

// SessionStatus defines a public type used by authgate APIs.
//
// SessionStatus instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionStatus struct {
	SessionID    string
	PrincipalID  string
	Method       string
	SecondFactor string
	Generation   uint32
	CreatedAt    time.Time
	RotatedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokeReason string
}

// TrustStatus defines a public type used by authgate APIs.
//
// TrustStatus instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TrustStatus struct {
	Trusted          bool
	SkipSecondFactor bool
	Label            string
	TrustedAt        time.Time
	ExpiresAt        time.Time
}

// AccessResult is the outcome of validating an access token against
// both its signature and the live session registry.
type AccessResult struct {
	PrincipalID  string
	SessionID    string
	Method       string
	SecondFactor string
	Generation   uint32
	Scopes       []string
	ExpiresAt    time.Time
}

// SecondFactorInput defines a public type used by authgate APIs.
//
// SecondFactorInput instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecondFactorInput struct {
	// Ticket is the opaque value returned by Login when a second
	// factor is required.
	Ticket string
	// Code is either a 6-digit TOTP code or an 8-character backup
	// code. The engine classifies it by shape.
	Code   string
	Device DeviceSignal
	// TrustDevice asks the engine to remember this device after a
	// successful verification.
	TrustDevice bool
}

// OAuthBegin defines a public type used by authgate APIs.
//
// OAuthBegin instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OAuthBegin struct {
	AuthorizeURL string
	State        string
}

// WebAuthnBegin defines a public type used by authgate APIs.
//
// WebAuthnBegin instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WebAuthnBegin struct {
	// Options is the JSON-encoded publicKey credential request to hand
	// to the browser's navigator.credentials.get call.
	Options []byte
	Ticket  string
}

// TOTPProvisioning defines a public type used by authgate APIs.
//
// TOTPProvisioning instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPProvisioning struct {
	Secret      string
	OTPAuthURL  string
	Issuer      string
	AccountName string
}
