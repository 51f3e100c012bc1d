package session

// Session defines a public type used by authgate APIs.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionID   string
	PrincipalID string

	// Method is the primary verification method that created the session
	// (password, magiclink, oauth, webauthn). SecondFactor is the second
	// factor satisfied during login, empty when none was required.
	Method       string
	SecondFactor string

	// Fingerprint identifies the device the session was created from,
	// empty when no device signal was supplied.
	Fingerprint string

	// Generation increments on every successful refresh rotation.
	Generation    uint32
	RefreshHash   [32]byte
	IPHash        [32]byte
	UserAgentHash [32]byte

	CreatedAt int64
	RotatedAt int64
	ExpiresAt int64

	Revoked      bool
	RevokeReason string
}
