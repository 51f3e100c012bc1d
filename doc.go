// Package authgate provides a Redis-backed authentication and session
// lifecycle engine with JWT access tokens, rotating opaque refresh tokens,
// multi-factor step-up, magic links, OAuth2 code-flow logins, WebAuthn
// assertions, and device trust.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (LoginResult, TokenPair, MetricsSnapshot, etc.). All internal coordination — challenge
// storage, rate limiting, lockout, audit dispatch — lives under internal/ and is never
// exported. Principal persistence stays with the host behind [PrincipalStore].
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Store principal credentials itself (the host's [PrincipalStore] owns them).
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports authgate (no import cycles).
//
// # Performance contract
//
// ValidateAccess is the hot path: one JWT parse plus one Redis session lookup.
// Refresh and Logout are allowed one Lua script call; Login pays the Argon2id
// verification cost by design.
package authgate
