// Package middleware exposes HTTP middleware adapters built on top of
// authgate.Engine access validation.
//
// # Guards
//
//   - [Guard] — bearer-token validation against the session registry.
//   - [RequireScope] — Guard plus a scope requirement on the access result.
//   - [RequireSecondFactor] — Guard plus a step-up requirement.
//
// Each guard reads the Authorization header, calls Engine.ValidateAccess, and
// injects the validated result into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself — all decisions are delegated to Engine.ValidateAccess.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond what the validated access result carries.
package middleware
