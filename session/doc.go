// Package session provides the Redis-backed session registry used by the
// authentication hot paths.
//
// # Storage model
//
// Sessions are Redis hashes with short field names, indexed per principal
// through a set. Refresh rotation is a Lua compare-and-swap on the stored
// refresh hash that also bumps a generation counter; a presented hash that
// does not match marks the whole session revoked in the same script, which
// is what makes replayed refresh tokens detectable. Revoked records keep
// their TTL so probes after revocation can be answered as revoked rather
// than not-found.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT interpret access tokens or enforce authentication policy —
// those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authgate or jwt (no upward imports).
//   - Store plaintext refresh secrets in [Session] fields.
package session
