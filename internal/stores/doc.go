// Package stores provides Redis-backed record stores shared by the engine's
// verification flows.
//
// # Stores
//
//   - [ChallengeStore] — single-use records (second-factor tickets, magic
//     links, OAuth states, WebAuthn ceremonies) with atomic consume,
//     consumed markers and WATCH-based attempt counting.
//   - [TrustStore] — per-principal trusted devices with a hard cap and
//     least-recently-trusted eviction.
//
// # Architecture boundaries
//
// Stores own their Redis key namespaces and error types. They never make
// policy decisions; TTLs, attempt budgets and caps arrive from the caller.
//
// # What this package must NOT do
//
//   - Import authgate or interpret challenge Meta payloads.
//   - Be imported outside the authgate module.
package stores
