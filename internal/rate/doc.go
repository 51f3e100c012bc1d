// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for security-sensitive authentication workflows.
//
// # Window semantics
//
// Sliding-window sorted sets: ZREMRANGEBYSCORE trims expired attempts, ZCARD
// checks the budget and ZADD records the new attempt inside one Lua script.
// Exhausting the budget writes an absolute block-until record so later denials
// report a decreasing retry-after. Key prefixes:
//   - rl:  — attempt window per (class, identifier)
//   - rlb: — block-until per (class, identifier)
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the authgate module.
package rate
