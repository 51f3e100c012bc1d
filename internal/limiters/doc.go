// Package limiters provides the principal lockout guard built on top of
// Redis counters, complementing the sliding-window limits in internal/rate.
//
// # Semantics
//
// Failures accumulate in a rolling-window counter (TTL set on the first
// failure). Reaching the threshold writes an absolute locked-until record
// and clears the counter; while the record exists every status probe
// reports locked with the remaining time. Successful primary verification
// resets the counter but never an engaged lock.
//
// The guard is nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import authgate or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting — the engine decides consequences.
package limiters
