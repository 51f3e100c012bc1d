// Package internal contains helper utilities that are intentionally private to authgate,
// including secure random generation, opaque token codecs and device fingerprint helpers.
//
// # Sub-packages
//
//   - limiters — principal lockout guard over Redis counters
//   - rate — sliding-window rate limit primitives per endpoint class
//   - stores — single-use challenge store and trusted-device store
//
// # What this package must NOT do
//
//   - Export types that appear in the public authgate API.
//   - Be imported by any package outside the authgate module.
package internal
