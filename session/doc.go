// Package session provides session persistence over a [store.Backend] and the
// compact binary session encoding.
//
// # Binary encoding
//
// Records are stored as a versioned binary blob (see [Encode]). Unknown
// versions are rejected as [ErrCorrupt] rather than guessed at.
//
// # Key derivation
//
// The raw session id never reaches the backend. Keys are
// "<prefix>:<hex(SHA-256(id))>", or HMAC-SHA256 when a hash key is configured.
//
// # What this package must NOT do
//
//   - Import authcore (no upward imports).
//   - Decide validity, sliding expiry or client binding; the SessionManager
//     owns those rules.
//   - Store the raw session id.
package session
