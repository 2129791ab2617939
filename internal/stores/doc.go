// Package stores provides short-lived record stores for security-sensitive
// flows. Today that is the password-reset token store.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in a
// [store.Backend] with a TTL, keyed by the hash of the token that addresses
// it. Plain updates are read-modify-write; exactly-once consumption goes
// through Claim, which rides on the backend's atomic window counter.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose raw tokens.
//   - Generate tokens or enforce rate limits (flows do that).
package stores
