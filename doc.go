// Package authcore provides the security session and token layer of a web
// backend: fixed-window endpoint rate limiting, server-side sessions with
// sliding expiry, and single-use password-reset tokens.
//
// All three components sit over one [store.Backend]. [store.Redis] shares
// state across instances; [store.Memory] keeps it in process and sweeps
// expired entries on a timer. Components can be constructed on their own
// ([NewRateLimiter], [NewSessionManager], [NewPasswordResetService]) or
// wired together through [Builder.Build], which namespaces their keys under
// Store.KeyPrefix and shares metrics and audit delivery.
//
// Every exported method is safe for concurrent use.
//
// # Failure policy
//
// The rate limiter fails open onto a process-local fallback store and marks
// the decision Degraded. Session lookups and reset tokens fail closed with
// [ErrBackingStoreUnavailable].
//
// # What this package must NOT do
//
//   - Store raw session ids or reset tokens; keys are derived by hashing.
//   - Reveal whether an email address has an account.
//   - Import the middleware, mailer or userstore packages (they import it).
package authcore
