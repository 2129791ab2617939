// Package limiters provides domain-specific rate limiters built on top of the
// internal/rate primitives.
//
// # Limiters
//
//   - [PasswordResetLimiter]: per-email request throttle (3 per hour by
//     default), optional per-IP request and verification throttles.
//
// All limiters are nil-safe: calling any method on a nil receiver allows the
// request.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
