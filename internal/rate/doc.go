// Package rate provides the fixed-window counter primitive shared by every
// authcore limiter.
//
// # Window semantics
//
// The first hit on a key opens a window of the configured length; every hit
// inside it increments the count; the first hit after it closes opens a new
// window at count 1. The increment itself is delegated to
// [store.Backend.IncrWindow], which is atomic per key.
//
// # Degradation
//
// When the primary backend errors the same hit is applied to a private
// in-process [store.Memory]. Limits then hold per process only, which is
// preferred over rejecting traffic.
//
// # What this package must NOT do
//
//   - Implement endpoint policies (those live in the root package and
//     internal/limiters).
//   - Emit audit events itself; callers observe degradation through
//     Config.OnDegraded.
package rate
