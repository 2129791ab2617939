// Package internal holds helpers private to authcore: opaque token
// generation, token hashing and client-binding digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: password-reset and client-binding orchestration
//   - limiters: password-reset throttles
//   - metrics: lock-free counters and latency histograms
//   - rate: fixed-window limiting with a process-local fallback
//   - security: the protection report behind Engine.SecurityReport
//   - stores: the password-reset record store
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Log raw tokens or secrets.
package internal
