// Package flows contains the orchestration of multi-step security operations:
// the password-reset request/verify/confirm sequence and the session client
// binding check.
//
// Each Run function accepts a typed dependency struct and has no side effects
// beyond those dependencies, so the sequences can be tested with in-memory
// stores and recording fakes.
//
// # Architecture boundaries
//
// Flows coordinate stores, limiters, audit and metrics callbacks. They do not
// own any of these resources; ownership stays with the root components.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Log or return raw tokens other than to the delivery callback.
package flows
