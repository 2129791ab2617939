// Package middleware adapts authcore components to net/http.
//
// # Handlers
//
//   - [RateLimit] classifies each request, charges it to the caller's
//     identifier and answers 429 once the class budget is spent.
//   - [RequireSession] resolves the session id carried by the request and
//     injects the live session into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into authcore calls. Budgets,
// expiry and client binding are decided by authcore, never here.
//
// # What this package must NOT do
//
//   - Access the backing store directly.
//   - Log or echo raw session ids.
package middleware
