// Package security derives the posture report an Engine exposes through
// SecurityReport.
//
// # What this package must NOT do
//
//   - Import authcore or touch a backend; it works on flattened inputs only.
package security
