// Package password implements bcrypt hashing and the password complexity
// policy.
//
// # Output format
//
// Hashes are standard bcrypt strings ($2a$<cost>$...). [Bcrypt.NeedsRehash]
// reports hashes produced with a lower cost so callers can upgrade them on
// the next successful login.
//
// # Policy
//
// [Policy.Check] reports every unmet rule at once, never just the first.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
