package internal

import "crypto/sha256"

// HashBindingValue hashes a client attribute (IP, user agent) so bindings can
// be compared in constant time.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
