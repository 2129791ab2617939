package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// TokenBytes is the entropy of session ids and reset tokens (256 bits).
const TokenBytes = 32

var tokenEncodedLen = base64.RawURLEncoding.EncodedLen(TokenBytes)

// NewOpaqueToken returns TokenBytes of CSPRNG output, base64url without
// padding. The token carries no structure.
func NewOpaqueToken() (string, error) {
	var raw [TokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// WellFormedToken reports whether raw could have been produced by
// NewOpaqueToken. Used to skip store lookups for garbage input.
func WellFormedToken(raw string) bool {
	if len(raw) != tokenEncodedLen {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil && len(decoded) == TokenBytes
}

// HashToken derives the storage key material for a raw token: hex
// HMAC-SHA256 when key is set, plain hex SHA-256 otherwise.
func HashToken(raw string, key []byte) string {
	if len(key) == 0 {
		sum := sha256.Sum256([]byte(raw))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
