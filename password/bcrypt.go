package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt work factor used for reset and sign-up hashes.
	DefaultCost = 12
	MinCost     = bcrypt.MinCost
	MaxCost     = bcrypt.MaxCost

	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

// ErrTooLong is returned for passwords beyond bcrypt's 72-byte input limit.
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Bcrypt is a [Hasher] producing $2a$ bcrypt hashes.
type Bcrypt struct {
	cost int
}

// NewBcrypt validates cost against bcrypt's supported range.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < MinCost || cost > MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, MinCost, MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// Hash blocks the calling goroutine for the duration of the key schedule.
func (b *Bcrypt) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches encoded. A malformed hash is an
// error; a mismatch is (false, nil).
func (b *Bcrypt) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsRehash reports whether encoded was produced with a lower cost than b.
func (b *Bcrypt) NeedsRehash(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return true
	}
	return cost < b.cost
}
