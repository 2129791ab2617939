package password

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrPolicy is wrapped by every *PolicyError.
var ErrPolicy = errors.New("password does not meet policy")

// Policy is the password complexity rule set. Every enabled rule is
// mandatory.
type Policy struct {
	MinLength      int
	MaxBytes       int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultMinLength is the shortest password DefaultPolicy accepts.
const DefaultMinLength = 8

// DefaultPolicy requires 8+ characters with upper, lower, digit and special.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      DefaultMinLength,
		MaxBytes:       MaxPasswordBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// PolicyError lists every rule a password failed.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password " + strings.Join(e.Violations, ", ")
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicy
}

// Violations returns the unmet rules in a stable order, or nil.
func (p Policy) Violations(pw string) []string {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	var length int
	for _, r := range pw {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || r == ' ':
			hasSpecial = true
		}
	}

	var out []string
	if length < p.MinLength {
		out = append(out, "must be at least "+strconv.Itoa(p.MinLength)+" characters long")
	}
	if p.MaxBytes > 0 && len(pw) > p.MaxBytes {
		out = append(out, "must be at most "+strconv.Itoa(p.MaxBytes)+" bytes long")
	}
	if p.RequireUpper && !hasUpper {
		out = append(out, "must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		out = append(out, "must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		out = append(out, "must contain a digit")
	}
	if p.RequireSpecial && !hasSpecial {
		out = append(out, "must contain a special character")
	}
	return out
}

// Check returns a *PolicyError when pw violates any rule.
func (p Policy) Check(pw string) error {
	if v := p.Violations(pw); len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}
