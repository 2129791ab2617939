package rate

import "errors"

var (
	// ErrRateLimited is returned by Enforce when the window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidPolicy is returned for a non-positive limit or window.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
