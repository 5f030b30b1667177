package auth

import "errors"

var (
	// ErrInvalidToken is the single outcome for any session token that fails
	// signature, shape or age checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSecret indicates the session signing secret is not configured.
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
	// ErrMalformedHash indicates an actor secret hash is not "salt:hex".
	ErrMalformedHash = errors.New("auth: malformed secret hash")
	ErrInvalidInput  = errors.New("auth: invalid input")
)
