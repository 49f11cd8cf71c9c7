package auth

import "errors"

// Sentinel errors for token handling and authorization.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("forbidden")
	ErrUnknownRole  = errors.New("unknown role")
)
