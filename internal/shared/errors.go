package shared

import "errors"

var (
	// ErrInvalidCredentials is returned for every failed login so callers
	// cannot tell unknown, inactive and mistyped accounts apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionMissing means a handler ran outside the session middleware.
	ErrSessionMissing = errors.New("session missing")
	ErrCSRFTokenMissing  = errors.New("csrf token missing")
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
