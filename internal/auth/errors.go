package auth

import "errors"

var (
	// ErrTokenInvalid is returned when a bearer token fails signature, expiry or claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidHash is returned when a stored secret hash is not a valid Argon2id PHC string.
	ErrInvalidHash = errors.New("auth: invalid secret hash")
)
