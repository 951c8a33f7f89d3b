package auth

import "errors"

var (
	// ErrTokenInvalid is returned when a bearer token fails validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrNoSecret is returned when signing without a configured secret.
	ErrNoSecret = errors.New("auth: no signing secret configured")

	// ErrKeyInvalid is returned when an API key matches no configured hash.
	ErrKeyInvalid = errors.New("auth: invalid api key")

	// ErrHashFormat is returned for a malformed Argon2id PHC string.
	ErrHashFormat = errors.New("auth: invalid hash format")
)
