package profile

import "errors"

var (
	// ErrProfileNotFound is returned when no profile has the requested config type.
	ErrProfileNotFound = errors.New("profile: not found")

	// ErrInvalidProfile is returned when a profile file fails validation.
	ErrInvalidProfile = errors.New("profile: invalid")
)
