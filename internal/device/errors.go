package device

import "errors"

// Sentinels returned by the registry and repositories. Validation errors
// wrap ErrInvalidDevice or one of the field-specific values.
var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrDeviceExists   = errors.New("device: already exists")

	ErrInvalidDevice   = errors.New("device: invalid")
	ErrInvalidName     = errors.New("device: invalid name")
	ErrInvalidHost     = errors.New("device: invalid host")
	ErrInvalidLocalKey = errors.New("device: invalid local key")
	ErrInvalidType     = errors.New("device: invalid type")
)
