package tuya

import "errors"

// Domain errors for device sessions.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRetriesExhausted is returned when every connection attempt for an
	// operation failed. The supplied operation message is wrapped with it.
	ErrRetriesExhausted = errors.New("tuya: connection attempts exhausted")

	// ErrTypeNotInferred is returned when no catalog profile matched the
	// device state with a positive score.
	ErrTypeNotInferred = errors.New("tuya: device type could not be inferred")

	// ErrSessionClosed is returned by blocking operations on a closed session.
	ErrSessionClosed = errors.New("tuya: session closed")

	// ErrInvalidIdentity is returned when a session identity is missing a
	// device id or address.
	ErrInvalidIdentity = errors.New("tuya: invalid device identity")

	// ErrSessionExists is returned when registering a second session under
	// the same unique id.
	ErrSessionExists = errors.New("tuya: session already exists")

	// ErrSessionNotFound is returned when no session is registered under an id.
	ErrSessionNotFound = errors.New("tuya: session not found")
)
