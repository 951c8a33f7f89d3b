package tuya

import "errors"

// Domain errors for the Tuya bridge package.
var (
	// ErrDeviceNotManaged is returned when no session is open for a device.
	ErrDeviceNotManaged = errors.New("tuya bridge: device not managed")

	// ErrUnknownProperty is returned when a write names a data point the
	// device profile does not map.
	ErrUnknownProperty = errors.New("tuya bridge: unknown property")

	// ErrReadonlyProperty is returned when a write targets a read-only data point.
	ErrReadonlyProperty = errors.New("tuya bridge: property is read-only")

	// ErrInvalidValue is returned when a written value does not fit the
	// data point type.
	ErrInvalidValue = errors.New("tuya bridge: invalid property value")

	// ErrRelayTimeout is returned when the codec daemon does not answer a
	// request within the relay timeout.
	ErrRelayTimeout = errors.New("tuya bridge: relay request timed out")

	// ErrRelayFailed is returned when the codec daemon reports an error.
	ErrRelayFailed = errors.New("tuya bridge: relay request failed")

	// ErrTransportClosed is returned by a relay transport after Close.
	ErrTransportClosed = errors.New("tuya bridge: transport closed")

	// ErrUnsupportedOpcode is returned when building a frame for an opcode
	// the relay does not carry.
	ErrUnsupportedOpcode = errors.New("tuya bridge: unsupported opcode")
)
