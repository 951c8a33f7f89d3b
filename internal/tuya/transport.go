package tuya

import "context"

// Opcode identifies the kind of frame built by a Transport.
type Opcode string

const (
	// OpControl sets data points on the device.
	OpControl Opcode = "control"

	// OpStatus queries all data points.
	OpStatus Opcode = "status"

	// OpHeartbeat keeps persistent gateway connections alive.
	OpHeartbeat Opcode = "heartbeat"
)

// Identity describes how to reach one physical device or gateway child.
type Identity struct {
	// DeviceID is the Tuya device id (the gateway id for sub-devices).
	DeviceID string

	// CID is the sub-device id behind a gateway. Empty for direct devices.
	CID string

	// Address is the device (or gateway) network address.
	Address string

	// LocalKey is the device encryption key.
	LocalKey string

	// Name is the human-readable device name.
	Name string
}

// UniqueID returns the cid when present, otherwise the device id.
func (i Identity) UniqueID() string {
	if i.CID != "" {
		return i.CID
	}
	return i.DeviceID
}

// Validate checks the identity has enough information to open a transport.
func (i Identity) Validate() error {
	if i.DeviceID == "" {
		return ErrInvalidIdentity
	}
	if i.Address == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// Frame is an encoded request ready for SendReceive. Transports decide the
// wire representation; the session only passes frames back to the
// transport that built them.
type Frame struct {
	Opcode     Opcode         `json:"opcode"`
	Properties map[string]any `json:"dps,omitempty"`
}

// Transport is a point-to-point connection to one device. Implementations
// handle framing and encryption. A Transport is used by one session, which
// serialises calls to it.
type Transport interface {
	// Status returns the raw data point map reported by the device.
	Status(ctx context.Context) (map[string]any, error)

	// BuildPayload encodes properties into a frame for the given opcode.
	BuildPayload(op Opcode, properties map[string]any) (Frame, error)

	// SendReceive sends a frame and returns the device response, if any.
	SendReceive(ctx context.Context, frame Frame) (map[string]any, error)

	// SetVersion selects the protocol version used for subsequent frames.
	SetVersion(version string)

	// Close releases the connection.
	Close() error
}

// Opener creates transports for device identities.
type Opener interface {
	Open(ctx context.Context, id Identity) (Transport, error)
}
