package device

import (
	"maps"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

// TypeAuto asks the bridge to infer the device type from its first
// reported state.
const TypeAuto = "auto"

// State is a snapshot of a device's data points keyed by dp id.
type State map[string]any

// Device is a configured Tuya device.
//
// ID is the unique id used everywhere else in the system: the sub-device
// cid when present, otherwise the Tuya device id.
type Device struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	CID      string `json:"cid,omitempty"`
	Name     string `json:"name"`
	Host     string `json:"host"`

	// LocalKey is the device's LAN encryption key. Never serialised.
	LocalKey string `json:"-"`

	// Type is a profile config type, or TypeAuto until inferred.
	Type string `json:"type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UniqueID returns the cid when present, otherwise the device id.
func (d *Device) UniqueID() string {
	return d.Identity().UniqueID()
}

// Identity returns the session identity for the device.
func (d *Device) Identity() tuya.Identity {
	return tuya.Identity{
		DeviceID: d.DeviceID,
		CID:      d.CID,
		Address:  d.Host,
		LocalKey: d.LocalKey,
		Name:     d.Name,
	}
}

// NeedsInference reports whether the type must be inferred from state.
func (d *Device) NeedsInference() bool {
	return d.Type == "" || d.Type == TypeAuto
}

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}
