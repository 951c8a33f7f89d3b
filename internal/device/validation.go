package device

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	maxNameLength     = 100
	maxIDLength       = 64
	maxHostLength     = 253
	maxLocalKeyLength = 64
	maxTypeLength     = 64
)

var (
	// idRegex matches Tuya device ids and cids: hex or alphanumeric tokens.
	idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// hostnameRegex matches RFC 1123 host names.
	hostnameRegex = regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

	// typeRegex matches profile config types such as "smartplugv2".
	typeRegex = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// ValidateDevice checks a device before it is persisted.
// The returned error wraps ErrInvalidDevice or a more specific sentinel.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if err := validateID("device_id", d.DeviceID, true); err != nil {
		return err
	}
	if err := validateID("cid", d.CID, false); err != nil {
		return err
	}
	if d.ID != "" && d.ID != d.UniqueID() {
		return fmt.Errorf("%w: id %q does not match unique id %q", ErrInvalidDevice, d.ID, d.UniqueID())
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateHost(d.Host); err != nil {
		return err
	}
	if d.LocalKey == "" || len(d.LocalKey) > maxLocalKeyLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidLocalKey, maxLocalKeyLength)
	}
	return ValidateType(d.Type)
}

func validateID(field, id string, required bool) error {
	if id == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalidDevice, field)
		}
		return nil
	}
	if len(id) > maxIDLength || !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %s %q is malformed", ErrInvalidDevice, field, id)
	}
	return nil
}

// ValidateName checks the display name. Empty names are allowed and fall
// back to the unique id for display.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateHost checks the LAN address: an IP or a host name.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidHost)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > maxHostLength || !hostnameRegex.MatchString(host) {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return nil
}

// ValidateType checks a profile config type. Empty means TypeAuto.
func ValidateType(t string) error {
	if t == "" || t == TypeAuto {
		return nil
	}
	if len(t) > maxTypeLength || !typeRegex.MatchString(t) {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return nil
}

// normalise fills derived fields before persistence.
func normalise(d *Device) {
	d.DeviceID = strings.TrimSpace(d.DeviceID)
	d.CID = strings.TrimSpace(d.CID)
	d.Host = strings.TrimSpace(d.Host)
	d.Name = strings.TrimSpace(d.Name)
	if d.Type == "" {
		d.Type = TypeAuto
	}
	if d.ID == "" {
		d.ID = d.UniqueID()
	}
}
