package tuya

// DefaultProtocolVersions is the order in which protocol versions are tried
// against a device that has not yet accepted a frame.
var DefaultProtocolVersions = []string{"3.3", "3.1", "3.2", "3.4", "3.5"}

// versionNegotiator cycles through protocol versions on failure. The device
// offers no handshake, so the only signal is whether a frame is accepted.
// It is not safe for concurrent use; Session guards it with ioMu.
type versionNegotiator struct {
	versions []string
	index    int // -1 until the first rotation
	working  bool
}

func newVersionNegotiator(versions []string) *versionNegotiator {
	if len(versions) == 0 {
		versions = DefaultProtocolVersions
	}
	return &versionNegotiator{
		versions: append([]string(nil), versions...),
		index:    -1,
	}
}

// rotate advances to the next version, wrapping to the start, and returns it.
// The first call selects index 0.
func (n *versionNegotiator) rotate() string {
	n.index++
	if n.index >= len(n.versions) {
		n.index = 0
	}
	return n.versions[n.index]
}

// current returns the selected version, or "" before the first rotation.
func (n *versionNegotiator) current() string {
	if n.index < 0 {
		return ""
	}
	return n.versions[n.index]
}
