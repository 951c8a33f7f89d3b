package mqtt

import "strings"

// Bridge topics are graylogic/{kind}/{protocol}/{id}; the codec relay has
// its own root, graylogic/tuyad by default.
const (
	root               = "graylogic"
	DefaultRelayPrefix = root + "/tuyad"
)

// Topics builds topic names. The zero value is ready to use:
//
//	mqtt.Topics{}.BridgeState("tuya", "bf1234567890abcdef")
//	// graylogic/state/tuya/bf1234567890abcdef
type Topics struct{}

func join(levels ...string) string { return strings.Join(levels, "/") }

// BridgeState carries device state published by a bridge.
func (Topics) BridgeState(protocol, deviceID string) string {
	return join(root, "state", protocol, deviceID)
}

// BridgeCommand carries commands for one device.
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return join(root, "command", protocol, deviceID)
}

// BridgeAck carries the outcome of a command.
func (Topics) BridgeAck(protocol, deviceID string) string {
	return join(root, "ack", protocol, deviceID)
}

func (Topics) BridgeRequest(protocol, requestID string) string {
	return join(root, "request", protocol, requestID)
}

func (Topics) BridgeResponse(protocol, requestID string) string {
	return join(root, "response", protocol, requestID)
}

// BridgeHealth is retained.
func (Topics) BridgeHealth(protocol string) string {
	return join(root, "health", protocol)
}

// BridgeCommands matches every command for protocol.
func (Topics) BridgeCommands(protocol string) string {
	return join(root, "command", protocol, "+")
}

// BridgeRequests matches every request for protocol.
func (Topics) BridgeRequests(protocol string) string {
	return join(root, "request", protocol, "+")
}

// RelayRequest is where the codec daemon takes frames for one device.
// An empty prefix selects DefaultRelayPrefix.
func (Topics) RelayRequest(prefix, deviceID string) string {
	return join(relayRoot(prefix), "request", deviceID)
}

// RelayResponse is where the codec daemon answers one request.
func (Topics) RelayResponse(prefix, requestID string) string {
	return join(relayRoot(prefix), "response", requestID)
}

// AllRelayResponses matches every codec daemon answer.
func (Topics) AllRelayResponses(prefix string) string {
	return join(relayRoot(prefix), "response", "+")
}

func relayRoot(prefix string) string {
	if prefix = strings.TrimSuffix(prefix, "/"); prefix == "" {
		return DefaultRelayPrefix
	}
	return prefix
}

// SystemStatus carries the retained online/offline status and the will.
func (Topics) SystemStatus() string {
	return join(root, "system", "status")
}

// LastSegment returns the final topic level: the device or request id of
// every per-item topic above.
func LastSegment(topic string) string {
	return topic[strings.LastIndexByte(topic, '/')+1:]
}
