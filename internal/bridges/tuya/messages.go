package tuya

import (
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/mqtt"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "tuya"

// Request actions.
const (
	ActionReadState = "read_state"
	ActionRefresh   = "refresh"
	ActionInferType = "infer_type"
)

// State message sources.
const (
	SourceRefresh    = "refresh"
	SourceCommand    = "command"
	SourceAnticipate = "anticipate"
)

// CommandMessage sets data points on a device.
// Topic: graylogic/command/tuya/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the device unique id. Taken from the topic when empty.
	DeviceID string `json:"device_id"`

	// Properties maps dp ids to values, e.g. {"1": true, "22": 500}.
	Properties map[string]any `json:"properties"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the writes were queued for the next flush.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/tuya/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeTypeNotInferred   = "TYPE_NOT_INFERRED"
)

// StateMessage reports the merged state of a device.
// Topic: graylogic/state/tuya/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// State holds the raw data points keyed by dp id, plus "updated_at".
	State map[string]any `json:"state"`

	// Entities holds the profile view of State keyed by entity unique id.
	Entities map[string]map[string]any `json:"entities,omitempty"`

	// Source is what produced this state: refresh, command or anticipate.
	Source   string `json:"source"`
	Protocol string `json:"protocol"`
}

// RequestMessage asks the bridge for a synchronous operation.
// Topic: graylogic/request/tuya/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of read_state, refresh or infer_type.
	Action   string `json:"action"`
	DeviceID string `json:"device_id"`
}

// ResponseMessage answers a request.
// Topic: graylogic/response/tuya/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewResponseError creates a failed response.
func NewResponseError(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// Topic helpers.

var topics mqtt.Topics

// StateTopic returns the retained state topic for a device.
func StateTopic(deviceID string) string { return topics.BridgeState(Protocol, deviceID) }

// AckTopic returns the acknowledgment topic for a device.
func AckTopic(deviceID string) string { return topics.BridgeAck(Protocol, deviceID) }

// ResponseTopic returns the response topic for a request.
func ResponseTopic(requestID string) string { return topics.BridgeResponse(Protocol, requestID) }

// HealthTopic returns the retained bridge health topic.
func HealthTopic() string { return topics.BridgeHealth(Protocol) }
