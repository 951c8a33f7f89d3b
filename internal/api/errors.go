package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/device"
	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Values of Error.Code.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeDeviceUnreachable  = "device_unreachable"
	ErrCodeTimeout            = "timeout"
	ErrCodeRateLimited        = "rate_limited"
)

// sessionErrors maps bridge and session failures to responses, first match
// wins. An empty message echoes the error text.
var sessionErrors = []struct {
	targets []error
	status  int
	code    string
	message string
}{
	{[]error{tuyabridge.ErrDeviceNotManaged}, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "device session not ready"},
	{[]error{tuyabridge.ErrUnknownProperty, tuyabridge.ErrReadonlyProperty, tuyabridge.ErrInvalidValue}, http.StatusBadRequest, ErrCodeValidation, ""},
	{[]error{context.DeadlineExceeded, tuyabridge.ErrRelayTimeout}, http.StatusGatewayTimeout, ErrCodeTimeout, "device did not answer in time"},
	{[]error{tuya.ErrRetriesExhausted, tuya.ErrSessionClosed}, http.StatusBadGateway, ErrCodeDeviceUnreachable, ""},
}

// writeSessionError answers a failed read, write or anticipate.
func writeSessionError(w http.ResponseWriter, err error) {
	for _, m := range sessionErrors {
		if !isAny(err, m.targets...) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, m.status, m.code, msg)
		return
	}
	writeInternalError(w, "device operation failed")
}

// isValidationError reports whether err rejects a device definition.
func isValidationError(err error) bool {
	return isAny(err,
		device.ErrInvalidDevice,
		device.ErrInvalidName,
		device.ErrInvalidHost,
		device.ErrInvalidLocalKey,
		device.ErrInvalidType,
	)
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
