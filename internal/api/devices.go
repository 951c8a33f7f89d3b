package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/device"
)

// maxQueryParamLen bounds path and query identifiers.
const maxQueryParamLen = 256

// deviceResponse is a stored device plus whether its session is ready.
type deviceResponse struct {
	device.Device
	Ready      bool   `json:"ready"`
	SetupError string `json:"setup_error,omitempty"`
}

// propertiesRequest is the body for state writes and anticipation.
type propertiesRequest struct {
	Properties map[string]any `json:"properties"`
}

// createDeviceRequest is the body for POST /devices. LocalKey is accepted
// here even though it is never serialised back.
type createDeviceRequest struct {
	DeviceID string `json:"device_id"`
	CID      string `json:"cid"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	LocalKey string `json:"local_key"`
	Type     string `json:"type"`
}

// handleListDevices returns devices ordered by name. ?device_id= narrows
// the list to one gateway and its sub-devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Device
	if gw := r.URL.Query().Get("device_id"); gw != "" {
		devices = s.registry.ListByGateway(gw)
	} else {
		devices = s.registry.ListDevices()
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, dev := range devices {
		out = append(out, s.describe(dev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.describe(*dev))
}

// handleCreateDevice stores a device and opens its session. A device whose
// session cannot be set up is still stored and reported with its setup error.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		DeviceID: req.DeviceID,
		CID:      req.CID,
		Name:     req.Name,
		Host:     req.Host,
		LocalKey: req.LocalKey,
		Type:     req.Type,
	}

	ctx := r.Context()
	if err := s.registry.CreateDevice(ctx, dev); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "failed to create device")
		}
		return
	}

	resp := deviceResponse{Device: *dev}
	if _, err := s.bridge.SetupDevice(ctx, *dev); err != nil {
		s.logger.Warn("device setup failed", "device", dev.ID, "error", err)
		resp.SetupError = err.Error()
	} else {
		resp.Ready = true
	}

	// Inference may have stored a type.
	if stored, err := s.registry.GetDevice(ctx, dev.ID); err == nil {
		resp.Device = *stored
	}

	writeJSON(w, http.StatusCreated, resp)
}

// handleDeleteDevice closes the device session and removes the device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	if err := s.bridge.RemoveDevice(dev.UniqueID()); err != nil && !errors.Is(err, tuyabridge.ErrDeviceNotManaged) {
		s.logger.Warn("closing device session", "device", dev.ID, "error", err)
	}

	if err := s.registry.DeleteDevice(r.Context(), dev.ID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetDeviceState returns the merged state without device I/O.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	msg, err := s.bridge.State(dev.UniqueID())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleSetDeviceState queues property writes. The device is written after
// the debounce delay, so the response is 202 Accepted.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	props, ok := decodeProperties(w, r)
	if !ok {
		return
	}

	if err := s.bridge.Write(dev.UniqueID(), props); err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id":  dev.ID,
		"status":     "accepted",
		"properties": props,
	})
}

// handleRefreshDevice fetches device state if the cache is stale.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	msg, err := s.bridge.Refresh(r.Context(), dev.UniqueID())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleAnticipateDevice stores values the device is expected to report.
func (s *Server) handleAnticipateDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	props, ok := decodeProperties(w, r)
	if !ok {
		return
	}

	msg, err := s.bridge.Anticipate(dev.UniqueID(), props)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// lookupDevice resolves the {id} path parameter, writing the error response
// when the device does not exist.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

func (s *Server) describe(dev device.Device) deviceResponse {
	_, err := s.bridge.State(dev.UniqueID())
	return deviceResponse{Device: dev, Ready: err == nil}
}

func decodeProperties(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var req propertiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return nil, false
	}
	if len(req.Properties) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "properties are required")
		return nil, false
	}
	return req.Properties, true
}
