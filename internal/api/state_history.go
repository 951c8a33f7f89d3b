package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/device"
)

// handleGetDeviceHistory serves GET /devices/{id}/history?limit=&since=.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	q, err := historyQuery(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), dev.ID, q)
	if err != nil {
		s.logger.Error("loading state history", "device", dev.ID, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"history":   entries,
		"count":     len(entries),
	})
}

// historyQuery reads limit (1..MaxHistoryLimit) and since (RFC 3339).
// Out-of-range limits are rejected rather than clamped.
func historyQuery(v url.Values) (device.HistoryQuery, error) {
	q := device.HistoryQuery{Limit: device.DefaultHistoryLimit}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil || n < 1:
			return q, errors.New("limit must be a positive integer")
		case n > device.MaxHistoryLimit:
			return q, errors.New("limit exceeds maximum of " + strconv.Itoa(device.MaxHistoryLimit))
		}
		q.Limit = n
	}

	if raw := v.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	return q, nil
}
