package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/device"
)

type historyResponse struct {
	DeviceID string                     `json:"device_id"`
	History  []device.StateHistoryEntry `json:"history"`
	Count    int                        `json:"count"`
}

func recordHistory(t *testing.T, env *testEnv, states ...device.State) {
	t.Helper()
	for _, st := range states {
		if err := env.history.RecordStateChange(context.Background(), testDeviceID, st, "refresh"); err != nil {
			t.Fatalf("RecordStateChange: %v", err)
		}
	}
}

func TestGetDeviceHistory(t *testing.T) {
	env := newTestEnv(t)
	env.createDevice(t, true)
	recordHistory(t, env,
		device.State{"1": true},
		device.State{"1": false},
		device.State{"1": true, "19": float64(1200)},
	)

	t.Run("all entries newest first", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/devices/"+testDeviceID+"/history", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body historyResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Count != 3 {
			t.Fatalf("count = %d, want 3", body.Count)
		}
		if body.History[0].State["19"] != float64(1200) {
			t.Errorf("newest entry = %v", body.History[0].State)
		}
	})

	t.Run("limit", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/devices/"+testDeviceID+"/history?limit=2", "")
		var body historyResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Count != 2 {
			t.Errorf("count = %d, want 2", body.Count)
		}
	})

	t.Run("since in the future", func(t *testing.T) {
		since := url.QueryEscape(time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano))
		w := env.do(t, http.MethodGet, "/api/v1/devices/"+testDeviceID+"/history?since="+since, "")
		var body historyResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Count != 0 {
			t.Errorf("count = %d, want 0", body.Count)
		}
	})

	t.Run("since in the past", func(t *testing.T) {
		since := url.QueryEscape(time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano))
		w := env.do(t, http.MethodGet, "/api/v1/devices/"+testDeviceID+"/history?since="+since, "")
		var body historyResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Count != 3 {
			t.Errorf("count = %d, want 3", body.Count)
		}
	})
}

func TestGetDeviceHistory_Errors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		opts     []testOption
		wantCode int
	}{
		{"zero limit", "?limit=0", nil, http.StatusBadRequest},
		{"non-numeric limit", "?limit=ten", nil, http.StatusBadRequest},
		{"limit above maximum", "?limit=500", nil, http.StatusBadRequest},
		{"bad since", "?since=yesterday", nil, http.StatusBadRequest},
		{"history disabled", "", []testOption{withoutHistory()}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts...)
			env.createDevice(t, true)

			w := env.do(t, http.MethodGet, "/api/v1/devices/"+testDeviceID+"/history"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestGetDeviceHistory_UnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/bf0000000000000000/history", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHistoryQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		raw     string
		want    device.HistoryQuery
		wantErr bool
	}{
		{"", device.HistoryQuery{Limit: device.DefaultHistoryLimit}, false},
		{"limit=1", device.HistoryQuery{Limit: 1}, false},
		{"limit=200", device.HistoryQuery{Limit: 200}, false},
		{"limit=201", device.HistoryQuery{}, true},
		{"limit=-3", device.HistoryQuery{}, true},
		{"limit=abc", device.HistoryQuery{}, true},
		{"since=2026-03-01T12:00:00Z", device.HistoryQuery{Limit: device.DefaultHistoryLimit, Since: since}, false},
		{"since=2026-03-01", device.HistoryQuery{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, _ := url.ParseQuery(tt.raw)
			got, err := historyQuery(values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Limit != tt.want.Limit || !got.Since.Equal(tt.want.Since) {
				t.Errorf("historyQuery() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
