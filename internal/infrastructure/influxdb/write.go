package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

// Measurement names written by the bridge.
const (
	MeasurementState   = "tuya_state"
	MeasurementSession = "tuya_session"
)

// WriteDeviceState records the numeric and boolean data points of a device
// state. String data points and the refresh timestamp are skipped. Nothing
// is written when no field remains.
//
// Example:
//
//	client.WriteDeviceState("bf0123", "Kitchen plug", map[string]any{"1": true, "19": 245.0})
//	// tuya_state,device_id=bf0123,name=Kitchen\ plug dp_1=true,dp_19=245
func (c *Client) WriteDeviceState(deviceID, name string, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := StateFields(state)
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{"device_id": deviceID}
	if name != "" {
		tags["name"] = name
	}

	c.points.WritePoint(write.NewPoint(MeasurementState, tags, fields, time.Now()))
}

// WriteSessionStats records session retry counters and the protocol state.
func (c *Client) WriteSessionStats(stats tuya.Stats) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementSession,
		map[string]string{
			"device_id": stats.UniqueID,
			"version":   stats.ProtocolVersion,
		},
		map[string]any{
			"attempts":         int64(stats.Attempts),  //nolint:gosec // counters stay far below MaxInt64
			"failures":         int64(stats.Failures),  //nolint:gosec // counters stay far below MaxInt64
			"refreshes":        int64(stats.Refreshes), //nolint:gosec // counters stay far below MaxInt64
			"flushes":          int64(stats.Flushes),   //nolint:gosec // counters stay far below MaxInt64
			"protocol_working": stats.ProtocolWorking,
		},
		time.Now(),
	)

	c.points.WritePoint(point)
}

// StateFields converts device data points to InfluxDB fields named
// "dp_<id>". Booleans are kept, numbers become float64, everything else
// is dropped.
func StateFields(state map[string]any) map[string]any {
	fields := make(map[string]any, len(state))
	for id, v := range state {
		if id == tuya.UpdatedAtKey {
			continue
		}
		switch n := v.(type) {
		case bool:
			fields["dp_"+id] = n
		case float64:
			fields["dp_"+id] = n
		case float32:
			fields["dp_"+id] = float64(n)
		case int:
			fields["dp_"+id] = float64(n)
		case int64:
			fields["dp_"+id] = float64(n)
		case int32:
			fields["dp_"+id] = float64(n)
		}
	}
	return fields
}
