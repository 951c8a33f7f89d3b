// Package influxdb writes device telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//   - tuya_state: numeric and boolean data points after each refresh
//   - tuya_session: per-session retry counters and protocol state
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteDeviceState(uid, name, state)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; async write errors
// are delivered to the SetOnError callback.
package influxdb
