// Package config loads config.yaml, applies GRAYLOGIC_* environment
// overrides and validates the result.
//
// Secrets (JWT secret, MQTT password, InfluxDB token) are best supplied
// through the environment. Device local keys may sit in the tuya.devices
// list; keep the file readable by the service user only.
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
package config
