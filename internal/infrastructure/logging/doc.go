// Package logging wraps log/slog with the service's defaults: JSON or text
// output, service and version attributes on every line, and per-component
// child loggers (bridge, relay, tuyad, history).
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "json"   # json, text
//	  output: "stdout" # stdout, stderr
//
// Attributes named local_key, password, token or secret are redacted, so a
// device definition can be logged without leaking its key:
//
//	log.Info("device added", "local_key", key) // local_key=[REDACTED]
package logging
