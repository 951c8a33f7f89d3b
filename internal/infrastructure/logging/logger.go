package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
)

// ServiceName tags every entry as "service".
const ServiceName = "graylogic-tuya"

// Attribute keys whose values are replaced before output. A Tuya local
// key decrypts all traffic of its device.
var secretKeys = map[string]struct{}{
	"local_key": {},
	"password":  {},
	"secret":    {},
	"token":     {},
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is a slog.Logger with the service fields attached and secrets
// redacted. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by cfg. Output "stderr" writes to
// stderr; anything else to stdout. Format "text" selects the text
// handler; anything else JSON.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(out, cfg, version)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), ReplaceAttr: redactSecrets}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{slog.New(h)}
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, secret := secretKeys[strings.ToLower(a.Key)]; secret {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// parseLevel maps a configured level name to a slog level, defaulting
// to info.
func parseLevel(name string) slog.Level {
	if l, ok := levels[strings.ToLower(name)]; ok {
		return l
	}
	return slog.LevelInfo
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// ForDevice tags entries with a device's unique id and, when set, its
// display name.
func (l *Logger) ForDevice(uniqueID, name string) *Logger {
	if name == "" {
		return l.With("device", uniqueID)
	}
	return l.With("device", uniqueID, "device_name", name)
}

// Default is the JSON info-level logger used until the config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
