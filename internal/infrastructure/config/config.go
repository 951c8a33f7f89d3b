package config

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors configs/config.yaml. See Load for how values are layered.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tuya      TuyaConfig      `yaml:"tuya"`
	Security  SecurityConfig  `yaml:"security"`
}

type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig locates the SQLite file holding devices and state history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how many days of state history to keep.
	// 0 keeps everything.
	HistoryRetention int `yaml:"history_retention"`
}

// MQTTConfig is the broker shared with the codec daemon and bridge consumers.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig delays are in seconds. MaxAttempts 0 retries forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig values are in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists the browser origins allowed to call the API. Empty
// method and header lists use the server defaults.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig intervals are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables the optional device telemetry writer.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout or stderr
}

// TuyaConfig contains settings for the Tuya local-device integration.
type TuyaConfig struct {
	// Relay configures the MQTT request/response exchange with the codec
	// daemon that speaks the Tuya wire protocol on the LAN.
	Relay TuyaRelayConfig `yaml:"relay"`

	// Session timings. Zero values fall back to the session defaults.
	FakeItTimeout      time.Duration `yaml:"fake_it_timeout"`
	CacheTimeout       time.Duration `yaml:"cache_timeout"`
	ConnectionAttempts int           `yaml:"connection_attempts"`
	DebounceDelay      time.Duration `yaml:"debounce_delay"`
	DebounceShortDelay time.Duration `yaml:"debounce_short_delay"`

	// ProtocolVersions is the rotation order tried when a device stops
	// answering. Default: 3.3, 3.1, 3.2, 3.4, 3.5
	ProtocolVersions []string `yaml:"protocol_versions"`

	// Workers bounds concurrent device I/O across all sessions.
	Workers int `yaml:"workers"`

	// PollInterval is how often every device is refreshed.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HealthInterval is how often bridge health is published.
	HealthInterval time.Duration `yaml:"health_interval"`

	// ProfilesDir optionally adds device profiles from *.yaml files.
	ProfilesDir string `yaml:"profiles_dir"`

	// Devices are seeded into the device repository at startup.
	Devices []TuyaDeviceConfig `yaml:"devices"`
}

// TuyaRelayConfig contains codec relay settings.
type TuyaRelayConfig struct {
	RequestTopicPrefix string        `yaml:"request_topic_prefix"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`

	// Daemon optionally launches and supervises the codec daemon.
	Daemon TuyaDaemonConfig `yaml:"daemon"`
}

// TuyaDaemonConfig describes how to run the codec daemon. An empty command
// means the daemon is managed outside this service.
type TuyaDaemonConfig struct {
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args"`
	Env             []string      `yaml:"env"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	MaxRestartDelay time.Duration `yaml:"max_restart_delay"`
	MaxRestarts     int           `yaml:"max_restarts"`
}

// TuyaDeviceConfig describes one configured device.
type TuyaDeviceConfig struct {
	Name     string `yaml:"name"`
	DeviceID string `yaml:"device_id"`
	CID      string `yaml:"cid,omitempty"`
	Host     string `yaml:"host"`
	LocalKey string `yaml:"local_key"`
	// Type is a profile config type, or "auto" to infer it from state.
	Type string `yaml:"type"`
}

// SecurityConfig guards the HTTP API. With no JWT secret and API keys
// disabled the API is open.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	APIKeys   APIKeyConfig    `yaml:"api_keys"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

type APIKeyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Keys holds Argon2id PHC hashes of accepted keys. Generate one with
	// "graylogic-tuya api-key NAME".
	Keys []APIKeyEntry `yaml:"keys"`
}

type APIKeyEntry struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// RateLimitConfig is applied per client address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load builds the configuration in three layers: built-in defaults, the
// YAML file at path, then GRAYLOGIC_* environment variables. The result
// is validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{ID: "site-001", Name: "Gray Logic Tuya"},
		Database: DatabaseConfig{
			Path:             "./data/graylogic-tuya.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30,
		},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "graylogic-tuya"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8090,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Security: SecurityConfig{
			JWT:       JWTConfig{AccessTokenTTL: 15},
			RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 100},
		},
		Tuya: TuyaConfig{
			Relay:              TuyaRelayConfig{RequestTopicPrefix: "graylogic/tuyad", RequestTimeout: 5 * time.Second},
			FakeItTimeout:      10 * time.Second,
			CacheTimeout:       20 * time.Second,
			ConnectionAttempts: 9,
			DebounceDelay:      time.Second,
			DebounceShortDelay: time.Millisecond,
			ProtocolVersions:   []string{"3.3", "3.1", "3.2", "3.4", "3.5"},
			Workers:            4,
			PollInterval:       30 * time.Second,
			HealthInterval:     30 * time.Second,
		},
	}
}

// envStrings maps GRAYLOGIC_* variables onto string settings. Secrets
// are listed here so they can stay out of the file.
func envStrings(cfg *Config) map[string]*string {
	return map[string]*string{
		"GRAYLOGIC_DATABASE_PATH":       &cfg.Database.Path,
		"GRAYLOGIC_MQTT_HOST":           &cfg.MQTT.Broker.Host,
		"GRAYLOGIC_MQTT_USERNAME":       &cfg.MQTT.Auth.Username,
		"GRAYLOGIC_MQTT_PASSWORD":       &cfg.MQTT.Auth.Password,
		"GRAYLOGIC_API_HOST":            &cfg.API.Host,
		"GRAYLOGIC_INFLUXDB_TOKEN":      &cfg.InfluxDB.Token,
		"GRAYLOGIC_JWT_SECRET":          &cfg.Security.JWT.Secret,
		"GRAYLOGIC_TUYA_PROFILES_DIR":   &cfg.Tuya.ProfilesDir,
		"GRAYLOGIC_TUYA_RELAY_PREFIX":   &cfg.Tuya.Relay.RequestTopicPrefix,
		"GRAYLOGIC_TUYA_DAEMON_COMMAND": &cfg.Tuya.Relay.Daemon.Command,
	}
}

// applyEnvOverrides copies non-empty GRAYLOGIC_* variables over the
// loaded values. Unparseable numbers are ignored.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envStrings(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if n, err := strconv.Atoi(os.Getenv("GRAYLOGIC_TUYA_WORKERS")); err == nil {
		cfg.Tuya.Workers = n
	}
}

// problems collects validation failures so that one run reports them all.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// minJWTSecretLength applies only when a secret is set. Without one the
// API runs unauthenticated on a trusted LAN.
const minJWTSecretLength = 32

// Validate reports every problem in the configuration in one error.
func (c *Config) Validate() error {
	var p problems

	p.check(c.Site.ID != "", "site.id is required")
	p.check(c.Database.Path != "", "database.path is required")
	p.check(c.Database.HistoryRetention >= 0, "database.history_retention must not be negative")
	p.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	p.check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")

	sec := c.Security
	p.check(sec.JWT.Secret == "" || len(sec.JWT.Secret) >= minJWTSecretLength,
		"security.jwt.secret must be at least %d characters", minJWTSecretLength)
	p.check(!sec.APIKeys.Enabled || len(sec.APIKeys.Keys) > 0,
		"security.api_keys.keys must list at least one key when enabled")
	p.check(!sec.RateLimit.Enabled || sec.RateLimit.RequestsPerMinute > 0,
		"security.rate_limit.requests_per_minute must be positive when enabled")

	c.Tuya.validate(&p)

	if len(p) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(p, "; "))
	}
	return nil
}

func (t *TuyaConfig) validate(p *problems) {
	p.check(t.Relay.RequestTopicPrefix != "", "tuya.relay.request_topic_prefix is required")
	p.check(t.Relay.RequestTimeout > 0, "tuya.relay.request_timeout must be positive")
	p.check(t.Relay.Daemon.MaxRestarts >= 0, "tuya.relay.daemon.max_restarts must not be negative")
	p.check(t.ConnectionAttempts >= 0, "tuya.connection_attempts must not be negative")
	p.check(t.Workers >= 0, "tuya.workers must not be negative")
	p.check(t.PollInterval >= 0, "tuya.poll_interval must not be negative")
	for i, v := range t.ProtocolVersions {
		p.check(v != "", "tuya.protocol_versions[%d] is empty", i)
	}

	// Sub-devices share their gateway's device_id and are told apart by cid.
	seen := make(map[string]bool, len(t.Devices))
	for i, d := range t.Devices {
		p.check(d.DeviceID != "", "tuya.devices[%d].device_id is required", i)
		p.check(d.Host != "", "tuya.devices[%d].host is required", i)

		uid := cmp.Or(d.CID, d.DeviceID)
		if uid == "" {
			continue
		}
		p.check(!seen[uid], "tuya.devices[%d]: duplicate device %q", i, uid)
		seen[uid] = true
	}
}

// GetReadTimeout, GetWriteTimeout and GetIdleTimeout convert the API
// timeouts, configured in seconds.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
