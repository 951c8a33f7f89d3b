// Command graylogic-tuya keeps a session per Tuya device on the LAN,
// bridges their state and commands to MQTT and serves the REST and
// WebSocket API.
//
// Usage:
//
//	graylogic-tuya              run the service
//	graylogic-tuya token NAME   print an API access token for NAME
//	graylogic-tuya api-key NAME print a new API key and its config entry
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-tuya/migrations"

	"github.com/nerrad567/gray-logic-tuya/internal/api"
	"github.com/nerrad567/gray-logic-tuya/internal/auth"
	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/device"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tuya/internal/process"
	"github.com/nerrad567/gray-logic-tuya/internal/profile"
	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used unless GRAYLOGIC_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// errUsage is returned for malformed command lines.
var errUsage = errors.New("usage: graylogic-tuya [token SUBJECT | api-key NAME]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) == 1:
		err = run(ctx)
	case len(os.Args) == 3 && os.Args[1] == "token":
		err = printToken(os.Stdout, os.Args[2])
	case len(os.Args) == 3 && os.Args[1] == "api-key":
		err = printAPIKey(os.Stdout, os.Args[2])
	default:
		err = errUsage
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printToken writes an access token for subject signed with the configured
// JWT secret.
func printToken(w io.Writer, subject string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.GenerateToken(subject, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	_, err = fmt.Fprintln(w, token)
	return err
}

// printAPIKey writes a new API key and the security.api_keys entry that
// accepts it. Only the hash belongs in configuration.
func printAPIKey(w io.Writer, name string) error {
	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return fmt.Errorf("hashing api key: %w", err)
	}

	_, err = fmt.Fprintf(w, "key: %s\n\nsecurity:\n  api_keys:\n    enabled: true\n    keys:\n      - name: %q\n        hash: %q\n", key, name, hash)
	return err
}

// run wires the service together and blocks until ctx is cancelled.
// Components are torn down by defers in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Tuya",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.Name)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceRegistry, err := loadDevices(ctx, db, cfg.Tuya.Devices, log)
	if err != nil {
		return err
	}
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	if days := cfg.Database.HistoryRetention; days > 0 {
		go pruneHistory(ctx, history, time.Duration(days)*24*time.Hour, historyPruneInterval, log.Component("history"))
	}

	catalog, err := profile.Load(cfg.Tuya.ProfilesDir)
	if err != nil {
		return fmt.Errorf("loading device profiles: %w", err)
	}
	log.Info("device profiles loaded", "profiles", catalog.Len(), "dir", cfg.Tuya.ProfilesDir)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	var influxClient *influxdb.Client
	var telemetry tuyabridge.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var daemon api.DaemonStatus
	if supervisor := newDaemonSupervisor(cfg.Tuya.Relay.Daemon, log); supervisor != nil {
		if startErr := supervisor.Start(ctx); startErr != nil {
			return fmt.Errorf("starting codec daemon: %w", startErr)
		}
		defer func() {
			log.Info("stopping codec daemon")
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping codec daemon", "error", stopErr)
			}
		}()
		daemon = supervisor
		log.Info("codec daemon started", "command", cfg.Tuya.Relay.Daemon.Command)
	} else {
		log.Info("codec daemon managed externally")
	}

	relay := tuyabridge.NewRelayOpener(mqttClient, cfg.Tuya.Relay, log.Component("relay"))
	if startErr := relay.Start(); startErr != nil {
		return fmt.Errorf("starting codec relay: %w", startErr)
	}
	defer func() {
		log.Info("stopping codec relay")
		if stopErr := relay.Stop(); stopErr != nil {
			log.Error("error stopping codec relay", "error", stopErr)
		}
	}()

	bridge, err := tuyabridge.NewBridge(tuyabridge.BridgeOptions{
		Config:     cfg.Tuya,
		BridgeID:   cfg.Site.ID,
		Version:    version,
		MQTTClient: mqttClient,
		Opener:     relay,
		Devices:    deviceRegistry,
		Catalog:    catalog,
		History:    history,
		Telemetry:  telemetry,
		Logger:     log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating Tuya bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting Tuya bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping Tuya bridge")
		bridge.Stop()
	}()
	log.Info("Tuya bridge started", "devices", bridge.ManagedCount())

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Registry: deviceRegistry,
		Bridge:   bridge,
		History:  history,
		Gatherer: newMetricsRegistry(),
		Daemon:   daemon,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("ready", "devices", bridge.ManagedCount())
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// loadDevices builds the device registry and seeds it from configuration.
// Seeding failures are logged per device; a bad entry does not stop startup.
func loadDevices(ctx context.Context, db *database.DB, seeds []config.TuyaDeviceConfig, log *logging.Logger) (*device.Registry, error) {
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)

	if err := registry.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading device registry: %w", err)
	}

	if err := registry.Seed(ctx, seedDevices(seeds)); err != nil {
		log.Warn("some configured devices were not stored", "error", err)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())
	return registry, nil
}

// seedDevices converts configured devices into registry seeds.
func seedDevices(seeds []config.TuyaDeviceConfig) []device.Device {
	out := make([]device.Device, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, device.Device{
			DeviceID: s.DeviceID,
			CID:      s.CID,
			Name:     s.Name,
			Host:     s.Host,
			LocalKey: s.LocalKey,
			Type:     s.Type,
		})
	}
	return out
}

// historyPruneInterval is how often expired state history is deleted.
const historyPruneInterval = time.Hour

// pruneHistory deletes state history older than keep, once at startup and
// then every interval until ctx is cancelled.
func pruneHistory(ctx context.Context, history device.StateHistoryRepository, keep, every time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		n, err := history.PruneHistory(ctx, keep)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning state history failed", "error", err)
		case n > 0:
			log.Info("pruned state history", "deleted", n, "older_than", keep)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newDaemonSupervisor returns a supervisor for the configured codec daemon,
// or nil when no command is configured.
func newDaemonSupervisor(cfg config.TuyaDaemonConfig, log *logging.Logger) *process.Supervisor {
	if cfg.Command == "" {
		return nil
	}
	s := process.NewSupervisor(process.Config{
		Name:            "tuyad",
		Command:         cfg.Command,
		Args:            cfg.Args,
		Env:             cfg.Env,
		RestartDelay:    cfg.RestartDelay,
		MaxRestartDelay: cfg.MaxRestartDelay,
		MaxRestarts:     cfg.MaxRestarts,
	})
	s.SetLogger(log.Component("tuyad"))
	return s
}

// newMetricsRegistry returns a registry with the session metrics plus the
// standard Go runtime and process collectors.
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(tuya.MetricsCollectors()...)
	return reg
}

func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck is the startup gate: every connection must answer once
// before the service reports ready. influxClient is nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
