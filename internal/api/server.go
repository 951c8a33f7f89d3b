package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-tuya/internal/auth"
	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/device"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tuya/internal/process"
	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceBridge is the subset of the Tuya bridge the API drives.
// Satisfied by *tuyabridge.Bridge.
type DeviceBridge interface {
	SetupDevice(ctx context.Context, dev device.Device) (*tuya.Session, error)
	RemoveDevice(uid string) error
	State(uid string) (tuyabridge.StateMessage, error)
	Write(uid string, props map[string]any) error
	Refresh(ctx context.Context, uid string) (tuyabridge.StateMessage, error)
	Anticipate(uid string, props map[string]any) (tuyabridge.StateMessage, error)
	AddStateListener(fn tuyabridge.StateListener)
	Health() tuyabridge.HealthMessage
}

// DaemonStatus reports the supervised codec daemon.
// Satisfied by *process.Supervisor.
type DaemonStatus interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Bridge   DeviceBridge

	// History is optional; without it the history endpoint returns 503.
	History device.StateHistoryRepository

	// Gatherer serves /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer

	// Daemon reports the supervised codec daemon in /health. Nil when the
	// daemon runs outside this service.
	Daemon DaemonStatus

	Version string
}

// Server is the HTTP API server for the Tuya service.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	bridge   DeviceBridge
	history  device.StateHistoryRepository
	gatherer prometheus.Gatherer
	daemon   DaemonStatus
	version  string
	tickets  *ticketStore
	keys     *auth.KeyRing   // nil when API keys are disabled
	limiters *clientLimiters // nil when rate limiting is disabled

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("device bridge is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	var keys *auth.KeyRing
	if deps.Security.APIKeys.Enabled {
		named := make([]auth.NamedKey, 0, len(deps.Security.APIKeys.Keys))
		for _, k := range deps.Security.APIKeys.Keys {
			named = append(named, auth.NamedKey{Name: k.Name, Hash: k.Hash})
		}
		var err error
		keys, err = auth.NewKeyRing(named)
		if err != nil {
			return nil, fmt.Errorf("loading api keys: %w", err)
		}
	}

	var limiters *clientLimiters
	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		limiters = newClientLimiters(rl.RequestsPerMinute)
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		registry: deps.Registry,
		bridge:   deps.Bridge,
		history:  deps.History,
		gatherer: gatherer,
		daemon:   deps.Daemon,
		version:  deps.Version,
		tickets:  newTicketStore(),
		keys:     keys,
		limiters: limiters,
		hub:      NewHub(deps.WS, deps.Logger, deps.Bridge),
	}

	// Every state the bridge publishes is relayed to WebSocket subscribers.
	deps.Bridge.AddStateListener(func(msg tuyabridge.StateMessage) {
		s.hub.PublishState(msg)
	})

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	go s.evictLimitersLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
// It waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
