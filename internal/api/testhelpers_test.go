package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/device"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tuya/internal/process"
	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
	_ "github.com/nerrad567/gray-logic-tuya/migrations"
)

const (
	testDeviceID  = "bf1234567890abcdef"
	testJWTSecret = "test-secret-key-at-least-32-characters-long"
)

// mockBridge implements DeviceBridge for testing.
type mockBridge struct {
	mu        sync.Mutex
	ready     map[string]bool
	states    map[string]map[string]any
	writes    []map[string]any
	removed   []string
	setups    []string
	listeners []tuyabridge.StateListener

	setupErr   error
	writeErr   error
	refreshErr error
}

func newMockBridge() *mockBridge {
	return &mockBridge{
		ready:  make(map[string]bool),
		states: make(map[string]map[string]any),
	}
}

func (m *mockBridge) markReady(uid string, state map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready[uid] = true
	m.states[uid] = state
}

func (m *mockBridge) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func (m *mockBridge) SetupDevice(_ context.Context, dev device.Device) (*tuya.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setups = append(m.setups, dev.UniqueID())
	if m.setupErr != nil {
		return nil, m.setupErr
	}
	m.ready[dev.UniqueID()] = true
	return nil, nil
}

func (m *mockBridge) RemoveDevice(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready[uid] {
		return fmt.Errorf("%w: %s", tuyabridge.ErrDeviceNotManaged, uid)
	}
	delete(m.ready, uid)
	m.removed = append(m.removed, uid)
	return nil
}

func (m *mockBridge) State(uid string) (tuyabridge.StateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready[uid] {
		return tuyabridge.StateMessage{}, fmt.Errorf("%w: %s", tuyabridge.ErrDeviceNotManaged, uid)
	}
	return tuyabridge.StateMessage{DeviceID: uid, State: m.states[uid], Protocol: tuyabridge.Protocol}, nil
}

func (m *mockBridge) Write(uid string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready[uid] {
		return fmt.Errorf("%w: %s", tuyabridge.ErrDeviceNotManaged, uid)
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, props)
	return nil
}

func (m *mockBridge) Refresh(_ context.Context, uid string) (tuyabridge.StateMessage, error) {
	m.mu.Lock()
	err := m.refreshErr
	m.mu.Unlock()
	if err != nil {
		return tuyabridge.StateMessage{}, err
	}
	msg, err := m.State(uid)
	msg.Source = tuyabridge.SourceRefresh
	return msg, err
}

func (m *mockBridge) Anticipate(uid string, props map[string]any) (tuyabridge.StateMessage, error) {
	m.mu.Lock()
	if m.ready[uid] {
		if m.states[uid] == nil {
			m.states[uid] = make(map[string]any)
		}
		for k, v := range props {
			m.states[uid][k] = v
		}
	}
	m.mu.Unlock()

	msg, err := m.State(uid)
	msg.Source = tuyabridge.SourceAnticipate
	return msg, err
}

func (m *mockBridge) AddStateListener(fn tuyabridge.StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *mockBridge) Health() tuyabridge.HealthMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tuyabridge.HealthMessage{
		Bridge:         "tuya",
		Status:         tuyabridge.HealthHealthy,
		DevicesManaged: len(m.ready),
	}
}

// emit delivers msg to every registered listener.
func (m *mockBridge) emit(msg tuyabridge.StateMessage) {
	m.mu.Lock()
	listeners := append([]tuyabridge.StateListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

type testEnv struct {
	srv      *Server
	bridge   *mockBridge
	registry *device.Registry
	history  *device.SQLiteStateHistoryRepository
}

type testOption func(*Deps)

func withJWTSecret(secret string) testOption {
	return func(d *Deps) { d.Security.JWT.Secret = secret }
}

func withAPIKey(name, hash string) testOption {
	return func(d *Deps) {
		d.Security.APIKeys = config.APIKeyConfig{
			Enabled: true,
			Keys:    []config.APIKeyEntry{{Name: name, Hash: hash}},
		}
	}
}

func withRateLimit(perMinute int) testOption {
	return func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute}
	}
}

func withDaemon(d DaemonStatus) testOption {
	return func(deps *Deps) { deps.Daemon = d }
}

// stubDaemon reports fixed supervisor stats.
type stubDaemon struct{ stats process.Stats }

func (d stubDaemon) Stats() process.Stats { return d.stats }

func withoutHistory() testOption {
	return func(d *Deps) { d.History = nil }
}

// newTestEnv creates a Server over a migrated in-memory database and a mock bridge.
func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	history := device.NewSQLiteStateHistoryRepository(db.DB)

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(tuya.MetricsCollectors()...)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	bridge := newMockBridge()

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   log,
		Registry: registry,
		Bridge:   bridge,
		History:  history,
		Gatherer: gatherer,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(hubCtx)

	return &testEnv{srv: srv, bridge: bridge, registry: registry, history: history}
}

// createDevice stores a device directly and marks its session ready.
func (e *testEnv) createDevice(t *testing.T, ready bool) *device.Device {
	t.Helper()

	dev := &device.Device{
		DeviceID: testDeviceID,
		Name:     "Kitchen Plug",
		Host:     "192.168.1.50",
		LocalKey: "0123456789abcdef",
		Type:     "smartplugv2",
	}
	if err := e.registry.CreateDevice(context.Background(), dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if ready {
		e.bridge.markReady(dev.UniqueID(), map[string]any{"1": true, tuya.UpdatedAtKey: float64(0)})
	}
	return dev
}

// do runs a request through the router.
func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}
