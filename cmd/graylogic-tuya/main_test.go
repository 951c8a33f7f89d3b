package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/auth"
	"github.com/nerrad567/gray-logic-tuya/internal/device"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tuya/internal/process"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a config file and points GRAYLOGIC_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", path)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
database:
  path: ""
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_UnreachableBroker verifies run fails cleanly when MQTT is down.
// Port 19999 is assumed closed.
func TestRun_UnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the MQTT connect timeout")
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Error("run() should fail without a broker")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("GRAYLOGIC_CONFIG", "")
		if path := getConfigPath(); path != defaultConfigPath {
			t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("GRAYLOGIC_CONFIG", "/custom/path/config.yaml")
		if path := getConfigPath(); path != "/custom/path/config.yaml" {
			t.Errorf("getConfigPath() = %q", path)
		}
	})
}

func TestPrintToken(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
security:
  jwt:
    secret: "`+testSecret+`"
    access_token_ttl: 5
`)

	var buf bytes.Buffer
	if err := printToken(&buf, "panel"); err != nil {
		t.Fatalf("printToken() error: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(buf.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error: %v", err)
	}
	if claims.Subject != "panel" {
		t.Errorf("Subject = %q, want panel", claims.Subject)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", ttl)
	}
}

func TestPrintToken_NoSecret(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
`)

	var buf bytes.Buffer
	if err := printToken(&buf, "panel"); err == nil {
		t.Error("printToken() should fail without a JWT secret")
	}
}

func TestPrintAPIKey(t *testing.T) {
	var buf bytes.Buffer
	if err := printAPIKey(&buf, "panel"); err != nil {
		t.Fatalf("printAPIKey() error: %v", err)
	}

	var key, hash string
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "key: "); ok {
			key = v
		}
		if v, ok := strings.CutPrefix(line, "hash: "); ok {
			hash = strings.Trim(v, `"`)
		}
	}
	if key == "" || hash == "" {
		t.Fatalf("output missing key or hash:\n%s", buf.String())
	}

	ring, err := auth.NewKeyRing([]auth.NamedKey{{Name: "panel", Hash: hash}})
	if err != nil {
		t.Fatalf("NewKeyRing() error: %v", err)
	}
	if name, err := ring.Verify(key); err != nil || name != "panel" {
		t.Errorf("Verify() = %q, %v", name, err)
	}
}

func TestLoadDevices_SeedsConfiguredDevices(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	seeds := []config.TuyaDeviceConfig{
		{Name: "Kitchen Plug", DeviceID: "bf1234567890abcdef", Host: "192.168.1.50", LocalKey: "0123456789abcdef", Type: "smartplugv2"},
		{Name: "Hall Sensor", DeviceID: "bfgateway000000000", CID: "a4c1380000000001", Host: "192.168.1.60", LocalKey: "fedcba9876543210"},
		{Name: "Broken", DeviceID: "bf9999999999999999", Host: "not a host!", LocalKey: "0123456789abcdef"},
	}

	registry, err := loadDevices(ctx, db, seeds, log)
	if err != nil {
		t.Fatalf("loadDevices() error: %v", err)
	}
	if got := registry.GetDeviceCount(); got != 2 {
		t.Fatalf("GetDeviceCount() = %d, want 2", got)
	}

	sensor, err := registry.GetDevice(ctx, "a4c1380000000001")
	if err != nil {
		t.Fatalf("GetDevice(cid) error: %v", err)
	}
	if !sensor.NeedsInference() {
		t.Errorf("Type = %q, want inference", sensor.Type)
	}
}

func TestNewMetricsRegistry(t *testing.T) {
	families, err := newMetricsRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() == "graylogic_tuya_sessions_active" {
			found = true
		}
	}
	if !found {
		t.Error("sessions gauge should be registered")
	}
}

func TestNewDaemonSupervisor(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if s := newDaemonSupervisor(config.TuyaDaemonConfig{}, log); s != nil {
		t.Error("no command should leave the daemon unsupervised")
	}

	s := newDaemonSupervisor(config.TuyaDaemonConfig{Command: "/usr/local/bin/tuyad", MaxRestarts: 3}, log)
	if s == nil {
		t.Fatal("configured command should return a supervisor")
	}
	st := s.Stats()
	if st.Name != "tuyad" {
		t.Errorf("Name = %q, want tuyad", st.Name)
	}
	if st.Status != process.StatusStopped {
		t.Errorf("Status = %q, want %q", st.Status, process.StatusStopped)
	}
}

// countingHistory counts PruneHistory calls.
type countingHistory struct {
	device.StateHistoryRepository
	prunes atomic.Int32
	keep   atomic.Int64
}

func (h *countingHistory) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	h.prunes.Add(1)
	h.keep.Store(int64(olderThan))
	return 1, nil
}

func TestPruneHistory_RunsUntilCancelled(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	history := &countingHistory{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pruneHistory(ctx, history, 48*time.Hour, 5*time.Millisecond, log)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for history.prunes.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("prunes = %d, want at least 2", history.prunes.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruneHistory did not return after cancel")
	}
	if got := time.Duration(history.keep.Load()); got != 48*time.Hour {
		t.Errorf("olderThan = %v, want 48h", got)
	}
}
