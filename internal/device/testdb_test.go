package device

import (
	"context"
	"database/sql"
	"testing"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-tuya/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db.DB
}

// testDevice creates a valid direct device.
func testDevice(deviceID, name string) *Device {
	return &Device{
		ID:       deviceID,
		DeviceID: deviceID,
		Name:     name,
		Host:     "192.168.1.50",
		LocalKey: "0123456789abcdef",
		Type:     TypeAuto,
	}
}
