package database

import (
	"context"
	"testing"
	"testing/fstest"
)

// testMigrations is a two-step schema resembling the service's own.
var testMigrations = fstest.MapFS{
	"20260301_090000_create_devices.up.sql": {Data: []byte(
		"CREATE TABLE test_devices (id TEXT PRIMARY KEY, host TEXT NOT NULL);")},
	"20260301_090000_create_devices.down.sql": {Data: []byte(
		"DROP TABLE test_devices;")},
	"20260302_090000_add_history.up.sql": {Data: []byte(
		"CREATE TABLE test_history (id INTEGER PRIMARY KEY, device_id TEXT NOT NULL REFERENCES test_devices(id));")},
	"20260302_090000_add_history.down.sql": {Data: []byte(
		"DROP TABLE test_history;")},
	"README.md": {Data: []byte("ignored")},
}

// useMigrations swaps the package migration source for the test.
func useMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	if fsys == nil {
		MigrationsFS = nil
	} else {
		MigrationsFS = fsys
	}
	MigrationsDir = "."
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_devices", "test_history"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_090000" {
		t.Errorf("first applied = %s, want 20260301_090000", applied[0].Version)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_history") {
		t.Error("latest migration table should have been dropped")
	}
	if !tableExists(t, db, "test_devices") {
		t.Error("earlier migration table should remain")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d; want 1, 1", len(applied), len(pending))
	}
}

func TestMigrateDown_MissingDownSQL(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260301_090000_create_devices.up.sql": {Data: []byte("CREATE TABLE only_up (id TEXT);")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() without down SQL succeeded, want error")
	}
}

func TestMigrate_FailureRollsBackThatMigration(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260301_090000_good.up.sql": {Data: []byte("CREATE TABLE good (id TEXT);")},
		"20260302_090000_bad.up.sql":  {Data: []byte("CREATE TABLE broken (;")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() with broken SQL succeeded, want error")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d; want 1, 1", len(applied), len(pending))
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFile(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOk   bool
	}{
		{"20260301_090000_create_devices.up.sql", migrationFile{"20260301_090000", "create_devices", true}, true},
		{"20260302_091500_add_state_history.down.sql", migrationFile{"20260302_091500", "add_state_history", false}, true},
		{"20260301_090000.up.sql", migrationFile{"20260301_090000", "", true}, true},
		{"readme.txt", migrationFile{}, false},
		{"20260301_090000_create_devices.sql", migrationFile{}, false},
		{"invalid.up.sql", migrationFile{}, false},
		{"2026_0301_devices.up.sql", migrationFile{}, false},
		{"2026030a_090000_devices.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFile(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadMigrations_IgnoresOrphanDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260301_090000_create_devices.up.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"20260305_090000_orphan.down.sql":       {Data: []byte("DROP TABLE b;")},
	})

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "create_devices" {
		t.Errorf("migrations = %+v", migrations)
	}
}
