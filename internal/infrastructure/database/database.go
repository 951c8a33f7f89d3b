package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database that lives as long as the
// DB. Tests use it; WALMode is ignored.
const MemoryPath = ":memory:"

const (
	dirMode  = 0o750
	fileMode = 0o600 // the file holds device local keys

	pingTimeout     = 5 * time.Second
	connMaxLifetime = time.Hour
	connMaxIdleTime = 30 * time.Minute
)

// Config mirrors the database section of config.yaml.
type Config struct {
	Path        string
	WALMode     bool
	BusyTimeout int // seconds to wait on a locked database
}

// DB is the service's SQLite handle: the device table, state history and
// schema migrations all live in one file.
type DB struct {
	*sql.DB
	path string
}

// Open creates the parent directory if needed, opens the database and
// pings it. The connection pool is pinned to one connection: SQLite has a
// single writer, and an in-memory database exists only on its connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	inMemory := cfg.Path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if !inMemory {
		sqlDB.SetConnMaxLifetime(connMaxLifetime)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connecting to database %s: %w", cfg.Path, err)
	}

	if !inMemory {
		// Best effort: the file may only appear on the first write.
		_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// connectionString builds a go-sqlite3 DSN. Foreign keys are always on so
// state history cascades with its device.
func connectionString(cfg Config) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*1000))
	params.Set("_foreign_keys", "on")

	if cfg.Path == MemoryPath {
		return "file::memory:?" + params.Encode()
	}
	if cfg.WALMode {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

// Close is safe to call on a DB whose handle was never opened.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the configured database path, or MemoryPath.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs SELECT 1 on the connection.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}
