package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository persists device definitions. The Registry is its only
// caller; it keeps the in-memory view and derives per-gateway lists.
type Repository interface {
	// GetByID returns ErrDeviceNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	// Create returns ErrDeviceExists when the id is taken.
	Create(ctx context.Context, device *Device) error
	// Update, UpdateType and Delete return ErrDeviceNotFound for an
	// unknown id.
	Update(ctx context.Context, device *Device) error
	UpdateType(ctx context.Context, id, deviceType string) error
	Delete(ctx context.Context, id string) error
}

const (
	selectDevices = `SELECT id, device_id, cid, name, host, local_key, type, created_at, updated_at FROM devices`
	insertDevice  = `INSERT INTO devices (id, device_id, cid, name, host, local_key, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	updateDevice = `UPDATE devices SET device_id = ?, cid = ?, name = ?, host = ?, local_key = ?, type = ?, updated_at = ?
		WHERE id = ?`
)

// SQLiteRepository stores devices in the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevices+` WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrDeviceNotFound
	case err != nil:
		return nil, fmt.Errorf("reading device %s: %w", id, err)
	}
	return d, nil
}

// List returns every device ordered by name, then id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevices+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Create inserts device, filling zero timestamps with the current time.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, insertDevice,
		device.ID, device.DeviceID, nullIfEmpty(device.CID), device.Name,
		device.Host, device.LocalKey, device.Type,
		stamp(device.CreatedAt), stamp(device.UpdatedAt),
	)
	if isConstraintViolation(err) {
		return ErrDeviceExists
	}
	if err != nil {
		return fmt.Errorf("creating device %s: %w", device.ID, err)
	}
	return nil
}

// Update rewrites every column except created_at.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = time.Now().UTC()
	return r.exec(ctx, "updating device", updateDevice,
		device.DeviceID, nullIfEmpty(device.CID), device.Name,
		device.Host, device.LocalKey, device.Type,
		stamp(device.UpdatedAt), device.ID,
	)
}

func (r *SQLiteRepository) UpdateType(ctx context.Context, id, deviceType string) error {
	return r.exec(ctx, "storing device type",
		`UPDATE devices SET type = ?, updated_at = ? WHERE id = ?`,
		deviceType, stamp(time.Now()), id,
	)
}

// Delete removes the device; its state history cascades.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting device", `DELETE FROM devices WHERE id = ?`, id)
}

// exec runs a single-device write, mapping zero affected rows to
// ErrDeviceNotFound.
func (r *SQLiteRepository) exec(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var (
		d                Device
		cid              sql.NullString
		created, updated string
	)
	if err := s.Scan(&d.ID, &d.DeviceID, &cid, &d.Name, &d.Host, &d.LocalKey, &d.Type, &created, &updated); err != nil {
		return nil, err
	}
	d.CID = cid.String

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, fmt.Errorf("device %s created_at: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return nil, fmt.Errorf("device %s updated_at: %w", d.ID, err)
	}
	return &d, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// nullIfEmpty stores a missing sub-device id as NULL.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isConstraintViolation reports a duplicate primary key or unique value.
func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
