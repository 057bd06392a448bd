// Package sqlstore is the embedded document-store backend: pure-Go SQLite
// with the devices table managed by migrations and per-modem-type record and
// raw-frame tables created on demand. Record documents are stored as JSON
// text; the (ts_ms, imei) primary key makes inserts idempotent.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/store"
)

type SQLStore struct {
	db *sql.DB

	// ensured tracks which per-type table pairs exist already.
	ensureMu sync.Mutex
	ensured  map[string]bool
}

var _ store.Store = (*SQLStore)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &SQLStore{db: db, ensured: make(map[string]bool)}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }

// DB exposes the underlying handle for the migrate CLI.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) CreateDevice(ctx context.Context, d *avl.Device) error {
	if d.ModemType == "" {
		d.ModemType = avl.DefaultModemType
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (imei, approved, modem_type, car_brand, car_model, plate_number, vin, notes, poll_command, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(imei) DO NOTHING`,
		d.IMEI, boolInt(d.Approved), d.ModemType, d.CarBrand, d.CarModel, d.PlateNumber,
		d.VIN, d.Notes, d.PollCommand, d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create device %s: %w", d.IMEI, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrExists
	}
	return nil
}

const deviceColumns = `imei, approved, modem_type, car_brand, car_model, plate_number, vin, notes, poll_command, created_at_ms, updated_at_ms, last_seen_ms`

func (s *SQLStore) GetDevice(ctx context.Context, imei string) (*avl.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE imei = ?`, imei)
	return scanDevice(row)
}

func (s *SQLStore) ListDevices(ctx context.Context) ([]avl.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		ORDER BY last_seen_ms IS NULL, last_seen_ms DESC, imei`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []avl.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (s *SQLStore) UpdateDevice(ctx context.Context, imei string, upd store.DeviceUpdate) (*avl.Device, error) {
	set := "updated_at_ms = ?"
	args := []any{time.Now().UnixMilli()}
	appendSet := func(column string, v *string) {
		if v != nil {
			set += ", " + column + " = ?"
			args = append(args, *v)
		}
	}
	appendSet("modem_type", upd.ModemType)
	appendSet("car_brand", upd.CarBrand)
	appendSet("car_model", upd.CarModel)
	appendSet("plate_number", upd.PlateNumber)
	appendSet("notes", upd.Notes)
	appendSet("poll_command", upd.PollCommand)
	args = append(args, imei)

	res, err := s.db.ExecContext(ctx, `UPDATE devices SET `+set+` WHERE imei = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update device %s: %w", imei, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetDevice(ctx, imei)
}

func (s *SQLStore) SetApproved(ctx context.Context, imei string, approved bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET approved = ?, updated_at_ms = ? WHERE imei = ?`,
		boolInt(approved), time.Now().UnixMilli(), imei)
	if err != nil {
		return fmt.Errorf("set approved %s: %w", imei, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetVIN(ctx context.Context, imei, vin string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET vin = ?, updated_at_ms = ? WHERE imei = ? AND vin = ''`,
		vin, time.Now().UnixMilli(), imei)
	if err != nil {
		return fmt.Errorf("set vin %s: %w", imei, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Either the device already has a VIN (first write wins) or it does not
	// exist at all.
	_, err = s.GetDevice(ctx, imei)
	return err
}

func (s *SQLStore) TouchDevice(ctx context.Context, imei string, seenAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_ms = ? WHERE imei = ?`,
		seenAt.UnixMilli(), imei)
	if err != nil {
		return fmt.Errorf("touch device %s: %w", imei, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteDevice(ctx context.Context, imei string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE imei = ?`, imei)
	if err != nil {
		return fmt.Errorf("delete device %s: %w", imei, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// deviceRow covers both sql.Row and sql.Rows.
type deviceRow interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceRow) (*avl.Device, error) {
	var d avl.Device
	var approved int
	var createdMs, updatedMs int64
	var lastSeenMs sql.NullInt64
	err := row.Scan(&d.IMEI, &approved, &d.ModemType, &d.CarBrand, &d.CarModel,
		&d.PlateNumber, &d.VIN, &d.Notes, &d.PollCommand, &createdMs, &updatedMs, &lastSeenMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.Approved = approved != 0
	d.CreatedAt = avl.TimeFromMillis(createdMs)
	d.UpdatedAt = avl.TimeFromMillis(updatedMs)
	if lastSeenMs.Valid {
		seen := avl.TimeFromMillis(lastSeenMs.Int64)
		d.LastSeenAt = &seen
	}
	return &d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
