package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// Device is one stored connection profile.
type Device struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

const upsertDeviceSQL = `
	INSERT INTO devices (name, host, port, username, password, updated_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(name) DO UPDATE SET
		host = excluded.host,
		port = excluded.port,
		username = excluded.username,
		password = excluded.password,
		updated_at = CURRENT_TIMESTAMP
`

// PutDevice inserts or updates a profile by name. The password is
// encrypted before it reaches the database.
func (s *Store) PutDevice(ctx context.Context, d Device) error {
	if d.Name == "" {
		return fmt.Errorf("store: device name required")
	}
	encrypted, err := encryptValue(s.key, d.Password)
	if err != nil {
		return fmt.Errorf("store: encrypt password for %q: %w", d.Name, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertDeviceSQL,
		d.Name, d.Host, d.Port, d.Username, encrypted); err != nil {
		return fmt.Errorf("store: put device %q: %w", d.Name, err)
	}
	return nil
}

// GetDevice loads one profile by name, decrypting its password.
func (s *Store) GetDevice(ctx context.Context, name string) (Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, host, port, username, password FROM devices WHERE name = ?`, name)

	var d Device
	var encrypted string
	if err := row.Scan(&d.Name, &d.Host, &d.Port, &d.Username, &encrypted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, NotFoundError{Entity: "device", Key: name}
		}
		return Device{}, fmt.Errorf("store: get device %q: %w", name, err)
	}

	password, err := decryptValue(s.key, encrypted)
	if err != nil {
		return Device{}, fmt.Errorf("store: device %q: %w", name, err)
	}
	d.Password = password
	return d, nil
}

// ListDevices returns all profiles sorted by name, passwords omitted.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, host, port, username FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.Name, &d.Host, &d.Port, &d.Username); err != nil {
			return nil, fmt.Errorf("store: scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate devices: %w", err)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// DeleteDevice removes a profile by name.
func (s *Store) DeleteDevice(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: delete device %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete device %q: %w", name, err)
	}
	if affected == 0 {
		return NotFoundError{Entity: "device", Key: name}
	}
	return nil
}
