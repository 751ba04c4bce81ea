package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const deviceColumns = `id, name, address, port, username, password_sealed, timeout_ms, is_active, status,
	last_seen_at, created_at, updated_at`

const createDevice = `INSERT INTO devices (name, address, port, username, password_sealed, timeout_ms, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + deviceColumns

type CreateDeviceParams struct {
	Name           string
	Address        string
	Port           int32
	Username       string
	PasswordSealed []byte
	TimeoutMs      int32
	IsActive       bool
}

func (q *Queries) CreateDevice(ctx context.Context, arg CreateDeviceParams) (Device, error) {
	rows, err := q.db.Query(ctx, createDevice,
		arg.Name, arg.Address, arg.Port, arg.Username, arg.PasswordSealed, arg.TimeoutMs, arg.IsActive)
	if err != nil {
		return Device{}, err
	}
	d, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Device])
	return d, mapError(err)
}

const getDevice = `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

func (q *Queries) GetDevice(ctx context.Context, id int64) (Device, error) {
	rows, err := q.db.Query(ctx, getDevice, id)
	if err != nil {
		return Device{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Device])
}

const listDevices = `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`

func (q *Queries) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := q.db.Query(ctx, listDevices)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Device])
}

const listActiveDevices = `SELECT ` + deviceColumns + ` FROM devices WHERE is_active ORDER BY id`

func (q *Queries) ListActiveDevices(ctx context.Context) ([]Device, error) {
	rows, err := q.db.Query(ctx, listActiveDevices)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Device])
}

const updateDeviceStatus = `UPDATE devices
SET status = $2, last_seen_at = COALESCE($3, last_seen_at), updated_at = NOW()
WHERE id = $1`

type UpdateDeviceStatusParams struct {
	ID         int64
	Status     string
	LastSeenAt pgtype.Timestamptz
}

func (q *Queries) UpdateDeviceStatus(ctx context.Context, arg UpdateDeviceStatusParams) error {
	_, err := q.db.Exec(ctx, updateDeviceStatus, arg.ID, arg.Status, arg.LastSeenAt)
	return err
}

const updateDeviceCredentials = `UPDATE devices
SET address = $2, port = $3, username = $4, password_sealed = $5, timeout_ms = $6, updated_at = NOW()
WHERE id = $1`

type UpdateDeviceCredentialsParams struct {
	ID             int64
	Address        string
	Port           int32
	Username       string
	PasswordSealed []byte
	TimeoutMs      int32
}

func (q *Queries) UpdateDeviceCredentials(ctx context.Context, arg UpdateDeviceCredentialsParams) error {
	_, err := q.db.Exec(ctx, updateDeviceCredentials,
		arg.ID, arg.Address, arg.Port, arg.Username, arg.PasswordSealed, arg.TimeoutMs)
	return err
}

const setDeviceActive = `UPDATE devices SET is_active = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) SetDeviceActive(ctx context.Context, id int64, active bool) error {
	_, err := q.db.Exec(ctx, setDeviceActive, id, active)
	return err
}

const deleteDevice = `DELETE FROM devices WHERE id = $1`

func (q *Queries) DeleteDevice(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deleteDevice, id)
	return err
}
