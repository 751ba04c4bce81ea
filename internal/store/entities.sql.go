package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const entityColumns = `id, device_id, kind, name, attributes, device_ref, synchronized, status, created_at, updated_at`

const insertEntity = `INSERT INTO managed_entities (device_id, kind, name, attributes, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + entityColumns

type InsertEntityParams struct {
	DeviceID   int64
	Kind       string
	Name       string
	Attributes []byte
	Status     string
}

func (q *Queries) InsertEntity(ctx context.Context, arg InsertEntityParams) (ManagedEntity, error) {
	rows, err := q.db.Query(ctx, insertEntity, arg.DeviceID, arg.Kind, arg.Name, arg.Attributes, arg.Status)
	if err != nil {
		return ManagedEntity{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[ManagedEntity])
	return e, mapError(err)
}

const attachEntityRef = `UPDATE managed_entities
SET device_ref = $2, synchronized = TRUE, updated_at = NOW()
WHERE id = $1`

func (q *Queries) AttachEntityRef(ctx context.Context, id int64, ref string) error {
	_, err := q.db.Exec(ctx, attachEntityRef, id, ref)
	return err
}

const updateEntity = `UPDATE managed_entities
SET name = $2, attributes = $3, status = $4, updated_at = NOW()
WHERE id = $1
RETURNING ` + entityColumns

type UpdateEntityParams struct {
	ID         int64
	Name       string
	Attributes []byte
	Status     string
}

func (q *Queries) UpdateEntity(ctx context.Context, arg UpdateEntityParams) (ManagedEntity, error) {
	rows, err := q.db.Query(ctx, updateEntity, arg.ID, arg.Name, arg.Attributes, arg.Status)
	if err != nil {
		return ManagedEntity{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[ManagedEntity])
	return e, mapError(err)
}

const deleteEntity = `DELETE FROM managed_entities WHERE id = $1`

func (q *Queries) DeleteEntity(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deleteEntity, id)
	return err
}

const getEntity = `SELECT ` + entityColumns + ` FROM managed_entities WHERE id = $1`

func (q *Queries) GetEntity(ctx context.Context, id int64) (ManagedEntity, error) {
	rows, err := q.db.Query(ctx, getEntity, id)
	if err != nil {
		return ManagedEntity{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[ManagedEntity])
}

const listEntities = `SELECT ` + entityColumns + ` FROM managed_entities
WHERE device_id = $1 AND kind = $2
ORDER BY name`

func (q *Queries) ListEntities(ctx context.Context, deviceID int64, kind string) ([]ManagedEntity, error) {
	rows, err := q.db.Query(ctx, listEntities, deviceID, kind)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[ManagedEntity])
}
