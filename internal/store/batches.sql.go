package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const batchColumns = `id, device_id, profile_id, name, charset, length, prefix, suffix, generation_mode,
	password_mode, requested, total_generated, comment, created_at, updated_at`

const insertBatch = `INSERT INTO voucher_batches
	(device_id, profile_id, name, charset, length, prefix, suffix, generation_mode, password_mode, requested, comment)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + batchColumns

type InsertBatchParams struct {
	DeviceID       int64
	ProfileID      pgtype.Int8
	Name           string
	Charset        string
	Length         int32
	Prefix         string
	Suffix         string
	GenerationMode string
	PasswordMode   string
	Requested      int32
	Comment        string
}

func (q *Queries) InsertBatch(ctx context.Context, arg InsertBatchParams) (VoucherBatch, error) {
	rows, err := q.db.Query(ctx, insertBatch,
		arg.DeviceID, arg.ProfileID, arg.Name, arg.Charset, arg.Length, arg.Prefix, arg.Suffix,
		arg.GenerationMode, arg.PasswordMode, arg.Requested, arg.Comment)
	if err != nil {
		return VoucherBatch{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[VoucherBatch])
}

const setBatchTotal = `UPDATE voucher_batches SET total_generated = $2, updated_at = NOW() WHERE id = $1
RETURNING ` + batchColumns

func (q *Queries) SetBatchTotal(ctx context.Context, id int64, total int32) (VoucherBatch, error) {
	rows, err := q.db.Query(ctx, setBatchTotal, id, total)
	if err != nil {
		return VoucherBatch{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[VoucherBatch])
}

const getBatch = `SELECT ` + batchColumns + ` FROM voucher_batches WHERE id = $1`

func (q *Queries) GetBatch(ctx context.Context, id int64) (VoucherBatch, error) {
	rows, err := q.db.Query(ctx, getBatch, id)
	if err != nil {
		return VoucherBatch{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[VoucherBatch])
}

const deleteBatch = `DELETE FROM voucher_batches WHERE id = $1`

func (q *Queries) DeleteBatch(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deleteBatch, id)
	return err
}
