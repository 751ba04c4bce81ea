package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const voucherColumns = `id, device_id, batch_id, profile_id, username, password, profile_name, server, comment,
	validity, device_ref, synchronized, status, start_at, end_at, last_checked_at, bytes_in, bytes_out,
	uptime_seconds, sessions, created_at, updated_at`

const insertVoucher = `INSERT INTO vouchers
	(device_id, batch_id, profile_id, username, password, profile_name, server, comment, validity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + voucherColumns

type InsertVoucherParams struct {
	DeviceID    int64
	BatchID     pgtype.Int8
	ProfileID   pgtype.Int8
	Username    string
	Password    string
	ProfileName string
	Server      string
	Comment     string
	Validity    string
}

func (q *Queries) InsertVoucher(ctx context.Context, arg InsertVoucherParams) (Voucher, error) {
	rows, err := q.db.Query(ctx, insertVoucher,
		arg.DeviceID, arg.BatchID, arg.ProfileID, arg.Username, arg.Password, arg.ProfileName,
		arg.Server, arg.Comment, arg.Validity)
	if err != nil {
		return Voucher{}, mapError(err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Voucher])
	return v, mapError(err)
}

const attachVoucherRef = `UPDATE vouchers SET device_ref = $2, synchronized = TRUE, updated_at = NOW() WHERE id = $1`

func (q *Queries) AttachVoucherRef(ctx context.Context, id int64, ref string) error {
	_, err := q.db.Exec(ctx, attachVoucherRef, id, ref)
	return err
}

const updateVoucher = `UPDATE vouchers
SET password = $2, profile_name = $3, server = $4, comment = $5, validity = $6, updated_at = NOW()
WHERE id = $1`

type UpdateVoucherParams struct {
	ID          int64
	Password    string
	ProfileName string
	Server      string
	Comment     string
	Validity    string
}

func (q *Queries) UpdateVoucher(ctx context.Context, arg UpdateVoucherParams) error {
	_, err := q.db.Exec(ctx, updateVoucher, arg.ID, arg.Password, arg.ProfileName, arg.Server, arg.Comment, arg.Validity)
	return err
}

const deleteVoucher = `DELETE FROM vouchers WHERE id = $1`

func (q *Queries) DeleteVoucher(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deleteVoucher, id)
	return err
}

const getVoucher = `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`

func (q *Queries) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	rows, err := q.db.Query(ctx, getVoucher, id)
	if err != nil {
		return Voucher{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Voucher])
}

const getVoucherByUsername = `SELECT ` + voucherColumns + ` FROM vouchers WHERE device_id = $1 AND username = $2`

func (q *Queries) GetVoucherByUsername(ctx context.Context, deviceID int64, username string) (Voucher, error) {
	rows, err := q.db.Query(ctx, getVoucherByUsername, deviceID, username)
	if err != nil {
		return Voucher{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Voucher])
}

const voucherExists = `SELECT EXISTS (SELECT 1 FROM vouchers WHERE device_id = $1 AND username = $2)`

func (q *Queries) VoucherExists(ctx context.Context, deviceID int64, username string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, voucherExists, deviceID, username).Scan(&exists)
	return exists, err
}

const activateVoucher = `UPDATE vouchers
SET status = 'active', start_at = $2, end_at = $3, last_checked_at = $2, sessions = sessions + 1, updated_at = NOW()
WHERE id = $1 AND status = 'unused'
RETURNING ` + voucherColumns

// ActivateVoucher moves an unused voucher to active. It returns
// pgx.ErrNoRows when the voucher is not unused.
func (q *Queries) ActivateVoucher(ctx context.Context, id int64, startAt, endAt time.Time) (Voucher, error) {
	rows, err := q.db.Query(ctx, activateVoucher, id, startAt, endAt)
	if err != nil {
		return Voucher{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Voucher])
}

const expireVoucher = `UPDATE vouchers SET status = 'expired', last_checked_at = $2, updated_at = NOW()
WHERE id = $1 AND status = 'active'`

// ExpireVoucher reports whether the voucher was active and is now expired.
func (q *Queries) ExpireVoucher(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, expireVoucher, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const markVoucherUsed = `UPDATE vouchers
SET status = 'used', last_checked_at = $2, bytes_in = bytes_in + $3, bytes_out = bytes_out + $4,
	uptime_seconds = uptime_seconds + $5, updated_at = NOW()
WHERE id = $1 AND status = 'active'
RETURNING ` + voucherColumns

type MarkVoucherUsedParams struct {
	ID            int64
	At            time.Time
	BytesIn       int64
	BytesOut      int64
	UptimeSeconds int64
}

func (q *Queries) MarkVoucherUsed(ctx context.Context, arg MarkVoucherUsedParams) (Voucher, error) {
	rows, err := q.db.Query(ctx, markVoucherUsed, arg.ID, arg.At, arg.BytesIn, arg.BytesOut, arg.UptimeSeconds)
	if err != nil {
		return Voucher{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Voucher])
}

const touchVoucherChecks = `UPDATE vouchers SET last_checked_at = $2 WHERE id = ANY($1) AND status = 'active'`

func (q *Queries) TouchVoucherChecks(ctx context.Context, ids []int64, at time.Time) error {
	_, err := q.db.Exec(ctx, touchVoucherChecks, ids, at)
	return err
}

type VoucherStatusRow struct {
	ID     int64  `db:"id"`
	Status string `db:"status"`
}

const voucherStatuses = `SELECT id, status FROM vouchers WHERE id = ANY($1)`

func (q *Queries) VoucherStatuses(ctx context.Context, ids []int64) ([]VoucherStatusRow, error) {
	rows, err := q.db.Query(ctx, voucherStatuses, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[VoucherStatusRow])
}

const listActiveVouchers = `SELECT ` + voucherColumns + ` FROM vouchers WHERE status = 'active' ORDER BY end_at`

func (q *Queries) ListActiveVouchers(ctx context.Context) ([]Voucher, error) {
	rows, err := q.db.Query(ctx, listActiveVouchers)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Voucher])
}

const listBatchVouchers = `SELECT ` + voucherColumns + ` FROM vouchers WHERE batch_id = $1 ORDER BY id`

func (q *Queries) ListBatchVouchers(ctx context.Context, batchID int64) ([]Voucher, error) {
	rows, err := q.db.Query(ctx, listBatchVouchers, batchID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Voucher])
}

const listVouchersByStatus = `SELECT ` + voucherColumns + ` FROM vouchers WHERE device_id = $1 AND status = $2 ORDER BY id`

func (q *Queries) ListVouchersByStatus(ctx context.Context, deviceID int64, status string) ([]Voucher, error) {
	rows, err := q.db.Query(ctx, listVouchersByStatus, deviceID, status)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Voucher])
}

const countVouchersByStatus = `SELECT status, COUNT(*) AS count FROM vouchers WHERE device_id = $1 GROUP BY status`

func (q *Queries) CountVouchersByStatus(ctx context.Context, deviceID int64) ([]VoucherStatusCount, error) {
	rows, err := q.db.Query(ctx, countVouchersByStatus, deviceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[VoucherStatusCount])
}
