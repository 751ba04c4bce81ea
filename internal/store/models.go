package store

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Device struct {
	ID             int64              `db:"id"`
	Name           string             `db:"name"`
	Address        string             `db:"address"`
	Port           int32              `db:"port"`
	Username       string             `db:"username"`
	PasswordSealed []byte             `db:"password_sealed"`
	TimeoutMs      int32              `db:"timeout_ms"`
	IsActive       bool               `db:"is_active"`
	Status         string             `db:"status"`
	LastSeenAt     pgtype.Timestamptz `db:"last_seen_at"`
	CreatedAt      pgtype.Timestamptz `db:"created_at"`
	UpdatedAt      pgtype.Timestamptz `db:"updated_at"`
}

type ManagedEntity struct {
	ID           int64              `db:"id"`
	DeviceID     int64              `db:"device_id"`
	Kind         string             `db:"kind"`
	Name         string             `db:"name"`
	Attributes   []byte             `db:"attributes"`
	DeviceRef    pgtype.Text        `db:"device_ref"`
	Synchronized bool               `db:"synchronized"`
	Status       string             `db:"status"`
	CreatedAt    pgtype.Timestamptz `db:"created_at"`
	UpdatedAt    pgtype.Timestamptz `db:"updated_at"`
}

type VoucherBatch struct {
	ID             int64              `db:"id"`
	DeviceID       int64              `db:"device_id"`
	ProfileID      pgtype.Int8        `db:"profile_id"`
	Name           string             `db:"name"`
	Charset        string             `db:"charset"`
	Length         int32              `db:"length"`
	Prefix         string             `db:"prefix"`
	Suffix         string             `db:"suffix"`
	GenerationMode string             `db:"generation_mode"`
	PasswordMode   string             `db:"password_mode"`
	Requested      int32              `db:"requested"`
	TotalGenerated int32              `db:"total_generated"`
	Comment        string             `db:"comment"`
	CreatedAt      pgtype.Timestamptz `db:"created_at"`
	UpdatedAt      pgtype.Timestamptz `db:"updated_at"`
}

type Voucher struct {
	ID            int64              `db:"id"`
	DeviceID      int64              `db:"device_id"`
	BatchID       pgtype.Int8        `db:"batch_id"`
	ProfileID     pgtype.Int8        `db:"profile_id"`
	Username      string             `db:"username"`
	Password      string             `db:"password"`
	ProfileName   string             `db:"profile_name"`
	Server        string             `db:"server"`
	Comment       string             `db:"comment"`
	Validity      string             `db:"validity"`
	DeviceRef     pgtype.Text        `db:"device_ref"`
	Synchronized  bool               `db:"synchronized"`
	Status        string             `db:"status"`
	StartAt       pgtype.Timestamptz `db:"start_at"`
	EndAt         pgtype.Timestamptz `db:"end_at"`
	LastCheckedAt pgtype.Timestamptz `db:"last_checked_at"`
	BytesIn       int64              `db:"bytes_in"`
	BytesOut      int64              `db:"bytes_out"`
	UptimeSeconds int64              `db:"uptime_seconds"`
	Sessions      int32              `db:"sessions"`
	CreatedAt     pgtype.Timestamptz `db:"created_at"`
	UpdatedAt     pgtype.Timestamptz `db:"updated_at"`
}

type VoucherStatusCount struct {
	Status string `db:"status"`
	Count  int64  `db:"count"`
}
