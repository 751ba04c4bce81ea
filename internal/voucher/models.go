package voucher

import (
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/jackc/pgx/v5/pgtype"
)

type Status string

const (
	StatusUnused  Status = "unused"
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

type Voucher struct {
	ID            int64      `json:"id"`
	DeviceID      int64      `json:"device_id"`
	BatchID       *int64     `json:"batch_id,omitempty"`
	ProfileID     *int64     `json:"profile_id,omitempty"`
	Username      string     `json:"username"`
	Password      string     `json:"password"`
	ProfileName   string     `json:"profile_name,omitempty"`
	Server        string     `json:"server,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	Validity      string     `json:"validity,omitempty"`
	DeviceRef     string     `json:"device_ref,omitempty"`
	Synchronized  bool       `json:"synchronized"`
	Status        Status     `json:"status"`
	StartAt       *time.Time `json:"start_at,omitempty"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	BytesIn       int64      `json:"bytes_in"`
	BytesOut      int64      `json:"bytes_out"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Sessions      int32      `json:"sessions"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Batch struct {
	ID             int64     `json:"id"`
	DeviceID       int64     `json:"device_id"`
	ProfileID      *int64    `json:"profile_id,omitempty"`
	Name           string    `json:"name"`
	Charset        string    `json:"charset"`
	Length         int32     `json:"length"`
	Prefix         string    `json:"prefix,omitempty"`
	Suffix         string    `json:"suffix,omitempty"`
	GenerationMode string    `json:"generation_mode"`
	PasswordMode   string    `json:"password_mode"`
	Requested      int32     `json:"requested"`
	TotalGenerated int32     `json:"total_generated"`
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Stats struct {
	Total   int64 `json:"total"`
	Unused  int64 `json:"unused"`
	Active  int64 `json:"active"`
	Used    int64 `json:"used"`
	Expired int64 `json:"expired"`
}

func voucherFromRow(row store.Voucher) *Voucher {
	return &Voucher{
		ID:            row.ID,
		DeviceID:      row.DeviceID,
		BatchID:       int8Ptr(row.BatchID),
		ProfileID:     int8Ptr(row.ProfileID),
		Username:      row.Username,
		Password:      row.Password,
		ProfileName:   row.ProfileName,
		Server:        row.Server,
		Comment:       row.Comment,
		Validity:      row.Validity,
		DeviceRef:     row.DeviceRef.String,
		Synchronized:  row.Synchronized,
		Status:        Status(row.Status),
		StartAt:       timePtr(row.StartAt),
		EndAt:         timePtr(row.EndAt),
		LastCheckedAt: timePtr(row.LastCheckedAt),
		BytesIn:       row.BytesIn,
		BytesOut:      row.BytesOut,
		UptimeSeconds: row.UptimeSeconds,
		Sessions:      row.Sessions,
		CreatedAt:     row.CreatedAt.Time,
	}
}

func batchFromRow(row store.VoucherBatch) *Batch {
	return &Batch{
		ID:             row.ID,
		DeviceID:       row.DeviceID,
		ProfileID:      int8Ptr(row.ProfileID),
		Name:           row.Name,
		Charset:        row.Charset,
		Length:         row.Length,
		Prefix:         row.Prefix,
		Suffix:         row.Suffix,
		GenerationMode: row.GenerationMode,
		PasswordMode:   row.PasswordMode,
		Requested:      row.Requested,
		TotalGenerated: row.TotalGenerated,
		Comment:        row.Comment,
		CreatedAt:      row.CreatedAt.Time,
	}
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
