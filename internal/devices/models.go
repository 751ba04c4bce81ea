package devices

import (
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/store"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

type Device struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Address    string        `json:"address"`
	Port       int           `json:"port"`
	Username   string        `json:"username"`
	Timeout    time.Duration `json:"timeout"`
	IsActive   bool          `json:"is_active"`
	Status     Status        `json:"status"`
	LastSeenAt *time.Time    `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type CreateDeviceRequest struct {
	Name     string
	Address  string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

type UpdateCredentialsRequest struct {
	Address  string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func toDevice(d store.Device) *Device {
	result := &Device{
		ID:        d.ID,
		Name:      d.Name,
		Address:   d.Address,
		Port:      int(d.Port),
		Username:  d.Username,
		Timeout:   time.Duration(d.TimeoutMs) * time.Millisecond,
		IsActive:  d.IsActive,
		Status:    Status(d.Status),
		CreatedAt: d.CreatedAt.Time,
		UpdatedAt: d.UpdatedAt.Time,
	}
	if d.LastSeenAt.Valid {
		t := d.LastSeenAt.Time
		result.LastSeenAt = &t
	}
	return result
}
