package handler

import (
	"context"

	"github.com/Butterfly-Student/MikroBill-API/internal/connection"
	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/Butterfly-Student/MikroBill-API/internal/reconcile"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"github.com/Butterfly-Student/MikroBill-API/internal/voucher"
)

type DeviceManager interface {
	CreateDevice(ctx context.Context, req devices.CreateDeviceRequest) (*devices.Device, error)
	GetDevice(ctx context.Context, id int64) (*devices.Device, error)
	ListDevices(ctx context.Context) ([]devices.Device, error)
	UpdateCredentials(ctx context.Context, id int64, req devices.UpdateCredentialsRequest) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// SessionEvicter drops the cached device session so the next call
// reconnects with fresh credentials.
type SessionEvicter interface {
	Evict(deviceID int64)
}

type ConnectionLister interface {
	ListConnections() []int64
	GetConnection(deviceID int64) (connection.DeviceConnection, bool)
}

type SyncManager interface {
	Initialize(ctx context.Context, deviceID int64, service routeros.Service) error
	InitializeDevice(ctx context.Context, deviceID int64) error
	Refresh(ctx context.Context, deviceID int64, service routeros.Service) error
	RefreshDevice(ctx context.Context, deviceID int64) error
	Stop(deviceID int64)
	Stats(ctx context.Context, deviceID int64, service routeros.Service) (reconcile.Stats, error)
	SearchActive(ctx context.Context, deviceID int64, service routeros.Service, term string, limit int) []statestore.UserRecord
	SearchInactive(ctx context.Context, deviceID int64, service routeros.Service, term string, limit int) []statestore.UserRecord
}

type Provisioner interface {
	CreateProfile(ctx context.Context, deviceID int64, p provisioning.ProfilePayload) (*provisioning.Entity, error)
	CreateUser(ctx context.Context, deviceID int64, p provisioning.UserPayload) (*provisioning.Entity, error)
	UpdateProfile(ctx context.Context, id int64, p provisioning.ProfilePayload) (*provisioning.Entity, provisioning.DeviceResult, error)
	UpdateUser(ctx context.Context, id int64, p provisioning.UserPayload) (*provisioning.Entity, provisioning.DeviceResult, error)
	DeleteEntity(ctx context.Context, id int64) error
	GetEntity(ctx context.Context, id int64) (*provisioning.Entity, error)
	ListEntities(ctx context.Context, deviceID int64, kind provisioning.Kind) ([]*provisioning.Entity, error)
}

type VoucherIssuer interface {
	CreateVoucher(ctx context.Context, deviceID int64, req voucher.CreateVoucherRequest) (*voucher.Voucher, error)
	CreateBatch(ctx context.Context, deviceID int64, req voucher.CreateBatchRequest) (*voucher.BatchResult, error)
	DeleteVoucher(ctx context.Context, deviceID, id int64) error
	DeleteBatch(ctx context.Context, deviceID, batchID int64) error
	ListBatchVouchers(ctx context.Context, deviceID, batchID int64) ([]*voucher.Voucher, error)
	CleanupExpired(ctx context.Context, deviceID int64) (*voucher.CleanupResult, error)
	Stats(ctx context.Context, deviceID int64) (*voucher.Stats, error)
}

// VoucherSessions turns hotspot login and logout notifications into voucher
// state changes.
type VoucherSessions interface {
	Login(ctx context.Context, deviceID int64, username string) (*voucher.Voucher, error)
	Logout(ctx context.Context, deviceID int64, username string, usage voucher.Usage) (*voucher.UsageReport, error)
}
