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
	"github.com/stretchr/testify/mock"
)

type mockDevices struct{ mock.Mock }

func (m *mockDevices) CreateDevice(ctx context.Context, req devices.CreateDeviceRequest) (*devices.Device, error) {
	args := m.Called(ctx, req)
	d, _ := args.Get(0).(*devices.Device)
	return d, args.Error(1)
}

func (m *mockDevices) GetDevice(ctx context.Context, id int64) (*devices.Device, error) {
	args := m.Called(ctx, id)
	d, _ := args.Get(0).(*devices.Device)
	return d, args.Error(1)
}

func (m *mockDevices) ListDevices(ctx context.Context) ([]devices.Device, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]devices.Device)
	return list, args.Error(1)
}

func (m *mockDevices) UpdateCredentials(ctx context.Context, id int64, req devices.UpdateCredentialsRequest) error {
	return m.Called(ctx, id, req).Error(0)
}

func (m *mockDevices) SetActive(ctx context.Context, id int64, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

type mockSync struct{ mock.Mock }

func (m *mockSync) Initialize(ctx context.Context, deviceID int64, service routeros.Service) error {
	return m.Called(ctx, deviceID, service).Error(0)
}

func (m *mockSync) InitializeDevice(ctx context.Context, deviceID int64) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *mockSync) Refresh(ctx context.Context, deviceID int64, service routeros.Service) error {
	return m.Called(ctx, deviceID, service).Error(0)
}

func (m *mockSync) RefreshDevice(ctx context.Context, deviceID int64) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *mockSync) Stop(deviceID int64) {
	m.Called(deviceID)
}

func (m *mockSync) Stats(ctx context.Context, deviceID int64, service routeros.Service) (reconcile.Stats, error) {
	args := m.Called(ctx, deviceID, service)
	return args.Get(0).(reconcile.Stats), args.Error(1)
}

func (m *mockSync) SearchActive(ctx context.Context, deviceID int64, service routeros.Service, term string, limit int) []statestore.UserRecord {
	return m.Called(ctx, deviceID, service, term, limit).Get(0).([]statestore.UserRecord)
}

func (m *mockSync) SearchInactive(ctx context.Context, deviceID int64, service routeros.Service, term string, limit int) []statestore.UserRecord {
	return m.Called(ctx, deviceID, service, term, limit).Get(0).([]statestore.UserRecord)
}

type mockConnections struct{ mock.Mock }

func (m *mockConnections) Evict(deviceID int64) {
	m.Called(deviceID)
}

func (m *mockConnections) ListConnections() []int64 {
	return m.Called().Get(0).([]int64)
}

func (m *mockConnections) GetConnection(deviceID int64) (connection.DeviceConnection, bool) {
	args := m.Called(deviceID)
	return args.Get(0).(connection.DeviceConnection), args.Bool(1)
}

type mockProvisioner struct{ mock.Mock }

func (m *mockProvisioner) CreateProfile(ctx context.Context, deviceID int64, p provisioning.ProfilePayload) (*provisioning.Entity, error) {
	args := m.Called(ctx, deviceID, p)
	e, _ := args.Get(0).(*provisioning.Entity)
	return e, args.Error(1)
}

func (m *mockProvisioner) CreateUser(ctx context.Context, deviceID int64, p provisioning.UserPayload) (*provisioning.Entity, error) {
	args := m.Called(ctx, deviceID, p)
	e, _ := args.Get(0).(*provisioning.Entity)
	return e, args.Error(1)
}

func (m *mockProvisioner) UpdateProfile(ctx context.Context, id int64, p provisioning.ProfilePayload) (*provisioning.Entity, provisioning.DeviceResult, error) {
	args := m.Called(ctx, id, p)
	e, _ := args.Get(0).(*provisioning.Entity)
	return e, args.Get(1).(provisioning.DeviceResult), args.Error(2)
}

func (m *mockProvisioner) UpdateUser(ctx context.Context, id int64, p provisioning.UserPayload) (*provisioning.Entity, provisioning.DeviceResult, error) {
	args := m.Called(ctx, id, p)
	e, _ := args.Get(0).(*provisioning.Entity)
	return e, args.Get(1).(provisioning.DeviceResult), args.Error(2)
}

func (m *mockProvisioner) DeleteEntity(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProvisioner) GetEntity(ctx context.Context, id int64) (*provisioning.Entity, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*provisioning.Entity)
	return e, args.Error(1)
}

func (m *mockProvisioner) ListEntities(ctx context.Context, deviceID int64, kind provisioning.Kind) ([]*provisioning.Entity, error) {
	args := m.Called(ctx, deviceID, kind)
	list, _ := args.Get(0).([]*provisioning.Entity)
	return list, args.Error(1)
}

type mockVouchers struct{ mock.Mock }

func (m *mockVouchers) CreateVoucher(ctx context.Context, deviceID int64, req voucher.CreateVoucherRequest) (*voucher.Voucher, error) {
	args := m.Called(ctx, deviceID, req)
	v, _ := args.Get(0).(*voucher.Voucher)
	return v, args.Error(1)
}

func (m *mockVouchers) CreateBatch(ctx context.Context, deviceID int64, req voucher.CreateBatchRequest) (*voucher.BatchResult, error) {
	args := m.Called(ctx, deviceID, req)
	r, _ := args.Get(0).(*voucher.BatchResult)
	return r, args.Error(1)
}

func (m *mockVouchers) DeleteVoucher(ctx context.Context, deviceID, id int64) error {
	return m.Called(ctx, deviceID, id).Error(0)
}

func (m *mockVouchers) DeleteBatch(ctx context.Context, deviceID, batchID int64) error {
	return m.Called(ctx, deviceID, batchID).Error(0)
}

func (m *mockVouchers) ListBatchVouchers(ctx context.Context, deviceID, batchID int64) ([]*voucher.Voucher, error) {
	args := m.Called(ctx, deviceID, batchID)
	list, _ := args.Get(0).([]*voucher.Voucher)
	return list, args.Error(1)
}

func (m *mockVouchers) CleanupExpired(ctx context.Context, deviceID int64) (*voucher.CleanupResult, error) {
	args := m.Called(ctx, deviceID)
	r, _ := args.Get(0).(*voucher.CleanupResult)
	return r, args.Error(1)
}

func (m *mockVouchers) Stats(ctx context.Context, deviceID int64) (*voucher.Stats, error) {
	args := m.Called(ctx, deviceID)
	s, _ := args.Get(0).(*voucher.Stats)
	return s, args.Error(1)
}

func (m *mockVouchers) Login(ctx context.Context, deviceID int64, username string) (*voucher.Voucher, error) {
	args := m.Called(ctx, deviceID, username)
	v, _ := args.Get(0).(*voucher.Voucher)
	return v, args.Error(1)
}

func (m *mockVouchers) Logout(ctx context.Context, deviceID int64, username string, usage voucher.Usage) (*voucher.UsageReport, error) {
	args := m.Called(ctx, deviceID, username, usage)
	r, _ := args.Get(0).(*voucher.UsageReport)
	return r, args.Error(1)
}
