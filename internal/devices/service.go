package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceInactive = errors.New("device is inactive")
	ErrCredentials    = errors.New("device credentials cannot be decrypted")
	ErrDeviceExists   = errors.New("device name already in use")
)

type Service struct {
	queries *store.Queries
	sealer  *Sealer
}

func NewService(queries *store.Queries, sealer *Sealer) *Service {
	return &Service{
		queries: queries,
		sealer:  sealer,
	}
}

func (s *Service) CreateDevice(ctx context.Context, req CreateDeviceRequest) (*Device, error) {
	cfg := routeros.Config{Address: req.Address, Port: req.Port, Username: req.Username, Password: req.Password}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", routeros.ErrConfiguration)
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, err
	}

	d, err := s.queries.CreateDevice(ctx, store.CreateDeviceParams{
		Name:           req.Name,
		Address:        req.Address,
		Port:           int32(portOrDefault(req.Port)),
		Username:       req.Username,
		PasswordSealed: sealed,
		TimeoutMs:      int32(timeoutOrDefault(req.Timeout) / time.Millisecond),
		IsActive:       true,
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ErrDeviceExists
		}
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	slog.Info("Device created", "device_id", d.ID, "name", d.Name, "address", d.Address)
	return toDevice(d), nil
}

func (s *Service) GetDevice(ctx context.Context, id int64) (*Device, error) {
	d, err := s.queries.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return toDevice(d), nil
}

func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.queries.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	result := make([]Device, len(rows))
	for i, d := range rows {
		result[i] = *toDevice(d)
	}
	return result, nil
}

func (s *Service) ListActiveDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.queries.ListActiveDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active devices: %w", err)
	}
	result := make([]Device, len(rows))
	for i, d := range rows {
		result[i] = *toDevice(d)
	}
	return result, nil
}

// IsActive reports whether the device exists and is enabled.
func (s *Service) IsActive(ctx context.Context, id int64) (bool, error) {
	d, err := s.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return false, nil
		}
		return false, err
	}
	return d.IsActive, nil
}

// ConnectionConfig resolves the stored credentials of an active device.
func (s *Service) ConnectionConfig(ctx context.Context, id int64) (routeros.Config, error) {
	d, err := s.queries.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return routeros.Config{}, ErrDeviceNotFound
		}
		return routeros.Config{}, fmt.Errorf("failed to get device: %w", err)
	}
	if !d.IsActive {
		return routeros.Config{}, ErrDeviceInactive
	}

	password, err := s.sealer.Open(d.PasswordSealed)
	if err != nil {
		return routeros.Config{}, fmt.Errorf("%w: %w", err, routeros.ErrConfiguration)
	}

	return routeros.Config{
		Address:  d.Address,
		Port:     int(d.Port),
		Username: d.Username,
		Password: password,
		Timeout:  time.Duration(d.TimeoutMs) * time.Millisecond,
	}, nil
}

// RecordConnection stores the outcome of a connection attempt.
func (s *Service) RecordConnection(ctx context.Context, id int64, status Status, at time.Time) error {
	params := store.UpdateDeviceStatusParams{ID: id, Status: string(status)}
	if status == StatusOnline {
		params.LastSeenAt = pgtype.Timestamptz{Time: at, Valid: true}
	}
	if err := s.queries.UpdateDeviceStatus(ctx, params); err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	slog.Debug("Device status updated", "device_id", id, "status", status)
	return nil
}

// UpdateCredentials replaces the connection settings. Callers must evict any
// cached session for the device afterwards.
func (s *Service) UpdateCredentials(ctx context.Context, id int64, req UpdateCredentialsRequest) error {
	cfg := routeros.Config{Address: req.Address, Port: req.Port, Username: req.Username, Password: req.Password}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := s.GetDevice(ctx, id); err != nil {
		return err
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return err
	}
	if err := s.queries.UpdateDeviceCredentials(ctx, store.UpdateDeviceCredentialsParams{
		ID:             id,
		Address:        req.Address,
		Port:           int32(portOrDefault(req.Port)),
		Username:       req.Username,
		PasswordSealed: sealed,
		TimeoutMs:      int32(timeoutOrDefault(req.Timeout) / time.Millisecond),
	}); err != nil {
		return fmt.Errorf("failed to update device credentials: %w", err)
	}

	slog.Info("Device credentials updated", "device_id", id)
	return nil
}

func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return err
	}
	if err := s.queries.SetDeviceActive(ctx, id, active); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	slog.Info("Device activation changed", "device_id", id, "is_active", active)
	return nil
}

func portOrDefault(port int) int {
	if port == 0 {
		return routeros.DefaultPort
	}
	return port
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return routeros.DefaultTimeout
	}
	return timeout
}
