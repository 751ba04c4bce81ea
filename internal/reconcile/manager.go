package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/queue"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"github.com/google/uuid"
)

// DeviceSource lists devices and reports whether one is still active.
// devices.Service implements it.
type DeviceSource interface {
	DeviceChecker
	ListActiveDevices(ctx context.Context) ([]devices.Device, error)
}

type Stats struct {
	statestore.Stats
	DeviceID    int64            `json:"device_id"`
	Service     routeros.Service `json:"service"`
	State       State            `json:"state"`
	QueueDepth  int64            `json:"queue_depth"`
	IsStreaming bool             `json:"is_streaming"`
}

type syncerKey struct {
	deviceID int64
	service  routeros.Service
}

// Manager owns one Syncer per device and service and routes queued
// reconciliation jobs to them.
type Manager struct {
	cfg      Config
	owner    string
	sessions Sessions
	devices  DeviceSource
	store    *statestore.Store
	queue    *queue.Queue
	reporter StatusReporter

	mu      sync.Mutex
	syncers map[syncerKey]*Syncer
}

func NewManager(cfg Config, sessions Sessions, deviceSource DeviceSource, store *statestore.Store, q *queue.Queue, reporter StatusReporter) *Manager {
	host, _ := os.Hostname()
	m := &Manager{
		cfg:      cfg.withDefaults(),
		owner:    fmt.Sprintf("%s-%s", host, uuid.NewString()),
		sessions: sessions,
		devices:  deviceSource,
		store:    store,
		queue:    q,
		reporter: reporter,
		syncers:  make(map[syncerKey]*Syncer),
	}
	q.Handle(JobUserEvent, m.HandleJob)
	return m
}

func (m *Manager) syncer(deviceID int64, service routeros.Service) *Syncer {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := syncerKey{deviceID: deviceID, service: service}
	if s, ok := m.syncers[key]; ok {
		return s
	}
	s := &Syncer{
		deviceID: deviceID,
		service:  service,
		cfg:      m.cfg,
		owner:    m.owner,
		sessions: m.sessions,
		devices:  m.devices,
		store:    m.store,
		jobs:     m.queue,
		reporter: m.reporter,
		now:      time.Now,
		rand:     rand.Float64,
		state:    StateUninitialized,
	}
	m.syncers[key] = s
	return s
}

func (m *Manager) existing(deviceID int64, service routeros.Service) (*Syncer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncers[syncerKey{deviceID: deviceID, service: service}]
	return s, ok
}

// Initialize performs the first full sync, starts streaming and arms the
// periodic resync. It is idempotent.
func (m *Manager) Initialize(ctx context.Context, deviceID int64, service routeros.Service) error {
	return m.syncer(deviceID, service).Start(ctx)
}

// InitializeAll starts every configured service on every active device.
// Failures are logged and returned joined; other devices still start.
func (m *Manager) InitializeAll(ctx context.Context) error {
	list, err := m.devices.ListActiveDevices(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, d := range list {
		for _, name := range m.cfg.Services {
			service, err := routeros.ParseService(name)
			if err != nil {
				return err
			}
			if err := m.Initialize(ctx, d.ID, service); err != nil {
				slog.Error("Failed to initialize device sync",
					"device_id", d.ID,
					"service", service,
					"error", err)
				errs = append(errs, err)
			}
		}
	}
	slog.Info("Device sync initialized for active devices", "devices", len(list), "failed", len(errs))
	return errors.Join(errs...)
}

// InitializeDevice initializes every configured service of one device.
func (m *Manager) InitializeDevice(ctx context.Context, deviceID int64) error {
	return m.eachService(func(service routeros.Service) error {
		return m.Initialize(ctx, deviceID, service)
	})
}

// RefreshDevice forces a full sync of every configured service of one device.
func (m *Manager) RefreshDevice(ctx context.Context, deviceID int64) error {
	return m.eachService(func(service routeros.Service) error {
		return m.Refresh(ctx, deviceID, service)
	})
}

func (m *Manager) eachService(fn func(routeros.Service) error) error {
	var errs []error
	for _, name := range m.cfg.Services {
		service, err := routeros.ParseService(name)
		if err != nil {
			return err
		}
		if err := fn(service); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh forces a full sync, initializing the syncer first if needed.
func (m *Manager) Refresh(ctx context.Context, deviceID int64, service routeros.Service) error {
	return m.syncer(deviceID, service).Refresh(ctx)
}

// Stop tears down every syncer of deviceID.
func (m *Manager) Stop(deviceID int64) {
	m.mu.Lock()
	var stopping []*Syncer
	for key, s := range m.syncers {
		if key.deviceID == deviceID {
			stopping = append(stopping, s)
			delete(m.syncers, key)
		}
	}
	m.mu.Unlock()

	for _, s := range stopping {
		s.Stop()
	}
	if len(stopping) > 0 {
		slog.Info("Device sync stopped", "device_id", deviceID)
	}
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	all := m.syncers
	m.syncers = make(map[syncerKey]*Syncer)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Syncer) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
	slog.Info("All device syncers stopped", "count", len(all))
}

func (m *Manager) State(deviceID int64, service routeros.Service) State {
	if s, ok := m.existing(deviceID, service); ok {
		return s.State()
	}
	return StateUninitialized
}

func (m *Manager) Stats(ctx context.Context, deviceID int64, service routeros.Service) (Stats, error) {
	st, err := m.store.Stats(ctx, deviceID, service)
	if err != nil {
		return Stats{}, err
	}
	depth, err := m.queue.Depth(ctx)
	if err != nil {
		slog.Warn("Failed to read queue depth", "error", err)
	}

	state := m.State(deviceID, service)
	return Stats{
		Stats:       st,
		DeviceID:    deviceID,
		Service:     service,
		State:       state,
		QueueDepth:  depth,
		IsStreaming: state == StateListening,
	}, nil
}

// SearchActive reads the mirror only. Cache failures degrade to an empty
// result.
func (m *Manager) SearchActive(ctx context.Context, deviceID int64, service routeros.Service, term string, limit int) []statestore.UserRecord {
	users, err := m.store.SearchActive(ctx, deviceID, service, term, limit)
	if err != nil {
		slog.Warn("Active user search degraded to empty result", "device_id", deviceID, "service", service, "error", err)
		return []statestore.UserRecord{}
	}
	return users
}

func (m *Manager) SearchInactive(ctx context.Context, deviceID int64, service routeros.Service, term string, limit int) []statestore.UserRecord {
	users, err := m.store.SearchInactive(ctx, deviceID, service, term, limit)
	if err != nil {
		slog.Warn("Inactive user search degraded to empty result", "device_id", deviceID, "service", service, "error", err)
		return []statestore.UserRecord{}
	}
	return users
}

// HandleJob is the queue handler for JobUserEvent.
func (m *Manager) HandleJob(ctx context.Context, job *queue.Job) error {
	var ev UserEvent
	if err := job.Decode(&ev); err != nil {
		return fmt.Errorf("decode user event: %w", err)
	}

	err := m.syncer(ev.DeviceID, ev.Service).ProcessEvent(ctx, ev)
	if errors.Is(err, devices.ErrDeviceInactive) || errors.Is(err, devices.ErrDeviceNotFound) {
		slog.Info("Dropping event for unavailable device", "device_id", ev.DeviceID, "username", ev.Username)
		return nil
	}
	return err
}
