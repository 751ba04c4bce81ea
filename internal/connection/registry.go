package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIdleTimeout    = 10 * time.Minute

	cleanupInterval     = 30 * time.Second
	statusUpdateTimeout = 5 * time.Second
)

// DeviceSource resolves device credentials and records connection outcomes.
type DeviceSource interface {
	ConnectionConfig(ctx context.Context, deviceID int64) (routeros.Config, error)
	RecordConnection(ctx context.Context, deviceID int64, status devices.Status, at time.Time) error
}

type Config struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// IdleTimeout closes sessions nobody holds or used for this long. Zero
	// disables idle eviction; dead sessions are always swept.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type DeviceConnection struct {
	DeviceID    int64
	Address     string
	Session     routeros.Session
	ConnectedAt time.Time
	LastUsed    time.Time
	holds       int
}

// Registry keeps at most one live session per device.
type Registry struct {
	conns  map[int64]*DeviceConnection
	mu     sync.RWMutex
	group  singleflight.Group
	source DeviceSource
	dial   routeros.Dialer
	cfg    Config
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRegistry(source DeviceSource, dial routeros.Dialer, cfg Config) *Registry {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	r := &Registry{
		conns:  make(map[int64]*DeviceConnection),
		source: source,
		dial:   dial,
		cfg:    cfg,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go r.cleanupStaleConnections()
	return r
}

// Acquire returns the cached session for deviceID or connects a new one.
// Concurrent callers for the same uncached device share one attempt.
func (r *Registry) Acquire(ctx context.Context, deviceID int64) (routeros.Session, error) {
	if s, ok := r.cached(deviceID); ok {
		return s, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(deviceID, 10), func() (interface{}, error) {
		if s, ok := r.cached(deviceID); ok {
			return s, nil
		}
		return r.connect(ctx, deviceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(routeros.Session), nil
}

// Reconnect drops the current session, if any, and connects again.
func (r *Registry) Reconnect(ctx context.Context, deviceID int64) (routeros.Session, error) {
	r.Evict(deviceID)
	return r.Acquire(ctx, deviceID)
}

func (r *Registry) cached(deviceID int64) (routeros.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[deviceID]
	if !ok {
		return nil, false
	}
	if err := conn.Session.Err(); err != nil {
		slog.Warn("Cached device session is dead, discarding", "device_id", deviceID, "error", err)
		delete(r.conns, deviceID)
		_ = conn.Session.Close()
		return nil, false
	}
	conn.LastUsed = r.now()
	return conn.Session, true
}

func (r *Registry) connect(ctx context.Context, deviceID int64) (routeros.Session, error) {
	cfg, err := r.source.ConnectionConfig(ctx, deviceID)
	if err != nil {
		if errors.Is(err, routeros.ErrConfiguration) {
			r.recordStatus(deviceID, devices.StatusError)
		}
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ConnectTimeout)
	defer cancel()

	session, err := r.dial(connectCtx, cfg)
	if err != nil {
		status := devices.StatusOffline
		if errors.Is(err, routeros.ErrConfiguration) {
			status = devices.StatusError
		}
		r.recordStatus(deviceID, status)
		slog.Warn("Device connection failed",
			"device_id", deviceID,
			"address", cfg.HostPort(),
			"error", err)
		return nil, fmt.Errorf("connect to device %d: %w", deviceID, err)
	}

	now := r.now()
	r.mu.Lock()
	if existing, ok := r.conns[deviceID]; ok {
		slog.Warn("Device already connected, replacing session", "device_id", deviceID)
		_ = existing.Session.Close()
	}
	r.conns[deviceID] = &DeviceConnection{
		DeviceID:    deviceID,
		Address:     cfg.HostPort(),
		Session:     session,
		ConnectedAt: now,
		LastUsed:    now,
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.recordStatus(deviceID, devices.StatusOnline)
	slog.Info("Device connected",
		"device_id", deviceID,
		"address", cfg.HostPort(),
		"total_connections", total)

	return session, nil
}

func (r *Registry) recordStatus(deviceID int64, status devices.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
	defer cancel()
	if err := r.source.RecordConnection(ctx, deviceID, status, r.now()); err != nil {
		slog.Debug("Failed to record device status", "device_id", deviceID, "status", status, "error", err)
	}
}

// Evict closes and forgets the session of deviceID. It is a no-op for
// unknown devices.
func (r *Registry) Evict(deviceID int64) {
	r.mu.Lock()
	conn, ok := r.conns[deviceID]
	if ok {
		delete(r.conns, deviceID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.Session.Close(); err != nil {
		slog.Debug("Failed to close device session", "device_id", deviceID, "error", err)
	}
	slog.Info("Device session evicted", "device_id", deviceID, "total_connections", total)
}

// Hold marks the current session of deviceID as in use by a long-lived
// consumer such as a stream, exempting it from idle eviction.
func (r *Registry) Hold(deviceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[deviceID]; ok {
		conn.holds++
		conn.LastUsed = r.now()
	}
}

func (r *Registry) Release(deviceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[deviceID]; ok && conn.holds > 0 {
		conn.holds--
		conn.LastUsed = r.now()
	}
}

func (r *Registry) GetConnection(deviceID int64) (DeviceConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[deviceID]
	if !ok {
		return DeviceConnection{}, false
	}
	return *conn, true
}

func (r *Registry) ListConnections() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int64]*DeviceConnection)
	r.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Session.Close(); err != nil {
			slog.Error("Failed to close device session during shutdown", "device_id", id, "error", err)
		}
	}
	slog.Info("Connection registry stopped", "closed", len(conns))
}

func (r *Registry) cleanupStaleConnections() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.removeStaleConnections()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) removeStaleConnections() {
	r.mu.Lock()
	now := r.now()
	var stale []*DeviceConnection
	for id, conn := range r.conns {
		dead := conn.Session.Err() != nil
		idle := r.cfg.IdleTimeout > 0 && conn.holds == 0 && now.Sub(conn.LastUsed) > r.cfg.IdleTimeout
		if dead || idle {
			slog.Warn("Removing stale device session",
				"device_id", id,
				"last_used", conn.LastUsed,
				"dead", dead)
			stale = append(stale, conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, conn := range stale {
		_ = conn.Session.Close()
	}
}
