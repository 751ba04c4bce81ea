package voucher

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/events"
	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/jackc/pgx/v5"
)

var (
	ErrVoucherNotUnused = errors.New("voucher is not unused")
	ErrVoucherNotActive = errors.New("voucher is not active")
	ErrInvalidValidity  = errors.New("invalid validity")
)

const (
	DefaultCheckInterval = time.Minute
	DefaultValidity      = time.Hour
)

var validityRe = regexp.MustCompile(`^(\d+)([dhm])$`)

// ParseValidity parses "<n>d", "<n>h" or "<n>m".
func ParseValidity(s string) (time.Duration, error) {
	m := validityRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValidity, s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValidity, s)
	}

	unit := time.Minute
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "h":
		unit = time.Hour
	}
	if n > int64((1<<63-1)/int64(unit)) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidValidity, s)
	}
	return time.Duration(n) * unit, nil
}

// FormatDuration renders d as "1d 2h 3m 4s", omitting zero units.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days, secs := secs/86400, secs%86400
	hours, secs := secs/3600, secs%3600
	mins, secs := secs/60, secs%60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	return strings.Join(parts, " ")
}

type SchedulerConfig struct {
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	DefaultValidity time.Duration `mapstructure:"default_validity"`
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.DefaultValidity <= 0 {
		c.DefaultValidity = DefaultValidity
	}
	return c
}

// Usage is what the hotspot reports when a voucher session ends.
type Usage struct {
	BytesIn  int64         `json:"bytes_in"`
	BytesOut int64         `json:"bytes_out"`
	Uptime   time.Duration `json:"uptime"`
}

type UsageReport struct {
	Voucher     *Voucher      `json:"voucher"`
	Elapsed     time.Duration `json:"elapsed"`
	ElapsedText string        `json:"elapsed_text"`
}

type armed struct {
	id       int64
	deviceID int64
	username string
	endAt    time.Time
	index    int
}

type expiryHeap []*armed

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].endAt.Before(h[j].endAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x interface{}) {
	a := x.(*armed)
	a.index = len(*h)
	*h = append(*h, a)
}

func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}

// Scheduler expires active vouchers once their validity has elapsed. All
// armed vouchers share one min-heap ordered by end time and one ticker.
type Scheduler struct {
	cfg       SchedulerConfig
	queries   Queries
	publisher events.Publisher
	now       func() time.Time

	mu    sync.Mutex
	queue expiryHeap
	byID  map[int64]*armed
}

func NewScheduler(cfg SchedulerConfig, queries Queries, publisher events.Publisher) *Scheduler {
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		queries:   queries,
		publisher: publisher,
		now:       time.Now,
		byID:      make(map[int64]*armed),
	}
}

// Login activates an unused voucher and arms its expiry.
func (s *Scheduler) Login(ctx context.Context, deviceID int64, username string) (*Voucher, error) {
	row, err := s.byUsername(ctx, deviceID, username)
	if err != nil {
		return nil, err
	}
	if Status(row.Status) != StatusUnused {
		return nil, fmt.Errorf("%w: %s is %s", ErrVoucherNotUnused, username, row.Status)
	}

	validity := s.validityOf(ctx, row)
	start := s.now()
	end := start.Add(validity)

	row, err = s.queries.ActivateVoucher(ctx, row.ID, start, end)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrVoucherNotUnused, username)
		}
		return nil, fmt.Errorf("failed to activate voucher: %w", err)
	}

	s.arm(row.ID, deviceID, username, end)
	slog.Info("Voucher activated",
		"device_id", deviceID,
		"username", username,
		"validity", validity,
		"end_at", end)

	events.Emit(ctx, s.publisher, events.Event{
		Type:     events.VoucherActivated,
		DeviceID: deviceID,
		Subject:  username,
		Payload:  map[string]interface{}{"voucher_id": row.ID, "end_at": end},
		At:       start,
	})
	return voucherFromRow(row), nil
}

// Logout marks an active voucher used, accumulating the reported usage.
func (s *Scheduler) Logout(ctx context.Context, deviceID int64, username string, usage Usage) (*UsageReport, error) {
	row, err := s.byUsername(ctx, deviceID, username)
	if err != nil {
		return nil, err
	}
	if Status(row.Status) != StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrVoucherNotActive, username, row.Status)
	}

	now := s.now()
	var elapsed time.Duration
	if row.StartAt.Valid {
		elapsed = now.Sub(row.StartAt.Time)
	}
	uptime := usage.Uptime
	if uptime <= 0 {
		uptime = elapsed
	}

	row, err = s.queries.MarkVoucherUsed(ctx, store.MarkVoucherUsedParams{
		ID:            row.ID,
		At:            now,
		BytesIn:       usage.BytesIn,
		BytesOut:      usage.BytesOut,
		UptimeSeconds: int64(uptime / time.Second),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrVoucherNotActive, username)
		}
		return nil, fmt.Errorf("failed to mark voucher used: %w", err)
	}
	s.disarm(row.ID)

	slog.Info("Voucher used", "device_id", deviceID, "username", username, "elapsed", elapsed)
	events.Emit(ctx, s.publisher, events.Event{
		Type:     events.VoucherUsed,
		DeviceID: deviceID,
		Subject:  username,
		Payload: map[string]interface{}{
			"voucher_id": row.ID,
			"bytes_in":   usage.BytesIn,
			"bytes_out":  usage.BytesOut,
			"uptime":     int64(uptime / time.Second),
		},
		At: now,
	})
	return &UsageReport{
		Voucher:     voucherFromRow(row),
		Elapsed:     elapsed,
		ElapsedText: FormatDuration(elapsed),
	}, nil
}

// Restore re-arms every voucher still active, typically at startup.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	list, err := s.queries.ListActiveVouchers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active vouchers: %w", err)
	}
	n := 0
	for _, row := range list {
		end := row.EndAt.Time
		if !row.EndAt.Valid {
			start := s.now()
			if row.StartAt.Valid {
				start = row.StartAt.Time
			}
			end = start.Add(s.validityOf(ctx, row))
		}
		s.arm(row.ID, row.DeviceID, row.Username, end)
		n++
	}
	slog.Info("Voucher expiry restored", "armed", n)
	return n, nil
}

// Run ticks every CheckInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	slog.Info("Voucher expiry scheduler started", "interval", s.cfg.CheckInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Voucher expiry scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("Voucher expiry check failed", "error", err)
			}
		}
	}
}

// Tick pops the vouchers whose end time has passed off the heap and expires
// them. Vouchers still running are stamped as checked; any voucher that left
// the active state elsewhere is disarmed.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	due, pending := s.split(now)
	if len(due) == 0 && len(pending) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(due)+len(pending))
	for _, a := range due {
		ids = append(ids, a.id)
	}
	for _, a := range pending {
		ids = append(ids, a.id)
	}
	rows, err := s.queries.VoucherStatuses(ctx, ids)
	if err != nil {
		for _, a := range due {
			s.rearm(a)
		}
		return fmt.Errorf("failed to load voucher statuses: %w", err)
	}
	statuses := make(map[int64]Status, len(rows))
	for _, r := range rows {
		statuses[r.ID] = Status(r.Status)
	}

	for _, a := range due {
		if statuses[a.id] != StatusActive {
			slog.Debug("Voucher left active state, disarmed", "voucher_id", a.id, "status", statuses[a.id])
			continue
		}
		s.expire(ctx, a, now)
	}

	var checked []int64
	for _, a := range pending {
		if statuses[a.id] != StatusActive {
			s.disarm(a.id)
			slog.Debug("Voucher left active state, disarmed", "voucher_id", a.id, "status", statuses[a.id])
			continue
		}
		checked = append(checked, a.id)
	}
	if len(checked) > 0 {
		if err := s.queries.TouchVoucherChecks(ctx, checked, now); err != nil {
			return fmt.Errorf("failed to record voucher checks: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) expire(ctx context.Context, a armed, now time.Time) {
	expired, err := s.queries.ExpireVoucher(ctx, a.id, now)
	if err != nil {
		slog.Error("Failed to expire voucher", "voucher_id", a.id, "username", a.username, "error", err)
		s.rearm(a)
		return
	}
	if !expired {
		return
	}
	slog.Info("Voucher expired", "device_id", a.deviceID, "username", a.username, "end_at", a.endAt)
	events.Emit(ctx, s.publisher, events.Event{
		Type:     events.VoucherExpired,
		DeviceID: a.deviceID,
		Subject:  a.username,
		Payload:  map[string]interface{}{"voucher_id": a.id, "end_at": a.endAt},
		At:       now,
	})
}

func (s *Scheduler) Armed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

func (s *Scheduler) arm(id, deviceID int64, username string, end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		a.endAt = end
		heap.Fix(&s.queue, a.index)
		return
	}
	a := &armed{id: id, deviceID: deviceID, username: username, endAt: end}
	heap.Push(&s.queue, a)
	s.byID[id] = a
}

func (s *Scheduler) disarm(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return
	}
	heap.Remove(&s.queue, a.index)
	delete(s.byID, id)
}

// rearm puts back a voucher popped by split unless it was armed again since.
func (s *Scheduler) rearm(a armed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.id]; ok {
		return
	}
	heap.Push(&s.queue, &a)
	s.byID[a.id] = &a
}

// split pops every voucher ending at or before now and copies the rest.
func (s *Scheduler) split(now time.Time) (due, pending []armed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 && !now.Before(s.queue[0].endAt) {
		a := heap.Pop(&s.queue).(*armed)
		delete(s.byID, a.id)
		due = append(due, *a)
	}
	pending = make([]armed, 0, len(s.queue))
	for _, a := range s.queue {
		pending = append(pending, *a)
	}
	return due, pending
}

func (s *Scheduler) byUsername(ctx context.Context, deviceID int64, username string) (store.Voucher, error) {
	row, err := s.queries.GetVoucherByUsername(ctx, deviceID, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Voucher{}, ErrVoucherNotFound
		}
		return store.Voucher{}, fmt.Errorf("failed to get voucher: %w", err)
	}
	return row, nil
}

// validityOf resolves the voucher's own validity, then its profile's, then
// the configured default.
func (s *Scheduler) validityOf(ctx context.Context, row store.Voucher) time.Duration {
	if d, err := ParseValidity(row.Validity); err == nil {
		return d
	}
	if row.ProfileID.Valid {
		p, err := loadProfile(ctx, s.queries, row.ProfileID.Int64)
		if err == nil {
			if d, err := ParseValidity(p.payload.Validity); err == nil {
				return d
			}
		} else {
			slog.Warn("Failed to load voucher profile, using default validity",
				"voucher_id", row.ID,
				"profile_id", row.ProfileID.Int64,
				"error", err)
		}
	}
	return s.cfg.DefaultValidity
}
