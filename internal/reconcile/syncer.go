package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/queue"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	ErrSyncInProgress = errors.New("full sync already running for this device")
	errStreamEnded    = errors.New("stream ended")
)

// Sessions hands out device sessions. connection.Registry implements it.
type Sessions interface {
	Acquire(ctx context.Context, deviceID int64) (routeros.Session, error)
	Reconnect(ctx context.Context, deviceID int64) (routeros.Session, error)
	Hold(deviceID int64)
	Release(deviceID int64)
}

type DeviceChecker interface {
	IsActive(ctx context.Context, deviceID int64) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, delay time.Duration) (*queue.Job, error)
}

// StatusReporter receives stream health per device and service. The gRPC
// health server implements it.
type StatusReporter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Syncer mirrors one service of one device into the state store.
type Syncer struct {
	deviceID int64
	service  routeros.Service
	cfg      Config
	owner    string

	sessions Sessions
	devices  DeviceChecker
	store    *statestore.Store
	jobs     Enqueuer
	reporter StatusReporter

	now  func() time.Time
	rand func() float64

	// syncMu keeps full syncs of this device and service from interleaving
	// within the process; the store lease covers other replicas.
	syncMu sync.Mutex

	mu       sync.Mutex
	state    State
	attempts int
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (s *Syncer) healthName() string {
	return fmt.Sprintf("device/%d/%s", s.deviceID, s.service)
}

func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.report(prev, state)
}

func (s *Syncer) report(prev, state State) {
	if prev == state {
		return
	}
	slog.Debug("Syncer state changed",
		"device_id", s.deviceID,
		"service", s.service,
		"from", prev,
		"to", state)

	if s.reporter != nil {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if state == StateListening {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.reporter.SetServingStatus(s.healthName(), status)
	}
}

// casState moves to next only if the current state is from.
func (s *Syncer) casState(from, next State) bool {
	s.mu.Lock()
	ok := s.state == from
	s.mu.Unlock()
	if ok {
		s.setState(next)
	}
	return ok
}

// Start performs the first full sync, opens the change stream and arms the
// periodic resync. Calling Start on a running syncer does nothing.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	if prev != StateUninitialized && prev != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateSyncing
	stale := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	s.report(prev, StateSyncing)

	if stale != nil {
		stale()
		s.wg.Wait()
	}

	if err := s.PerformFullSync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		s.setState(StateUninitialized)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	stream, err := s.openStream(runCtx)
	if err != nil {
		slog.Warn("Failed to open change stream, will retry",
			"device_id", s.deviceID,
			"service", s.service,
			"error", err)
	}

	s.wg.Add(2)
	go s.run(runCtx, stream)
	go s.resyncLoop(runCtx)

	slog.Info("Device sync initialized", "device_id", s.deviceID, "service", s.service)
	return nil
}

// Stop tears down the stream and timers.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	s.setState(StateStopped)
}

// Refresh forces a full sync regardless of the current state.
func (s *Syncer) Refresh(ctx context.Context) error {
	prev := s.State()
	if prev == StateUninitialized || prev == StateStopped {
		return s.Start(ctx)
	}

	s.setState(StateSyncing)
	err := s.PerformFullSync(ctx)
	// The run loop may have moved on meanwhile.
	s.casState(StateSyncing, prev)
	return err
}

// PerformFullSync pulls every secret and the complete active list and
// replaces the mirror in one transaction.
func (s *Syncer) PerformFullSync(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	ok, err := s.store.AcquireSyncLock(ctx, s.deviceID, s.service, s.owner, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSyncInProgress
	}
	defer func() {
		if err := s.store.ReleaseSyncLock(context.WithoutCancel(ctx), s.deviceID, s.service, s.owner); err != nil {
			slog.Warn("Failed to release sync lock", "device_id", s.deviceID, "service", s.service, "error", err)
		}
	}()

	start := time.Now()
	secrets, active, err := s.fetchAll(ctx)
	if err != nil && routeros.IsRetryable(err) {
		slog.Warn("Full sync fetch failed, retrying on a new connection",
			"device_id", s.deviceID,
			"service", s.service,
			"error", err)
		if _, rerr := s.sessions.Reconnect(ctx, s.deviceID); rerr != nil {
			return errors.Join(err, rerr)
		}
		secrets, active, err = s.fetchAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("full sync of device %d %s: %w", s.deviceID, s.service, err)
	}

	at := s.now()
	snap := statestore.Snapshot{
		Secrets:  secrets,
		Sessions: make([]statestore.ActiveSession, 0, len(active)),
		At:       at,
	}
	for _, rec := range active {
		snap.Sessions = append(snap.Sessions, statestore.SessionFromRecord(rec, at))
	}
	if err := s.store.ReplaceAll(ctx, s.deviceID, s.service, snap); err != nil {
		return err
	}

	slog.Info("Full sync completed",
		"device_id", s.deviceID,
		"service", s.service,
		"secrets", len(secrets),
		"active", len(active),
		"duration", time.Since(start))
	return nil
}

func (s *Syncer) fetchAll(ctx context.Context) ([]routeros.Record, []routeros.Record, error) {
	session, err := s.sessions.Acquire(ctx, s.deviceID)
	if err != nil {
		return nil, nil, err
	}

	var secrets, active []routeros.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reply, err := session.Invoke(gctx, s.service.UserMenu()+"/print")
		if err != nil {
			return err
		}
		secrets = reply.Records
		return nil
	})
	g.Go(func() error {
		reply, err := session.Invoke(gctx, s.service.ActiveMenu()+"/print")
		if err != nil {
			return err
		}
		active = reply.Records
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return secrets, active, nil
}

// ProcessEvent re-derives the active set and the user's record from the
// device. The event only names the user, so duplicates and reordering
// converge on the same state. Without a username only the active set is
// re-read.
func (s *Syncer) ProcessEvent(ctx context.Context, ev UserEvent) error {
	username := routeros.NormalizeUsername(ev.Username)
	apply := func() error {
		if username == "" {
			return s.applyActive(ctx)
		}
		return s.applyUser(ctx, username, ev.Name)
	}

	err := apply()
	if err != nil && routeros.IsRetryable(err) {
		if _, rerr := s.sessions.Reconnect(ctx, s.deviceID); rerr != nil {
			return errors.Join(err, rerr)
		}
		err = apply()
	}
	if err != nil {
		if username == "" {
			return fmt.Errorf("reconcile active list on device %d %s: %w", s.deviceID, s.service, err)
		}
		return fmt.Errorf("reconcile %s on device %d %s: %w", username, s.deviceID, s.service, err)
	}
	return nil
}

func (s *Syncer) applyUser(ctx context.Context, username, name string) error {
	session, err := s.sessions.Acquire(ctx, s.deviceID)
	if err != nil {
		return err
	}
	active, err := session.Invoke(ctx, s.service.ActiveMenu()+"/print")
	if err != nil {
		return err
	}
	secret, err := s.lookupUser(ctx, session, username, name)
	if err != nil {
		return err
	}

	at := s.now()
	return s.store.ApplyUserEvent(ctx, s.deviceID, s.service, username, secret, toSessions(active.Records, at), at)
}

// lookupUser finds the user's record. The device matches names exactly, so a
// miss on the reported spelling falls back to scanning the whole menu. A nil
// record means the device no longer has the user.
func (s *Syncer) lookupUser(ctx context.Context, session routeros.Session, username, name string) (routeros.Record, error) {
	menu := s.service.UserMenu() + "/print"
	if name != "" {
		reply, err := session.Invoke(ctx, menu, routeros.Where("name", name))
		if err != nil {
			return nil, err
		}
		if rec := findUser(reply.Records, username); rec != nil {
			return rec, nil
		}
	}
	reply, err := session.Invoke(ctx, menu)
	if err != nil {
		return nil, err
	}
	return findUser(reply.Records, username), nil
}

func findUser(recs []routeros.Record, username string) routeros.Record {
	for _, rec := range recs {
		if rec.Username() == username {
			return rec
		}
	}
	return nil
}

func (s *Syncer) applyActive(ctx context.Context) error {
	session, err := s.sessions.Acquire(ctx, s.deviceID)
	if err != nil {
		return err
	}
	active, err := session.Invoke(ctx, s.service.ActiveMenu()+"/print")
	if err != nil {
		return err
	}
	at := s.now()
	return s.store.ReplaceActive(ctx, s.deviceID, s.service, toSessions(active.Records, at), at)
}

func toSessions(recs []routeros.Record, at time.Time) []statestore.ActiveSession {
	sessions := make([]statestore.ActiveSession, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, statestore.SessionFromRecord(rec, at))
	}
	return sessions
}

func (s *Syncer) openStream(ctx context.Context) (routeros.Stream, error) {
	session, err := s.sessions.Acquire(ctx, s.deviceID)
	if err != nil {
		return nil, err
	}
	stream, err := session.Listen(ctx, s.service.ActiveMenu()+"/listen")
	if err != nil {
		return nil, err
	}
	s.sessions.Hold(s.deviceID)
	return stream, nil
}

func (s *Syncer) closeStream(stream routeros.Stream) {
	_ = stream.Close()
	s.sessions.Release(s.deviceID)
}

func (s *Syncer) run(ctx context.Context, stream routeros.Stream) {
	defer s.wg.Done()

	for {
		if stream != nil {
			s.mu.Lock()
			s.attempts = 0
			s.mu.Unlock()
			s.setState(StateListening)

			err := s.consume(ctx, stream)
			s.closeStream(stream)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Change stream failed",
				"device_id", s.deviceID,
				"service", s.service,
				"error", err)
		}

		s.setState(StateReconnecting)
		stream = s.reconnect(ctx)
		if stream == nil {
			return
		}
	}
}

// consume turns stream records into reconciliation jobs, one per distinct
// user in each batch. It never touches the state store.
func (s *Syncer) consume(ctx context.Context, stream routeros.Stream) error {
	records := stream.Records()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return errStreamEnded
			}
			batch := []routeros.Record{rec}
		drain:
			for len(batch) < 256 {
				select {
				case more, ok := <-records:
					if !ok {
						break drain
					}
					batch = append(batch, more)
				default:
					break drain
				}
			}
			s.enqueue(ctx, batch)
		}
	}
}

// enqueue schedules one job per distinct user in the batch. Removal events
// carry only the session id; they are mapped back to the user through the
// mirrored sessions, or become one active-list job when the id is unknown.
func (s *Syncer) enqueue(ctx context.Context, batch []routeros.Record) {
	seen := make(map[string]bool, len(batch))
	at := s.now()
	for _, rec := range batch {
		ev := UserEvent{
			DeviceID: s.deviceID,
			Service:  s.service,
			Username: rec.Username(),
			Name:     rec.Name(),
			At:       at,
		}
		if ev.Username == "" {
			if rec.ID() == "" {
				continue
			}
			ev.Username = s.sessionOwner(ctx, rec.ID())
		}
		if seen[ev.Username] {
			continue
		}
		seen[ev.Username] = true

		delay := time.Duration(s.rand() * float64(s.cfg.EventJitter))
		if _, err := s.jobs.Enqueue(ctx, JobUserEvent, ev, delay); err != nil {
			slog.Error("Failed to enqueue user event",
				"device_id", s.deviceID,
				"service", s.service,
				"username", ev.Username,
				"error", err)
		}
	}
}

func (s *Syncer) sessionOwner(ctx context.Context, sessionID string) string {
	owner, ok, err := s.store.SessionOwner(ctx, s.deviceID, s.service, sessionID)
	if err != nil {
		slog.Warn("Failed to resolve session owner",
			"device_id", s.deviceID,
			"service", s.service,
			"session_id", sessionID,
			"error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return owner
}

// reconnect retries with backoff while the device stays active. It returns
// nil when ctx is cancelled or the device was deactivated.
func (s *Syncer) reconnect(ctx context.Context) routeros.Stream {
	for {
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		delay := Backoff(attempt, s.cfg.BackoffBase, s.cfg.BackoffCap, s.rand())
		slog.Info("Reconnecting change stream",
			"device_id", s.deviceID,
			"service", s.service,
			"attempt", attempt,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		active, err := s.devices.IsActive(ctx, s.deviceID)
		if err == nil && !active {
			slog.Warn("Device deactivated, giving up on its stream", "device_id", s.deviceID, "service", s.service)
			s.setState(StateStopped)
			return nil
		}
		if err != nil {
			slog.Warn("Failed to check device state", "device_id", s.deviceID, "error", err)
			continue
		}

		if err := s.PerformFullSync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			slog.Warn("Resync after stream loss failed",
				"device_id", s.deviceID,
				"service", s.service,
				"attempt", attempt,
				"error", err)
			continue
		}

		stream, err := s.openStream(ctx)
		if err != nil {
			slog.Warn("Failed to reopen change stream",
				"device_id", s.deviceID,
				"service", s.service,
				"attempt", attempt,
				"error", err)
			continue
		}
		slog.Info("Change stream restored", "device_id", s.deviceID, "service", s.service, "attempts", attempt)
		return stream
	}
}

func (s *Syncer) resyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ResyncCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.resyncIfStale(ctx)
		}
	}
}

func (s *Syncer) resyncIfStale(ctx context.Context) {
	if s.State() == StateStopped {
		return
	}
	last, ok, err := s.store.LastSync(ctx, s.deviceID, s.service)
	if err != nil {
		slog.Warn("Failed to read last sync time", "device_id", s.deviceID, "service", s.service, "error", err)
		return
	}
	if ok && s.now().Sub(last) <= s.cfg.StaleAfter {
		return
	}

	slog.Info("Periodic resync triggered", "device_id", s.deviceID, "service", s.service)
	if err := s.PerformFullSync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) && ctx.Err() == nil {
		slog.Warn("Periodic resync failed", "device_id", s.deviceID, "service", s.service, "error", err)
	}
}
