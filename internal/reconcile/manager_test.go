package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/queue"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros/routerostest"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	deviceID = int64(1)
	pppoe    = routeros.ServicePPPoE
)

var deviceConfig = routeros.Config{Address: "10.0.0.1", Username: "admin", Password: "secret"}

type fakeSessions struct {
	device *routerostest.Device

	mu         sync.Mutex
	session    routeros.Session
	reconnects int
	holds      int
}

func (f *fakeSessions) Acquire(ctx context.Context, id int64) (routeros.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil && f.session.Err() == nil {
		return f.session, nil
	}
	s, err := f.device.Dial(ctx, deviceConfig)
	if err != nil {
		return nil, err
	}
	f.session = s
	return s, nil
}

func (f *fakeSessions) Reconnect(ctx context.Context, id int64) (routeros.Session, error) {
	f.mu.Lock()
	if f.session != nil {
		_ = f.session.Close()
		f.session = nil
	}
	f.reconnects++
	f.mu.Unlock()
	return f.Acquire(ctx, id)
}

func (f *fakeSessions) Hold(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
}

func (f *fakeSessions) Release(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds--
}

func (f *fakeSessions) Reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

type fakeDevices struct {
	inactive atomic.Bool
}

func (f *fakeDevices) IsActive(ctx context.Context, id int64) (bool, error) {
	return !f.inactive.Load(), nil
}

func (f *fakeDevices) ListActiveDevices(ctx context.Context) ([]devices.Device, error) {
	if f.inactive.Load() {
		return nil, nil
	}
	return []devices.Device{{ID: deviceID, IsActive: true}}, nil
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses map[string]healthpb.HealthCheckResponse_ServingStatus
}

func (r *recordingReporter) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[service] = status
}

func (r *recordingReporter) Status(service string) healthpb.HealthCheckResponse_ServingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[service]
}

type harness struct {
	device   *routerostest.Device
	sessions *fakeSessions
	devices  *fakeDevices
	mr       *miniredis.Miniredis
	client   *redis.Client
	store    *statestore.Store
	queue    *queue.Queue
	reporter *recordingReporter
	manager  *Manager
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		device:   routerostest.NewDevice(),
		devices:  &fakeDevices{},
		mr:       mr,
		client:   client,
		store:    statestore.New(client, "test"),
		queue:    queue.New(client, "test", queue.Config{}),
		reporter: &recordingReporter{statuses: map[string]healthpb.HealthCheckResponse_ServingStatus{}},
	}
	h.sessions = &fakeSessions{device: h.device}
	h.manager = NewManager(cfg, h.sessions, h.devices, h.store, h.queue, h.reporter)
	t.Cleanup(h.manager.StopAll)

	h.device.Replace("/ppp/secret",
		routeros.Record{"name": "alice", "profile": "10M", "disabled": "false"},
		routeros.Record{"name": "bob", "profile": "10M", "disabled": "false"},
		routeros.Record{"name": "carol", "profile": "20M", "disabled": "true"},
	)
	h.device.Replace("/ppp/active",
		routeros.Record{"name": "alice", "address": "10.10.0.2"},
	)
	return h
}

func names(users []statestore.UserRecord) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestInitializeMirrorsDevice(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))

	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening &&
			h.reporter.Status("device/1/pppoe") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.device.Subscribers("/ppp/active/listen"))

	assert.Equal(t, []string{"alice"}, names(h.manager.SearchActive(ctx, deviceID, pppoe, "", 0)))
	assert.Equal(t, []string{"bob"}, names(h.manager.SearchInactive(ctx, deviceID, pppoe, "", 0)))

	stats, err := h.manager.Stats(ctx, deviceID, pppoe)
	require.NoError(t, err)
	assert.True(t, stats.IsStreaming)
	assert.Equal(t, StateListening, stats.State)
	assert.Equal(t, int64(3), stats.CachedUserCount)
	assert.Equal(t, int64(1), stats.ActiveUserCount)
	assert.NotNil(t, stats.LastFullSyncTime)

	// second call is a no-op
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	assert.Equal(t, 1, h.device.Calls("/ppp/secret/print"))
	assert.Equal(t, 1, h.device.Subscribers("/ppp/active/listen"))
}

func TestInitializeAllStartsConfiguredServices(t *testing.T) {
	h := newHarness(t, Config{Services: []string{"pppoe", "hotspot"}})

	require.NoError(t, h.manager.InitializeAll(context.Background()))

	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, routeros.ServicePPPoE) == StateListening &&
			h.manager.State(deviceID, routeros.ServiceHotspot) == StateListening
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.device.Subscribers("/ip/hotspot/active/listen"))
}

func TestInitializeDeviceCoversEveryService(t *testing.T) {
	h := newHarness(t, Config{Services: []string{"pppoe", "hotspot"}})
	ctx := context.Background()

	require.NoError(t, h.manager.InitializeDevice(ctx, deviceID))
	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, routeros.ServicePPPoE) == StateListening &&
			h.manager.State(deviceID, routeros.ServiceHotspot) == StateListening
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.manager.RefreshDevice(ctx, deviceID))
	assert.Equal(t, 2, h.device.Calls("/ppp/secret/print"))
	assert.Equal(t, 2, h.device.Calls("/ip/hotspot/user/print"))
}

func TestInitializeFailsWhenDeviceUnreachable(t *testing.T) {
	h := newHarness(t, Config{})
	h.device.SetDialError(fmt.Errorf("%w: refused", routeros.ErrConnection))

	err := h.manager.Initialize(context.Background(), deviceID, pppoe)
	assert.ErrorIs(t, err, routeros.ErrConnection)
	assert.Equal(t, StateUninitialized, h.manager.State(deviceID, pppoe))
}

func TestFullSyncIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.manager.syncer(deviceID, pppoe)
	at := time.Now()
	s.now = func() time.Time { return at }

	require.NoError(t, s.PerformFullSync(context.Background()))
	first := h.mr.Dump()
	require.NoError(t, s.PerformFullSync(context.Background()))
	assert.Equal(t, first, h.mr.Dump())
}

func TestFullSyncRetriesOnceAfterConnectionLoss(t *testing.T) {
	h := newHarness(t, Config{})
	h.device.FailNext("/ppp/secret/print", fmt.Errorf("%w: reset", routeros.ErrConnection))

	s := h.manager.syncer(deviceID, pppoe)
	require.NoError(t, s.PerformFullSync(context.Background()))
	assert.Equal(t, 1, h.sessions.Reconnects())
}

func TestFullSyncDoesNotRetryRejection(t *testing.T) {
	h := newHarness(t, Config{})
	h.device.FailNext("/ppp/active/print", routeros.NewRejection("/ppp/active/print", "not permitted"))

	s := h.manager.syncer(deviceID, pppoe)
	err := s.PerformFullSync(context.Background())
	assert.ErrorIs(t, err, routeros.ErrRejected)
	assert.Equal(t, 0, h.sessions.Reconnects())
}

func TestFullSyncSingleWriterAcrossReplicas(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	ok, err := h.store.AcquireSyncLock(ctx, deviceID, pppoe, "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = h.manager.syncer(deviceID, pppoe).PerformFullSync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Equal(t, 0, h.device.Calls("/ppp/secret/print"))
}

func TestStreamEventsBecomeJobs(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	require.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)

	h.device.Push("/ppp/active/listen", routeros.Record{"name": " Bob ", "address": "10.10.0.3"})

	assert.Eventually(t, func() bool {
		depth, err := h.queue.Depth(ctx)
		return err == nil && depth == 1
	}, time.Second, 5*time.Millisecond)

	// the stream handler leaves the mirror alone
	active, err := h.store.IsUserActive(ctx, deviceID, pppoe, "bob")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEnqueueOneJobPerDistinctUser(t *testing.T) {
	h := newHarness(t, Config{EventJitter: 500 * time.Millisecond})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)

	s.enqueue(ctx, []routeros.Record{
		{"name": "alice"},
		{"name": "ALICE "},
		{"user": "bob"},
		{"name": ""},
	})

	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestProcessEventConverges(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)
	require.NoError(t, s.PerformFullSync(ctx))

	// alice disconnects, bob connects
	h.device.Replace("/ppp/active", routeros.Record{"name": "bob", "address": "10.10.0.3"})

	// events arrive out of order and duplicated
	for _, user := range []string{"bob", "alice", "bob"} {
		require.NoError(t, s.ProcessEvent(ctx, UserEvent{DeviceID: deviceID, Service: pppoe, Username: user}))
	}

	assert.Equal(t, []string{"bob"}, names(h.manager.SearchActive(ctx, deviceID, pppoe, "", 0)))
	assert.Equal(t, []string{"alice"}, names(h.manager.SearchInactive(ctx, deviceID, pppoe, "", 0)))

	details, err := h.store.UserDetails(ctx, deviceID, pppoe, "bob")
	require.NoError(t, err)
	assert.True(t, details.Active)
	require.NotNil(t, details.Session)
	assert.Equal(t, "10.10.0.3", details.Session.Address)
}

func TestProcessEventKeepsMixedCaseSecret(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)
	h.device.Replace("/ppp/secret", routeros.Record{"name": "Dave", "profile": "10M", "disabled": "false"})
	h.device.Replace("/ppp/active")
	require.NoError(t, s.PerformFullSync(ctx))

	for _, ev := range []UserEvent{
		{DeviceID: deviceID, Service: pppoe, Username: "Dave", Name: "Dave"},
		{DeviceID: deviceID, Service: pppoe, Username: "dave", Name: "DAVE"},
		{DeviceID: deviceID, Service: pppoe, Username: "dave"},
	} {
		require.NoError(t, s.ProcessEvent(ctx, ev))

		stats, err := h.store.Stats(ctx, deviceID, pppoe)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.CachedUserCount)
		assert.Equal(t, []string{"dave"}, names(h.manager.SearchInactive(ctx, deviceID, pppoe, "", 0)))
	}
}

func TestProcessEventDropsRemovedUser(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)
	require.NoError(t, s.PerformFullSync(ctx))

	h.device.Replace("/ppp/secret",
		routeros.Record{"name": "alice", "profile": "10M", "disabled": "false"},
		routeros.Record{"name": "carol", "profile": "20M", "disabled": "true"},
	)
	require.NoError(t, s.ProcessEvent(ctx, UserEvent{DeviceID: deviceID, Service: pppoe, Username: "bob", Name: "bob"}))

	stats, err := h.store.Stats(ctx, deviceID, pppoe)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.CachedUserCount)
	_, err = h.store.UserDetails(ctx, deviceID, pppoe, "bob")
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func claimUserEvents(t *testing.T, h *harness) []UserEvent {
	t.Helper()
	jobs, err := h.queue.Claim(context.Background(), 10)
	require.NoError(t, err)
	events := make([]UserEvent, 0, len(jobs))
	for _, job := range jobs {
		var ev UserEvent
		require.NoError(t, job.Decode(&ev))
		events = append(events, ev)
	}
	return events
}

func TestRemovedSessionMapsToOwner(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)
	s.rand = func() float64 { return 0 }
	require.NoError(t, s.PerformFullSync(ctx))

	sessionID := h.device.Items("/ppp/active")[0].ID()
	h.device.Replace("/ppp/active")
	s.enqueue(ctx, []routeros.Record{{".id": sessionID, ".dead": "true"}})

	events := claimUserEvents(t, h)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Username)

	require.NoError(t, s.ProcessEvent(ctx, events[0]))
	active, err := h.store.IsUserActive(ctx, deviceID, pppoe, "alice")
	require.NoError(t, err)
	assert.False(t, active)

	stats, err := h.store.Stats(ctx, deviceID, pppoe)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.CachedUserCount)
}

func TestUnknownRemovedSessionRederivesActiveList(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)
	s.rand = func() float64 { return 0 }
	require.NoError(t, s.PerformFullSync(ctx))

	h.device.Replace("/ppp/active", routeros.Record{"name": "bob", "address": "10.10.0.3"})
	s.enqueue(ctx, []routeros.Record{
		{".id": "*FF", ".dead": "true"},
		{".id": "*FE", ".dead": "true"},
	})

	events := claimUserEvents(t, h)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Username)

	require.NoError(t, s.ProcessEvent(ctx, events[0]))
	assert.Equal(t, []string{"bob"}, names(h.manager.SearchActive(ctx, deviceID, pppoe, "", 0)))

	stats, err := h.store.Stats(ctx, deviceID, pppoe)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.CachedUserCount)
	assert.Equal(t, int64(1), stats.ActiveUserCount)
}

func TestHandleJobThroughQueue(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.manager.syncer(deviceID, pppoe).PerformFullSync(ctx))
	h.device.Replace("/ppp/active",
		routeros.Record{"name": "alice", "address": "10.10.0.2"},
		routeros.Record{"name": "bob", "address": "10.10.0.3"},
	)

	_, err := h.queue.Enqueue(ctx, JobUserEvent, UserEvent{DeviceID: deviceID, Service: pppoe, Username: "bob"}, 0)
	require.NoError(t, err)

	jobs, err := h.queue.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, h.manager.HandleJob(ctx, jobs[0]))

	assert.Equal(t, []string{"alice", "bob"}, names(h.manager.SearchActive(ctx, deviceID, pppoe, "", 0)))
}

func TestHandleJobDropsInactiveDevice(t *testing.T) {
	h := newHarness(t, Config{})
	h.device.SetDialError(devices.ErrDeviceInactive)

	_, err := h.queue.Enqueue(context.Background(), JobUserEvent, UserEvent{DeviceID: deviceID, Service: pppoe, Username: "bob"}, 0)
	require.NoError(t, err)
	jobs, err := h.queue.Claim(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	assert.NoError(t, h.manager.HandleJob(context.Background(), jobs[0]))
}

func TestStreamErrorReconnects(t *testing.T) {
	h := newHarness(t, Config{BackoffBase: 10 * time.Millisecond, BackoffCap: 40 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	require.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)

	h.device.Replace("/ppp/active", routeros.Record{"name": "bob", "address": "10.10.0.3"})
	h.device.Break("/ppp/active/listen", fmt.Errorf("%w: stream reset", routeros.ErrConnection))

	assert.Eventually(t, func() bool {
		return h.device.Subscribers("/ppp/active/listen") == 1 &&
			h.manager.State(deviceID, pppoe) == StateListening
	}, 2*time.Second, 5*time.Millisecond)

	// the outage window is covered by a full sync
	assert.Equal(t, 2, h.device.Calls("/ppp/secret/print"))
	assert.Equal(t, []string{"bob"}, names(h.manager.SearchActive(ctx, deviceID, pppoe, "", 0)))
}

func TestReconnectKeepsRetryingWhileDeviceDown(t *testing.T) {
	h := newHarness(t, Config{BackoffBase: 5 * time.Millisecond, BackoffCap: 10 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	require.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)

	h.device.SetDialError(fmt.Errorf("%w: refused", routeros.ErrConnection))
	h.device.Drop()

	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateReconnecting && h.device.Dials() >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.reporter.Status("device/1/pppoe"))

	h.device.SetDialError(nil)
	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectStopsWhenDeviceDeactivated(t *testing.T) {
	h := newHarness(t, Config{BackoffBase: 5 * time.Millisecond, BackoffCap: 10 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	require.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)

	h.devices.inactive.Store(true)
	h.device.Break("/ppp/active/listen", fmt.Errorf("%w: stream reset", routeros.ErrConnection))

	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateStopped
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.device.Subscribers("/ppp/active/listen"))
}

func TestRefreshForcesFullSync(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	require.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)

	h.device.Put("/ppp/secret", routeros.Record{"name": "dave", "disabled": "false"})
	require.NoError(t, h.manager.Refresh(ctx, deviceID, pppoe))

	assert.Equal(t, []string{"bob", "dave"}, names(h.manager.SearchInactive(ctx, deviceID, pppoe, "", 0)))
	assert.Equal(t, StateListening, h.manager.State(deviceID, pppoe))
}

func TestRefreshInitializesUnknownDevice(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.manager.Refresh(context.Background(), deviceID, pppoe))
	assert.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)
}

func TestResyncIfStale(t *testing.T) {
	h := newHarness(t, Config{StaleAfter: time.Minute})
	ctx := context.Background()
	s := h.manager.syncer(deviceID, pppoe)
	require.NoError(t, s.PerformFullSync(ctx))

	s.resyncIfStale(ctx)
	assert.Equal(t, 1, h.device.Calls("/ppp/secret/print"), "fresh mirror is left alone")

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	s.resyncIfStale(ctx)
	assert.Equal(t, 2, h.device.Calls("/ppp/secret/print"))
}

func TestStopTearsDownStream(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.manager.Initialize(ctx, deviceID, pppoe))
	require.Eventually(t, func() bool {
		return h.manager.State(deviceID, pppoe) == StateListening
	}, time.Second, 5*time.Millisecond)

	h.manager.Stop(deviceID)

	assert.Equal(t, 0, h.device.Subscribers("/ppp/active/listen"))
	assert.Equal(t, StateUninitialized, h.manager.State(deviceID, pppoe))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.reporter.Status("device/1/pppoe"))
	h.sessions.mu.Lock()
	assert.Equal(t, 0, h.sessions.holds)
	h.sessions.mu.Unlock()
}

func TestSearchDegradesWhenCacheUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.client.Close())

	assert.Empty(t, h.manager.SearchActive(context.Background(), deviceID, pppoe, "", 0))
	assert.Empty(t, h.manager.SearchInactive(context.Background(), deviceID, pppoe, "", 0))
}

func TestBackoffBounds(t *testing.T) {
	base, limit := 5*time.Second, time.Minute

	for _, r := range []float64{0, 0.5, 0.999} {
		prev := time.Duration(0)
		for n := 1; n <= 12; n++ {
			d := Backoff(n, base, limit, r)
			assert.GreaterOrEqual(t, d, base)
			assert.LessOrEqual(t, d, limit)
			assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
			prev = d
		}
	}

	// worst case of attempt n never exceeds best case of attempt n+1
	for n := 1; n < 12; n++ {
		assert.LessOrEqual(t, Backoff(n, base, limit, 0.999), Backoff(n+1, base, limit, 0))
	}
	assert.Equal(t, base, Backoff(1, base, limit, 0.7))
	assert.Equal(t, limit, Backoff(100, base, limit, 0.3))
}
