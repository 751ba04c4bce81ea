package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros/routerostest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDeviceSource struct {
	mock.Mock
}

func (m *MockDeviceSource) ConnectionConfig(ctx context.Context, deviceID int64) (routeros.Config, error) {
	args := m.Called(deviceID)
	return args.Get(0).(routeros.Config), args.Error(1)
}

func (m *MockDeviceSource) RecordConnection(ctx context.Context, deviceID int64, status devices.Status, at time.Time) error {
	args := m.Called(deviceID, status)
	return args.Error(0)
}

var deviceConfig = routeros.Config{Address: "10.0.0.1", Username: "admin", Password: "secret"}

func newTestRegistry(t *testing.T, source DeviceSource, dial routeros.Dialer) *Registry {
	t.Helper()
	r := NewRegistry(source, dial, Config{ConnectTimeout: time.Second, IdleTimeout: time.Minute})
	t.Cleanup(r.Stop)
	return r
}

func TestAcquireCachesSession(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(1)).Return(deviceConfig, nil).Once()
	source.On("RecordConnection", int64(1), devices.StatusOnline).Return(nil).Once()

	device := routerostest.NewDevice()
	r := newTestRegistry(t, source, device.Dialer())

	s1, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)
	s2, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, device.Dials())
	assert.Equal(t, []int64{1}, r.ListConnections())
	source.AssertExpectations(t)
}

func TestAcquireSingleFlight(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(7)).Return(deviceConfig, nil)
	source.On("RecordConnection", int64(7), devices.StatusOnline).Return(nil)

	device := routerostest.NewDevice()
	var dials atomic.Int32
	release := make(chan struct{})
	dial := func(ctx context.Context, cfg routeros.Config) (routeros.Session, error) {
		dials.Add(1)
		<-release
		return device.Dial(ctx, cfg)
	}
	r := newTestRegistry(t, source, dial)

	const callers = 10
	sessions := make([]routeros.Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Acquire(context.Background(), 7)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestAcquireInactiveDeviceFailsFast(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(2)).Return(routeros.Config{}, devices.ErrDeviceInactive)

	device := routerostest.NewDevice()
	r := newTestRegistry(t, source, device.Dialer())

	_, err := r.Acquire(context.Background(), 2)
	assert.ErrorIs(t, err, devices.ErrDeviceInactive)
	assert.Equal(t, 0, device.Dials())
	source.AssertNotCalled(t, "RecordConnection", mock.Anything, mock.Anything)
}

func TestAcquireConnectionFailureMarksOffline(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(3)).Return(deviceConfig, nil)
	source.On("RecordConnection", int64(3), devices.StatusOffline).Return(nil).Once()

	device := routerostest.NewDevice()
	device.SetDialError(routeros.ErrTimeout)
	r := newTestRegistry(t, source, device.Dialer())

	_, err := r.Acquire(context.Background(), 3)
	assert.ErrorIs(t, err, routeros.ErrTimeout)
	assert.Empty(t, r.ListConnections())
	source.AssertExpectations(t)
}

func TestAcquireBadCredentialsMarksError(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(4)).
		Return(routeros.Config{}, errors.Join(devices.ErrCredentials, routeros.ErrConfiguration))
	source.On("RecordConnection", int64(4), devices.StatusError).Return(nil).Once()

	r := newTestRegistry(t, source, routerostest.NewDevice().Dialer())

	_, err := r.Acquire(context.Background(), 4)
	assert.ErrorIs(t, err, routeros.ErrConfiguration)
	source.AssertExpectations(t)
}

func TestAcquireTimesOut(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(5)).Return(deviceConfig, nil)
	source.On("RecordConnection", int64(5), devices.StatusOffline).Return(nil)

	dial := func(ctx context.Context, cfg routeros.Config) (routeros.Session, error) {
		<-ctx.Done()
		return nil, routeros.ErrTimeout
	}
	r := NewRegistry(source, dial, Config{ConnectTimeout: 20 * time.Millisecond})
	defer r.Stop()

	start := time.Now()
	_, err := r.Acquire(context.Background(), 5)
	assert.ErrorIs(t, err, routeros.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	_, ok := r.GetConnection(5)
	assert.False(t, ok)
}

func TestEvictAndReconnect(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(1)).Return(deviceConfig, nil)
	source.On("RecordConnection", int64(1), devices.StatusOnline).Return(nil)

	device := routerostest.NewDevice()
	r := newTestRegistry(t, source, device.Dialer())

	first, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)

	second, err := r.Reconnect(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.ErrorIs(t, first.Err(), routeros.ErrClosed)
	assert.Equal(t, 2, device.Dials())

	r.Evict(1)
	r.Evict(1)
	assert.Empty(t, r.ListConnections())
}

func TestDeadSessionIsReplaced(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(1)).Return(deviceConfig, nil)
	source.On("RecordConnection", int64(1), devices.StatusOnline).Return(nil)

	device := routerostest.NewDevice()
	r := newTestRegistry(t, source, device.Dialer())

	first, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)

	device.Drop()

	second, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NoError(t, second.Err())
}

func TestRemoveStaleConnections(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", mock.Anything).Return(deviceConfig, nil)
	source.On("RecordConnection", mock.Anything, devices.StatusOnline).Return(nil)

	device := routerostest.NewDevice()
	r := newTestRegistry(t, source, device.Dialer())

	base := time.Now()
	r.now = func() time.Time { return base }

	_, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)
	_, err = r.Acquire(context.Background(), 2)
	require.NoError(t, err)
	r.Hold(2)

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	r.removeStaleConnections()

	assert.Equal(t, []int64{2}, r.ListConnections(), "held session survives idle eviction")

	r.Release(2)
	r.removeStaleConnections()
	assert.Empty(t, r.ListConnections())
}

func TestStopClosesSessions(t *testing.T) {
	source := new(MockDeviceSource)
	source.On("ConnectionConfig", int64(1)).Return(deviceConfig, nil)
	source.On("RecordConnection", int64(1), devices.StatusOnline).Return(nil)

	r := NewRegistry(source, routerostest.NewDevice().Dialer(), Config{})
	s, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)

	r.Stop()
	r.Stop()

	assert.ErrorIs(t, s.Err(), routeros.ErrClosed)
	assert.Empty(t, r.ListConnections())
}
