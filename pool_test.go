package htcore

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeDialer struct {
	dials int
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, origin Origin) (ByteStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	client, _ := newTestPipe()
	return client, nil
}

func testOrigin(t *testing.T, host string) Origin {
	t.Helper()
	o, err := NewOrigin(SchemeHTTP, host, 80)
	require.NoError(t, err)
	return o
}

func TestPoolAcquireDialsFreshConnWhenIdleEmpty(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{}, clockwork.NewFakeClock(), nil)

	conn, err := pool.Acquire(context.Background(), testOrigin(t, "a.example"))
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, 1, dialer.dials)
}

func TestPoolReleaseReusesIdleConnection(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{}, clockwork.NewFakeClock(), nil)
	origin := testOrigin(t, "a.example")

	conn, err := pool.Acquire(context.Background(), origin)
	require.NoError(t, err)

	conn.mu.Lock()
	conn.state = StateIdle
	conn.mu.Unlock()
	pool.Release(conn, origin)

	conn2, err := pool.Acquire(context.Background(), origin)
	require.NoError(t, err)
	assert.Same(t, conn, conn2)
	assert.Equal(t, 1, dialer.dials)
}

func TestPoolAcquireEnforcesMaxPerHost(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{MaxPerHost: 1, MaxTotal: 10}, clockwork.NewFakeClock(), nil)
	origin := testOrigin(t, "a.example")

	_, err := pool.Acquire(context.Background(), origin)
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background(), origin)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCapacity))
}

func TestPoolAcquireEnforcesMaxTotalAcrossOrigins(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{MaxPerHost: 10, MaxTotal: 1}, clockwork.NewFakeClock(), nil)

	_, err := pool.Acquire(context.Background(), testOrigin(t, "a.example"))
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background(), testOrigin(t, "b.example"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCapacity))
}

func TestPoolAcquireAfterStopFails(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{}, clockwork.NewFakeClock(), nil)
	require.NoError(t, pool.Stop())

	_, err := pool.Acquire(context.Background(), testOrigin(t, "a.example"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindState))
}

func TestPoolReapExpiredEvictsIdleConnections(t *testing.T) {
	dialer := &fakeDialer{}
	clock := clockwork.NewFakeClock()
	pool := NewPool(dialer, PoolConfig{KeepAliveTimeout: time.Minute}, clock, nil)
	origin := testOrigin(t, "a.example")

	conn, err := pool.Acquire(context.Background(), origin)
	require.NoError(t, err)
	conn.mu.Lock()
	conn.state = StateIdle
	conn.idleSince = clock.Now()
	conn.mu.Unlock()
	pool.Release(conn, origin)

	clock.Advance(2 * time.Minute)
	pool.reapExpired()

	metrics := pool.Metrics()
	assert.Equal(t, 0, metrics.TotalConnections)
	assert.Equal(t, uint64(1), metrics.Evicted)
}

func TestPoolStopForceClosesLeasedConnections(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{}, clockwork.NewFakeClock(), nil)
	origin := testOrigin(t, "a.example")

	conn, err := pool.Acquire(context.Background(), origin)
	require.NoError(t, err)
	assert.Equal(t, StateNew, conn.State()) // still checked out, never released

	require.NoError(t, pool.Stop())
	assert.Equal(t, StateClosed, conn.State())
}

func TestPoolStopClosesIdleConnectionsNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	dialer := &fakeDialer{}
	pool := NewPool(dialer, PoolConfig{CleanupInterval: time.Millisecond}, clockwork.NewFakeClock(), nil)
	pool.Start()

	origin := testOrigin(t, "a.example")
	conn, err := pool.Acquire(context.Background(), origin)
	require.NoError(t, err)
	conn.mu.Lock()
	conn.state = StateIdle
	conn.mu.Unlock()
	pool.Release(conn, origin)

	require.NoError(t, pool.Stop())
}
