package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
)

func TestGate_NeverExceedsCapacity(t *testing.T) {
	for _, size := range []int{1, 3, 8} {
		g := New(size, logger.NewDiscard())

		var current, peak atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := g.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				defer lease.Release()

				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak.Load(), int64(size))
		stats := g.Stats()
		assert.Equal(t, uint64(64), stats.TotalAcquired)
		assert.Zero(t, stats.InFlight)
		assert.Zero(t, stats.Waiting)
	}
}

func TestGate_CancelledAcquireHoldsNothing(t *testing.T) {
	g := New(1, logger.NewDiscard())

	held, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	lease, err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, lease)

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.InFlight)
	assert.Zero(t, stats.Waiting, "no waiter left behind")
	assert.Equal(t, uint64(1), stats.Cancelled)

	held.Release()

	// the permit is available again, nothing leaked to the cancelled waiter
	next, err := g.Acquire(context.Background())
	require.NoError(t, err)
	next.Release()
	assert.Zero(t, g.Stats().InFlight)
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := New(1, logger.NewDiscard())

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	assert.Zero(t, g.Stats().InFlight)

	// a double release must not have created a second permit
	a, err := g.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.Error(t, err)
	a.Release()

	var nilLease *Lease
	nilLease.Release()
}

func TestGate_Unbounded(t *testing.T) {
	for _, size := range []int{0, -1} {
		g := New(size, logger.NewDiscard())
		leases := make([]*Lease, 0, 100)
		for i := 0; i < 100; i++ {
			lease, err := g.Acquire(context.Background())
			require.NoError(t, err)
			leases = append(leases, lease)
		}
		stats := g.Stats()
		assert.True(t, stats.Unbounded)
		assert.Equal(t, int64(100), stats.InFlight)
		for _, l := range leases {
			l.Release()
		}
		assert.Zero(t, g.Stats().InFlight)
	}
}

func TestGate_SlowAcquireCounted(t *testing.T) {
	g := New(1, logger.NewDiscard(), WithSlowThreshold(10*time.Millisecond))

	held, err := g.Acquire(context.Background())
	require.NoError(t, err)
	go func() {
		time.Sleep(40 * time.Millisecond)
		held.Release()
	}()

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	assert.GreaterOrEqual(t, lease.Waited, 10*time.Millisecond)
	assert.Equal(t, uint64(1), g.Stats().SlowAcquires)
}

func TestGate_Closed(t *testing.T) {
	g := New(2, logger.NewDiscard())
	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)

	g.Close()
	_, err = g.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrGateClosed)

	lease.Release()
	assert.Zero(t, g.Stats().InFlight)
}

func TestGate_PrometheusCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := New(2, logger.NewDiscard(), WithRegisterer(reg))

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(2), promtest.ToFloat64(g.metrics.capacity))
	assert.Equal(t, float64(1), promtest.ToFloat64(g.metrics.inFlight))
	assert.Equal(t, float64(1), promtest.ToFloat64(g.metrics.acquired))

	lease.Release()
	assert.Equal(t, float64(0), promtest.ToFloat64(g.metrics.inFlight))

	// a second gate on the same registry shares the collectors
	assert.NotPanics(t, func() { New(2, logger.NewDiscard(), WithRegisterer(reg)) })

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestGate_DeadlineIsTimeoutError(t *testing.T) {
	g := New(1, logger.NewDiscard(), WithState(func() domain.ReadinessState { return domain.StateReady }))
	held, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	lease, err := g.Acquire(ctx)
	assert.Nil(t, lease)

	var te *domain.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "gate acquire", te.Operation)
	assert.Equal(t, domain.StateReady, te.State)
	assert.Equal(t, int64(1), te.Capacity)
	assert.Equal(t, int64(1), te.InFlight)
	assert.GreaterOrEqual(t, te.Waited, 40*time.Millisecond)
	assert.True(t, te.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_CancelIsNotTimeout(t *testing.T) {
	g := New(1, logger.NewDiscard())
	held, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	var te *domain.TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestGate_CloseWakesWaiters(t *testing.T) {
	g := New(1, logger.NewDiscard())
	held, err := g.Acquire(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := g.Acquire(context.Background())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return g.Stats().Waiting == 3 }, time.Second, 5*time.Millisecond)

	g.Close()
	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, domain.ErrGateClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter still blocked after Close")
		}
	}

	assert.Zero(t, g.Stats().Waiting)
	held.Release()
	assert.Zero(t, g.Stats().InFlight)
	g.Close()
}
