package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/pkg/format"
)

// Gate bounds concurrent outbound requests. Acquire blocks until a permit is
// free or the context ends; waiters are served in arrival order.
type Gate struct {
	sem       *semaphore.Weighted
	logger    logger.StyledLogger
	state     func() domain.ReadinessState
	done      chan struct{}
	closeOnce sync.Once
	slowLog   *rate.Limiter
	metrics   *collectors
	now       func() time.Time
	capacity  int64
	slowAfter time.Duration
	inFlight  atomic.Int64
	waiting   atomic.Int64
	acquired  atomic.Uint64
	slow      atomic.Uint64
	cancelled atomic.Uint64
	closed    atomic.Bool
}

type Option func(*Gate)

// WithRegisterer exposes the gate through prometheus collectors
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gate) {
		g.metrics = newCollectors(reg)
	}
}

// WithState lets acquire timeouts report the readiness state they hit
func WithState(state func() domain.ReadinessState) Option {
	return func(g *Gate) {
		g.state = state
	}
}

// WithSlowThreshold changes how long a wait may take before it counts as slow
func WithSlowThreshold(d time.Duration) Option {
	return func(g *Gate) {
		g.slowAfter = d
	}
}

// New creates a gate with size permits. size <= 0 means unbounded.
func New(size int, log logger.StyledLogger, opts ...Option) *Gate {
	g := &Gate{
		logger:    log,
		slowLog:   rate.NewLimiter(rate.Every(constants.SlowAcquireLogInterval), 1),
		now:       time.Now,
		slowAfter: constants.SlowAcquireThreshold,
		done:      make(chan struct{}),
	}
	if size > 0 {
		g.capacity = int64(size)
		g.sem = semaphore.NewWeighted(g.capacity)
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics != nil {
		g.metrics.capacity.Set(float64(g.capacity))
	}
	return g
}

// Lease is a held permit. Release is safe to call more than once.
type Lease struct {
	gate     *Gate
	Waited   time.Duration
	released atomic.Bool
}

func (l *Lease) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.gate.release()
}

// Acquire waits for a permit. On error nothing is held: a deadline gives a
// TimeoutError, Close gives ErrGateClosed and cancellation returns ctx.Err().
func (g *Gate) Acquire(ctx context.Context) (*Lease, error) {
	if g.closed.Load() {
		return nil, domain.ErrGateClosed
	}

	start := g.now()
	if g.sem != nil {
		if err := g.wait(ctx, start); err != nil {
			return nil, err
		}
	}

	waited := g.now().Sub(start)
	g.inFlight.Add(1)
	g.acquired.Add(1)
	if g.metrics != nil {
		g.metrics.inFlight.Inc()
		g.metrics.acquired.Inc()
		g.metrics.wait.Observe(waited.Seconds())
	}

	if waited > g.slowAfter {
		g.slow.Add(1)
		if g.metrics != nil {
			g.metrics.slow.Inc()
		}
		if g.slowLog.Allow() {
			g.logger.Warn("Backend saturated, request waited for a permit",
				"waited", format.Duration(waited),
				"capacity", g.capacity,
				"waiting", g.waiting.Load(),
				"slow_total", g.slow.Load())
		}
	}

	return &Lease{gate: g, Waited: waited}, nil
}

func (g *Gate) wait(ctx context.Context, start time.Time) error {
	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.done:
			cancel()
		case <-acquireCtx.Done():
		}
	}()

	g.waiting.Add(1)
	g.observeWaiting()
	err := g.sem.Acquire(acquireCtx, 1)
	g.waiting.Add(-1)
	g.observeWaiting()
	if err == nil {
		return nil
	}

	g.cancelled.Add(1)
	if g.metrics != nil {
		g.metrics.cancelled.Inc()
	}
	switch {
	case ctx.Err() == nil && g.closed.Load():
		return domain.ErrGateClosed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return g.timeout(start, ctx.Err())
	default:
		return err
	}
}

func (g *Gate) timeout(start time.Time, cause error) *domain.TimeoutError {
	te := &domain.TimeoutError{
		Cause:     cause,
		Operation: "gate acquire",
		Waited:    g.now().Sub(start),
		Capacity:  g.capacity,
		InFlight:  g.inFlight.Load(),
		Waiting:   g.waiting.Load(),
	}
	if g.state != nil {
		te.State = g.state()
	}
	return te
}

func (g *Gate) release() {
	g.inFlight.Add(-1)
	if g.metrics != nil {
		g.metrics.inFlight.Dec()
	}
	if g.sem != nil {
		g.sem.Release(1)
	}
}

func (g *Gate) observeWaiting() {
	if g.metrics != nil {
		g.metrics.waiting.Set(float64(g.waiting.Load()))
	}
}

// Close refuses new acquisitions and wakes queued waiters with
// ErrGateClosed. Held leases stay valid.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		close(g.done)
	})
}

// Stats is a point in time view of the gate
type Stats struct {
	Capacity      int64  `json:"capacity"`
	InFlight      int64  `json:"inFlight"`
	Waiting       int64  `json:"waiting"`
	TotalAcquired uint64 `json:"totalAcquired"`
	SlowAcquires  uint64 `json:"slowAcquires"`
	Cancelled     uint64 `json:"cancelled"`
	Unbounded     bool   `json:"unbounded"`
}

func (g *Gate) Stats() Stats {
	return Stats{
		Capacity:      g.capacity,
		InFlight:      g.inFlight.Load(),
		Waiting:       g.waiting.Load(),
		TotalAcquired: g.acquired.Load(),
		SlowAcquires:  g.slow.Load(),
		Cancelled:     g.cancelled.Load(),
		Unbounded:     g.sem == nil,
	}
}
