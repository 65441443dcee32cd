package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/pkg/eventbus"
)

// Machine holds the adapter lifecycle state. Writes are serialised and every
// distinct transition is published exactly once; subscribers always start
// with the current state.
type Machine struct {
	bus     *eventbus.EventBus[domain.ReadinessChange]
	logger  logger.StyledLogger
	now     func() time.Time
	changed chan struct{}
	cause   error
	reason  string
	state   domain.ReadinessState
	mu      sync.RWMutex
}

func NewMachine(log logger.StyledLogger) *Machine {
	m := &Machine{
		bus:     eventbus.NewSticky[domain.ReadinessChange](),
		logger:  log,
		now:     time.Now,
		changed: make(chan struct{}),
		state:   domain.StateUninitialized,
	}
	m.bus.Publish(domain.ReadinessChange{At: m.now(), From: domain.StateUninitialized, To: domain.StateUninitialized})
	return m
}

func (m *Machine) State() domain.ReadinessState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the state with the reason given for entering it
func (m *Machine) Snapshot() (domain.ReadinessState, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.reason
}

// TransitionTo moves to next. Asking for the current state is a no-op that
// returns false; a move the transition table forbids returns a TransitionError.
func (m *Machine) TransitionTo(next domain.ReadinessState, reason string) (bool, error) {
	return m.transition(next, reason, nil)
}

// Fail moves to Failed and records the error waiters will see as the cause
func (m *Machine) Fail(reason string, cause error) (bool, error) {
	return m.transition(domain.StateFailed, reason, cause)
}

func (m *Machine) transition(next domain.ReadinessState, reason string, cause error) (bool, error) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return false, nil
	}
	if !prev.CanTransitionTo(next) {
		m.mu.Unlock()
		return false, &domain.TransitionError{From: prev, To: next}
	}

	m.state = next
	m.reason = reason
	m.cause = cause
	close(m.changed)
	m.changed = make(chan struct{})
	change := domain.ReadinessChange{At: m.now(), From: prev, To: next, Reason: reason}
	// publish under the lock so subscribers see transitions in order
	m.bus.Publish(change)
	m.mu.Unlock()

	m.logger.InfoReadiness("Readiness changed", next, "from", prev.String(), "reason", reason)
	return true, nil
}

// Subscribe delivers the current state first and then every later change.
// The channel closes when ctx ends or cleanup is called.
func (m *Machine) Subscribe(ctx context.Context) (<-chan domain.ReadinessChange, func()) {
	return m.bus.Subscribe(ctx)
}

// Wait blocks until initialisation settles. Ready and Degraded return with a
// nil error and the caller decides whether Degraded is acceptable; Failed
// returns a ReadinessError.
func (m *Machine) Wait(ctx context.Context, timeout time.Duration) (domain.ReadinessState, error) {
	if timeout <= 0 {
		return m.State(), domain.NewConfigValidationError("readiness.timeout", timeout, "must be positive")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	start := m.now()

	for {
		m.mu.RLock()
		state, reason, cause, changed := m.state, m.reason, m.cause, m.changed
		m.mu.RUnlock()

		switch {
		case state == domain.StateFailed:
			return state, domain.NewReadinessError(state, reason, cause)
		case state.IsTerminal():
			return state, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return m.State(), &domain.TimeoutError{Operation: "readiness wait", State: m.State(), Waited: m.now().Sub(start)}
		case <-ctx.Done():
			return m.State(), ctx.Err()
		}
	}
}

// Close ends all subscriptions
func (m *Machine) Close() {
	m.bus.Shutdown()
}
