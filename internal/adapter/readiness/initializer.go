package readiness

import (
	"context"
	"sync"
)

// Initializer runs an initialisation function at most once. Every caller,
// including the one that triggered the run, waits on the same outcome.
type Initializer struct {
	done    chan struct{}
	err     error
	mu      sync.Mutex
	started bool
}

func NewInitializer() *Initializer {
	return &Initializer{done: make(chan struct{})}
}

// Do starts fn on the first call and waits for its result. The run itself is
// detached from the caller's context, so a cancelled caller stops waiting but
// does not abort initialisation for everyone else.
func (i *Initializer) Do(ctx context.Context, fn func(context.Context) error) error {
	i.mu.Lock()
	if !i.started {
		i.started = true
		go func() {
			err := fn(context.WithoutCancel(ctx))
			i.mu.Lock()
			i.err = err
			i.mu.Unlock()
			close(i.done)
		}()
	}
	i.mu.Unlock()

	select {
	case <-i.done:
		i.mu.Lock()
		defer i.mu.Unlock()
		return i.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started reports whether Do has been called
func (i *Initializer) Started() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started
}

// Done is closed once initialisation has finished
func (i *Initializer) Done() <-chan struct{} {
	return i.done
}
