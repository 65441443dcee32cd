package eventbus

/*
 * EventBus - pub/sub over buffered channels with an optional sticky last value.
 *
 * Subscribers registered after a publish still see the most recent event when
 * the bus is sticky, which removes the subscribe-after-transition race that
 * state watchers otherwise have to deal with.
 */
import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// EventBus fans events out to subscribers without blocking the publisher
type EventBus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	latest        T
	hasLatest     bool
	publishMu     sync.Mutex
	isShutdown    atomic.Bool
	subscriberSeq atomic.Uint64
	bufferSize    int
	sticky        bool
}

type subscriber[T any] struct {
	ch       chan T
	id       string
	dropped  atomic.Uint64
	isActive atomic.Bool
}

// EventBusConfig allows customisation of buffer sizes and replay behaviour
type EventBusConfig struct {
	BufferSize int
	// Sticky replays the last published event to new subscribers
	Sticky bool
}

var DefaultConfig = EventBusConfig{
	BufferSize: 16,
	Sticky:     false,
}

// New creates a new EventBus with default configuration
func New[T any]() *EventBus[T] {
	return NewWithConfig[T](DefaultConfig)
}

// NewSticky creates a bus that replays the last event on subscribe
func NewSticky[T any]() *EventBus[T] {
	cfg := DefaultConfig
	cfg.Sticky = true
	return NewWithConfig[T](cfg)
}

// NewWithConfig creates a new EventBus with custom configuration
func NewWithConfig[T any](config EventBusConfig) *EventBus[T] {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	return &EventBus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  config.BufferSize,
		sticky:      config.Sticky,
	}
}

// Subscribe returns a channel of events and a cleanup function. The channel
// is closed on cleanup, context cancellation or shutdown.
func (eb *EventBus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if eb.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(eb.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{
		id: id,
		ch: make(chan T, eb.bufferSize),
	}
	sub.isActive.Store(true)

	// registration and replay happen under the publish lock so a concurrent
	// Publish is either replayed here or delivered afterwards, never lost
	eb.publishMu.Lock()
	eb.subscribers.Store(id, sub)
	if eb.sticky && eb.hasLatest {
		sub.ch <- eb.latest
	}
	eb.publishMu.Unlock()

	go func() {
		<-ctx.Done()
		eb.unsubscribe(id)
	}()

	return sub.ch, func() { eb.unsubscribe(id) }
}

// Publish sends an event to all active subscribers and returns how many got
// it. A full subscriber buffer loses its oldest event rather than the newest.
func (eb *EventBus[T]) Publish(event T) int {
	if eb.isShutdown.Load() {
		return 0
	}

	eb.publishMu.Lock()
	defer eb.publishMu.Unlock()

	if eb.sticky {
		eb.latest = event
		eb.hasLatest = true
	}

	delivered := 0
	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}
		if eb.deliver(sub, event) {
			delivered++
		}
		return true
	})

	return delivered
}

func (eb *EventBus[T]) deliver(sub *subscriber[T], event T) bool {
	select {
	case sub.ch <- event:
		return true
	default:
	}

	// make room by dropping the oldest queued event
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- event:
		return true
	default:
		sub.dropped.Add(1)
		return false
	}
}

// Latest returns the last published event on a sticky bus
func (eb *EventBus[T]) Latest() (T, bool) {
	eb.publishMu.Lock()
	defer eb.publishMu.Unlock()
	return eb.latest, eb.hasLatest
}

// Shutdown closes every subscriber channel, later publishes are ignored
func (eb *EventBus[T]) Shutdown() {
	if !eb.isShutdown.CompareAndSwap(false, true) {
		return
	}

	eb.publishMu.Lock()
	defer eb.publishMu.Unlock()

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.ch)
		}
		return true
	})
	eb.subscribers.Clear()
}

// Stats returns overall event bus statistics
func (eb *EventBus[T]) Stats() EventBusStats {
	stats := EventBusStats{
		IsShutdown: eb.isShutdown.Load(),
	}
	if stats.IsShutdown {
		return stats
	}

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		stats.TotalSubscribers++
		if sub.isActive.Load() {
			stats.ActiveSubscribers++
		}
		stats.TotalDropped += sub.dropped.Load()
		return true
	})

	return stats
}

// EventBusStats provides aggregate metrics
type EventBusStats struct {
	TotalSubscribers  int
	ActiveSubscribers int
	TotalDropped      uint64
	IsShutdown        bool
}

func (eb *EventBus[T]) unsubscribe(id string) {
	eb.publishMu.Lock()
	defer eb.publishMu.Unlock()

	if sub, exists := eb.subscribers.LoadAndDelete(id); exists {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.ch)
		}
	}
}
