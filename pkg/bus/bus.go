// Package bus provides the in-process multicast fan-out the engine uses
// to hand a single stream of values to many independent consumers (the
// Change Bus broadcasting Change Events to every query executor, and the
// Result Bus broadcasting Result Updates to the dispatcher). Grounded on
// the teacher's pkg/pgnotify.Bus subscribe/publish shape, adapted from a
// Postgres LISTEN/NOTIFY channel registry to an in-memory generic one
// since nothing here crosses a process boundary.
package bus

import (
	"sync"

	"github.com/flowbase/rudder/internal/rudderlog"
)

// OverflowPolicy controls what happens when a subscriber's channel is
// full at publish time.
type OverflowPolicy int

const (
	// Block makes Publish wait until the slow subscriber drains. Safe
	// default: spec.md requires no silent event loss.
	Block OverflowPolicy = iota
	// DropOldest discards the subscriber's oldest buffered value to make
	// room, logging the drop. Use for consumers where staleness is
	// preferable to backpressure (e.g. a metrics sink).
	DropOldest
)

// Bus is a generic multicast channel: every value Published is delivered
// to every current Subscriber.
type Bus[T any] struct {
	log      *rudderlog.Logger
	name     string
	bufSize  int
	overflow OverflowPolicy

	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// Config controls a Bus's buffering behavior.
type Config struct {
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int
	Overflow   OverflowPolicy
}

// DefaultConfig returns a blocking bus with a modest per-subscriber buffer.
func DefaultConfig() Config {
	return Config{BufferSize: 256, Overflow: Block}
}

// New constructs a Bus named name (used in log fields), a purely
// cosmetic label that shows up in drop/backpressure log lines.
func New[T any](name string, cfg Config, log *rudderlog.Logger) *Bus[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if log == nil {
		log = rudderlog.NewFromEnv("bus")
	}
	return &Bus[T]{
		log:      log,
		name:     name,
		bufSize:  cfg.BufferSize,
		overflow: cfg.Overflow,
		subs:     make(map[int]chan T),
	}
}

// Subscribe registers a new consumer and returns its channel and an
// Unsubscribe func. The channel is closed when Unsubscribe is called.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan T, b.bufSize)
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish delivers v to every current subscriber. Under Block (the
// default) this may wait for a slow subscriber to drain; under
// DropOldest a full subscriber has its oldest buffered value evicted to
// make room, and the eviction is logged.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	targets := make([]chan T, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.send(ch, v)
	}
}

func (b *Bus[T]) send(ch chan T, v T) {
	switch b.overflow {
	case DropOldest:
		for {
			select {
			case ch <- v:
				return
			default:
			}
			select {
			case <-ch:
				b.log.With(map[string]interface{}{"bus": b.name}).Warn("dropping oldest buffered value for slow subscriber")
			default:
				// another goroutine drained it; retry the send
			}
		}
	default: // Block
		ch <- v
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel and clears the subscriber set.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
