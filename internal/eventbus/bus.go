// Package eventbus fans out re-plan triggers to the Planner (spec.md
// §4.3 "Re-plan triggers"): a manifest mutation, a slice commit, or a
// periodic tick, each routed by trigger kind to whichever subscriber
// cares.
package eventbus

import (
	"sync"
	"time"
)

// Kind identifies why a replan trigger fired.
type Kind string

const (
	KindSpecUpserted   Kind = "spec.upserted"
	KindSliceCommitted Kind = "slice.committed"
	KindTick           Kind = "tick"
)

// Trigger is one re-plan signal. StreamID is 0 for triggers that are
// not scoped to a single stream (e.g. KindTick).
type Trigger struct {
	Kind      Kind
	StreamID  int64
	Timestamp time.Time
	Reason    string
}

// Bus is an in-process event bus that routes triggers to subscribers
// based on kind. It uses Go channels for delivery and is safe for
// concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]chan<- Trigger
	closed      bool
}

// New creates a new Bus ready for use.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Kind][]chan<- Trigger),
	}
}

// Subscribe registers a channel to receive triggers of the given kind.
// The caller is responsible for creating the channel with sufficient
// buffer capacity; slow subscribers will have triggers dropped.
func (b *Bus) Subscribe(kind Kind, ch chan<- Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], ch)
}

// Publish sends a trigger to all subscribers registered for that kind.
// If a subscriber's channel is full, the trigger is dropped for that
// subscriber — the Planner's periodic tick will pick up anything
// missed. Publish is a no-op after Close has been called.
func (b *Bus) Publish(t Trigger) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[t.Kind] {
		select {
		case ch <- t:
		default:
		}
	}
}

// Close marks the bus as closed. After Close, Publish is a no-op.
// Close does not close subscriber channels; that is the caller's
// responsibility.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
