package event

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a non-positive buffer.
const DefaultSubscriberBuffer = 64

// Bus fans values out to subscribers. Each subscriber owns a bounded ring; a slow
// subscriber loses its oldest undelivered values, never blocks the publisher, and
// always observes values in publish order.
type Bus[T any] struct {
	name   string
	logger *logrus.Logger

	subs   *hashmap.Map[uint64, *Subscription[T]]
	nextID atomic.Uint64

	mu     sync.Mutex // serializes Publish with Close and Unsubscribe
	closed bool
}

// NewBus creates a bus. name is used for diagnostics only.
func NewBus[T any](name string, logger *logrus.Logger) *Bus[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus[T]{
		name:   name,
		logger: logger,
		subs:   hashmap.New[uint64, *Subscription[T]](),
	}
}

// Subscription is one subscriber's view of a Bus. Overflow drops the oldest value
// whatever it carries; Dropped counts the losses.
type Subscription[T any] struct {
	id   uint64
	bus  *Bus[T]
	ring *RingChannel[T]
	once sync.Once
}

// C returns the delivery channel. It is closed when the subscription or the bus is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ring.C()
}

// Dropped returns how many values were overwritten because the subscriber lagged.
func (s *Subscription[T]) Dropped() int64 {
	return s.ring.GetMetrics().Overwritten
}

// Close unsubscribes and closes the delivery channel. Safe to call multiple times.
func (s *Subscription[T]) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription[T]) closeLocked() {
	s.once.Do(func() {
		s.bus.subs.Del(s.id)
		s.ring.Close()
	})
}

// Subscribe registers a new subscriber. Subscribing to a closed bus returns an
// already-closed subscription.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscription[T]{
		id:   b.nextID.Add(1),
		bus:  b,
		ring: NewRingChannel[T](buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closeLocked()
		return sub
	}
	b.subs.Set(sub.id, sub)

	b.logger.WithFields(logrus.Fields{
		"bus":        b.name,
		"subscriber": sub.id,
		"buffer":     buffer,
	}).Debug("Subscriber added")
	return sub
}

// Publish delivers v to every current subscriber and returns the number of recipients.
func (b *Bus[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}

	delivered := 0
	b.subs.Range(func(id uint64, sub *Subscription[T]) bool {
		if sub.ring.ForceSend(v) {
			b.logger.WithFields(logrus.Fields{
				"bus":        b.name,
				"subscriber": id,
			}).Warn("Subscriber lagging, dropped oldest value")
		}
		delivered++
		return true
	})
	return delivered
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	return b.subs.Len()
}

// Close closes every subscription. Further Publish calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	var subs []*Subscription[T]
	b.subs.Range(func(_ uint64, sub *Subscription[T]) bool {
		subs = append(subs, sub)
		return true
	})
	for _, sub := range subs {
		sub.closeLocked()
	}
}
