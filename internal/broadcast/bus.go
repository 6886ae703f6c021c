// Package broadcast implements the single-producer/many-consumer ring
// buffer described in spec.md §4.6: the message builder posts once,
// every subscriber reads at its own pace, and a slow subscriber drops
// behind instead of slowing the producer.
package broadcast

import (
	"context"
	"sync"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

// Bus is a bounded ring of *certmodel.PreSerialized references. Publish
// never blocks and never fails; a full ring simply overwrites its
// oldest slot.
type Bus struct {
	mu       sync.Mutex
	buf      []*certmodel.PreSerialized
	capacity uint64
	head     uint64 // total number of messages ever published
	waitCh   chan struct{}
}

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Bus{
		buf:      make([]*certmodel.PreSerialized, capacity),
		capacity: uint64(capacity),
		waitCh:   make(chan struct{}),
	}
}

// Publish posts msg to the ring and wakes every subscriber blocked on
// Next. The producer never waits on a subscriber.
func (b *Bus) Publish(msg *certmodel.PreSerialized) {
	b.mu.Lock()
	b.buf[b.head%b.capacity] = msg
	b.head++
	old := b.waitCh
	b.waitCh = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Subscription is one consumer's read cursor into the bus. It is not
// safe for concurrent use by multiple goroutines.
type Subscription struct {
	bus    *Bus
	next   uint64
	lagged uint64
}

// Subscribe returns a cursor positioned at the bus's current head: it
// will observe every message published from this point on, in order,
// until it falls behind by more than the bus's capacity.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscription{bus: b, next: b.head}
}

// Next blocks until a message is available or ctx is cancelled. If the
// subscription had fallen more than the bus's capacity behind, Next
// skips the dropped messages, bumps Lagged by exactly the number
// skipped, and returns the oldest message still present in the ring —
// satisfying the lag-drop contiguity invariant.
func (s *Subscription) Next(ctx context.Context) (*certmodel.PreSerialized, error) {
	b := s.bus
	for {
		b.mu.Lock()
		if s.next < b.head {
			if diff := b.head - s.next; diff > b.capacity {
				skip := diff - b.capacity
				s.next += skip
				s.lagged += skip
			}
			msg := b.buf[s.next%b.capacity]
			s.next++
			b.mu.Unlock()
			return msg, nil
		}
		ch := b.waitCh
		b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Lagged returns the cumulative number of messages this subscription
// has had to skip over its lifetime.
func (s *Subscription) Lagged() uint64 {
	return s.lagged
}
