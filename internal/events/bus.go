package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the number of events retained for slow subscribers.
const DefaultCapacity = 256

// ErrClosed is returned by Recv once the bus is closed and the subscriber
// has consumed everything that was retained.
var ErrClosed = errors.New("event bus closed")

// LaggedError is returned by Recv when the subscriber fell so far behind that
// events were overwritten before it read them. The subscription resumes at
// the oldest retained event.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged, %d events missed", e.Missed)
}

// Bus is a fixed-capacity broadcast ring. Publish never blocks; every
// subscription keeps its own cursor into the ring.
type Bus struct {
	mu     sync.Mutex
	ring   []Event
	next   uint64 // sequence number of the next published event
	notify chan struct{}
	closed bool
	subs   int
}

// New creates a Bus that retains up to capacity events.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		ring:   make([]Event, capacity),
		notify: make(chan struct{}),
	}
}

// Publish appends an event, overwriting the oldest when the ring is full.
// Publishing to a closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.ring[b.next%uint64(len(b.ring))] = event
	b.next++

	close(b.notify)
	b.notify = make(chan struct{})
}

// Subscribe returns a subscription that sees every event published after
// this call.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs++
	return &Subscription{bus: b, cursor: b.next}
}

// Subscribers returns the number of subscriptions created so far.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

// Published returns the total number of events published.
func (b *Bus) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Close stops accepting events and wakes every waiting subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

func (b *Bus) oldest() uint64 {
	if n := uint64(len(b.ring)); b.next > n {
		return b.next - n
	}
	return 0
}

// Subscription is one reader's position in the bus. It is not safe for
// concurrent use by multiple goroutines.
type Subscription struct {
	bus    *Bus
	cursor uint64
}

// Recv blocks until the next event is available, ctx is done, or the bus is
// closed. A *LaggedError means events were missed; calling Recv again
// continues from the oldest retained event.
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	for {
		event, wait, err := s.poll()
		if event != nil || err != nil {
			return event, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryRecv returns the next event without blocking. ok is false when nothing
// is pending.
func (s *Subscription) TryRecv() (event Event, ok bool, err error) {
	event, _, err = s.poll()
	return event, event != nil, err
}

// poll returns the next event, an error, or a channel closed on the next publish.
func (s *Subscription) poll() (Event, <-chan struct{}, error) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if oldest := b.oldest(); s.cursor < oldest {
		missed := oldest - s.cursor
		s.cursor = oldest
		return nil, nil, &LaggedError{Missed: missed}
	}
	if s.cursor < b.next {
		event := b.ring[s.cursor%uint64(len(b.ring))]
		s.cursor++
		return event, nil, nil
	}
	if b.closed {
		return nil, nil, ErrClosed
	}
	return nil, b.notify, nil
}
