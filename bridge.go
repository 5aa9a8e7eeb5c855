package gibridge

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Subscription.Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Event is one callback notification: a monotonically increasing
// sequence id and an opaque payload.
type Event struct {
	Seq     int64
	Payload any
}

const defaultBridgeCapacity = 100

// Bridge is the crossing point between the foreign threads that
// deliver native callback notifications and the goroutines serving
// subscribers. It holds a fixed-capacity ring of events, evicting the
// oldest when full: bounded memory is chosen over guaranteed delivery,
// and a subscriber that lags behind eviction silently misses the
// evicted events.
//
// One mutex guards the sequence counter and the ring together, so
// sequence ids and buffer order never disagree.
type Bridge struct {
	mu      sync.Mutex
	ring    []Event
	head    int // index of the oldest event
	count   int
	nextSeq int64
	subs    map[int64]chan struct{}
	nextSub int64
}

// NewBridge creates a bridge holding at most capacity events.
// Capacities below one fall back to the default.
func NewBridge(capacity int) *Bridge {
	if capacity < 1 {
		capacity = defaultBridgeCapacity
	}
	return &Bridge{
		ring: make([]Event, capacity),
		subs: make(map[int64]chan struct{}),
	}
}

// Push appends an event and wakes waiting subscribers. It is safe to
// call from any thread, including the transport's message-processing
// thread, and never blocks: wake signals are delivered best-effort
// into single-slot channels.
func (b *Bridge) Push(payload any) {
	b.mu.Lock()
	ev := Event{Seq: b.nextSeq, Payload: payload}
	b.nextSeq++
	if b.count == len(b.ring) {
		b.ring[b.head] = ev
		b.head = (b.head + 1) % len(b.ring)
	} else {
		b.ring[(b.head+b.count)%len(b.ring)] = ev
		b.count++
	}
	wakes := make([]chan struct{}, 0, len(b.subs))
	for _, ch := range b.subs {
		wakes = append(wakes, ch)
	}
	b.mu.Unlock()

	for _, ch := range wakes {
		select {
		case ch <- struct{}{}:
		default:
			// A pending signal already guarantees a wakeup.
		}
	}
}

// Len returns the number of buffered events.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// snapshotAfter copies, in ascending sequence order, every buffered
// event with a sequence id greater than seq.
func (b *Bridge) snapshotAfter(seq int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for i := 0; i < b.count; i++ {
		ev := b.ring[(b.head+i)%len(b.ring)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a new reader starting before the oldest buffered
// event. Each subscription tracks its own position and is unaffected
// by other subscribers' progress. Close it when done; an abandoned
// subscription holds a slot in the wait set.
func (b *Bridge) Subscribe() *Subscription {
	s := &Subscription{
		b:        b,
		lastSeen: -1,
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	b.mu.Lock()
	s.id = b.nextSub
	b.nextSub++
	b.subs[s.id] = s.wake
	b.mu.Unlock()
	return s
}

// Subscription is one reader's cursor over the bridge.
type Subscription struct {
	b        *Bridge
	id       int64
	lastSeen int64
	wake     chan struct{}
	closed   chan struct{}
	once     sync.Once
}

// Next blocks until an unseen event is available and returns the
// oldest one. Events arrive in ascending sequence order, each exactly
// once as long as the subscriber keeps up with eviction.
//
// Next is not safe for concurrent use on one subscription.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if evs := s.b.snapshotAfter(s.lastSeen); len(evs) > 0 {
			s.lastSeen = evs[0].Seq
			return evs[0], nil
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.closed:
			return Event{}, ErrSubscriptionClosed
		case <-s.wake:
		}
	}
}

// Resume moves the cursor so that Next returns only events with a
// sequence id greater than seq. Call it before the first Next.
func (s *Subscription) Resume(seq int64) {
	if seq > s.lastSeen {
		s.lastSeen = seq
	}
}

// Close removes the subscription from the wait set and unblocks a
// pending Next promptly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s.id)
		s.b.mu.Unlock()
		close(s.closed)
	})
}
