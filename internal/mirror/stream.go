package mirror

import (
	"context"
	"sync"
)

// Stream is a hot multicast stream with full-history replay.
//
// The producer publishes events once; each subscriber reads them
// independently from its own unbounded buffer, so a slow subscriber can
// never stall the producer. Subscribers that join late are preloaded with
// the complete history, which guarantees they observe the same events in
// the same order as a subscriber that was present from the start.
//
// The stream is closed exactly once when the producing compilation
// finishes; subscribers then drain whatever is buffered and stop.
//
// Thread-safety: all methods are safe for concurrent use.
type Stream[T any] struct {
	mu      sync.Mutex
	history []T
	subs    []*Subscription[T]
	closed  bool
}

// NewStream creates an open stream with no subscribers.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Publish appends v to the history and delivers it to every live
// subscriber. Returns false if the stream is already closed.
//
// Publishing never blocks on subscribers: delivery is an append to each
// subscriber's buffer plus a non-blocking signal.
func (s *Stream[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.history = append(s.history, v)
	for _, sub := range s.subs {
		sub.buf.push(v)
	}
	return true
}

// Subscribe registers a new subscriber. The subscriber's buffer is
// preloaded with the full history so far, so its first reads replay
// everything the producer already emitted, in emission order.
//
// Subscribing to a closed stream returns a subscription that yields the
// full history and then reports exhaustion.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription[T]{buf: newBuffer[T]()}
	for _, v := range s.history {
		sub.buf.push(v)
	}
	if s.closed {
		sub.buf.close()
	} else {
		s.subs = append(s.subs, sub)
	}
	return sub
}

// Close marks the stream finished. Subscribers drain their buffers and
// then observe exhaustion. Publishing after Close is rejected.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		sub.buf.close()
	}
	s.subs = nil
}

// Len returns the number of events published so far.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Subscription is one subscriber's independent view of a stream.
//
// Next yields events in publication order. A cancelled subscription stops
// yielding immediately regardless of buffered events; cancelling never
// affects the producer or other subscribers.
type Subscription[T any] struct {
	buf       *buffer[T]
	cancelled bool
	mu        sync.Mutex
}

// Next returns the next event in order. It blocks until an event is
// available, the stream closes and the buffer drains (ok=false), the
// subscription is cancelled (ok=false), or ctx is done (ok=false).
func (sub *Subscription[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	for {
		sub.mu.Lock()
		if sub.cancelled {
			sub.mu.Unlock()
			return zero, false
		}
		sub.mu.Unlock()

		if v, ok := sub.buf.tryPop(); ok {
			return v, true
		}
		if sub.buf.drained() {
			return zero, false
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-sub.buf.wait():
		}
	}
}

// Cancel stops the subscription. Pending buffered events are discarded.
// Safe to call more than once and concurrently with Next.
func (sub *Subscription[T]) Cancel() {
	sub.mu.Lock()
	sub.cancelled = true
	sub.mu.Unlock()
	sub.buf.close()
}

// Cancelled reports whether Cancel has been called.
func (sub *Subscription[T]) Cancelled() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.cancelled
}

// buffer is an unbounded FIFO with a coalescing signal channel.
//
// Unbounded on purpose: the producer must never block on a slow consumer,
// and a typical compilation emits a bounded, small event stream.
type buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newBuffer[T any]() *buffer[T] {
	return &buffer[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (b *buffer[T]) push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.items = append(b.items, v)

	// Non-blocking - buffer of 1 coalesces multiple signals.
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *buffer[T]) tryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if len(b.items) == 0 {
		return zero, false
	}

	v := b.items[0]
	// Nil out the slot so the backing array does not retain the value.
	b.items[0] = zero
	if len(b.items) == 1 {
		b.items = b.items[:0]
	} else {
		b.items = b.items[1:]
	}
	return v, true
}

func (b *buffer[T]) drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed && len(b.items) == 0
}

func (b *buffer[T]) wait() <-chan struct{} {
	return b.signal
}

func (b *buffer[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.signal)
}
