package loop

import (
	"sync"
)

// Queue is a thread-safe FIFO ring that doubles its capacity when full.
// Push never blocks; consumers are woken through Ready.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool

	ready chan struct{}
	done  chan struct{}

	// Stats
	pushed  int64
	popped  int64
	resizes int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		buf:   make([]T, initialCapacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++
	q.mu.Unlock()

	// Coalesce wakeups: one pending signal is enough for a draining consumer.
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++

	return item, true
}

// DrainTo removes up to max items (all items if max <= 0) in FIFO order.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)

	return out
}

// Ready is signalled after a Push. A receive means "drain with TryPop".
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Done is closed by Close.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Close rejects further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:     q.count,
		Cap:     len(q.buf),
		Pushed:  q.pushed,
		Popped:  q.popped,
		Resizes: q.resizes,
	}
}

// Stats contains queue counters.
type Stats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Resizes int
}

// grow doubles the ring. Must be called with lock held.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)

	// Unwrap [head...end) + [0...tail) into the front of the new ring.
	n := copy(next, q.buf[q.head:])
	if n < q.count {
		copy(next[n:], q.buf[:q.tail])
	}

	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
