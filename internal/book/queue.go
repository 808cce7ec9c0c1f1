package book

import "sync"

// Queue is an unbounded FIFO for committed updates. The synchronizer must
// never drop a committed update, so the queue grows instead of blocking or
// discarding: when full it doubles its ring. Push after Close is refused.
type Queue[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int
	count  int
	closed bool

	pushed    int64
	drained   int64
	grows     int
	highWater int
}

// QueueStats is a point-in-time snapshot of queue activity.
type QueueStats struct {
	Depth     int
	Capacity  int
	Pushed    int64
	Drained   int64
	Grows     int
	HighWater int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{ring: make([]T, initialCapacity)}
}

// Push enqueues one item, growing the ring if it is full. Returns false once
// the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.ring) {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++
	if q.count > q.highWater {
		q.highWater = q.count
	}
	return true
}

// DrainTo removes up to max items in FIFO order. max <= 0 drains everything.
// Returns nil when the queue is empty.
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

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = q.ring[q.head]
		q.ring[q.head] = zero
		q.head = (q.head + 1) % len(q.ring)
	}
	q.count -= n
	q.drained += int64(n)
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close refuses further pushes. Queued items remain drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:     q.count,
		Capacity:  len(q.ring),
		Pushed:    q.pushed,
		Drained:   q.drained,
		Grows:     q.grows,
		HighWater: q.highWater,
	}
}

// grow doubles the ring and rebases it so head is at index 0. Caller holds
// q.mu.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.ring)*2)
	n := copy(next, q.ring[q.head:])
	copy(next[n:], q.ring[:q.head])
	q.ring = next
	q.head = 0
	q.grows++
}
