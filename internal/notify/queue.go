package notify

import "sync"

// queue is a thread-safe FIFO of notifications.
//
// The queue is unbounded so that emitters never block while holding their
// dataset lock. A buffered signal channel lets the Run loop wait with
// context awareness.
type queue struct {
	mu     sync.Mutex
	items  []Notification
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newQueue() *queue {
	return &queue{
		items:  make([]Notification, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a notification to the back of the queue.
// Returns false if the queue is closed.
func (q *queue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, n)

	// Non-blocking: a buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front notification without blocking.
func (q *queue) TryDequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Notification{}, false
	}

	n := q.items[0]
	q.items[0] = Notification{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return n, true
}

// Wait returns a channel that signals when notifications may be available.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes the waiter.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
