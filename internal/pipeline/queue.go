package pipeline

import "errors"

// ErrQueueFull is returned by Push when the queue is at capacity
var ErrQueueFull = errors.New("pending queue full")

// PendingQueue holds outstanding runners in submission order.
//
// Only the head is ever inspected: a completed runner behind an unfinished
// one waits, so results leave the queue in exactly the order they entered.
type PendingQueue struct {
	ring []Runner
	head int
	n    int
}

// NewPendingQueue creates a queue holding at most capacity runners
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PendingQueue{ring: make([]Runner, capacity)}
}

// Push appends r, refusing it when the queue is full
func (q *PendingQueue) Push(r Runner) error {
	if q.Full() {
		return ErrQueueFull
	}
	q.ring[(q.head+q.n)%len(q.ring)] = r
	q.n++
	return nil
}

// FrontReady reports whether the head runner has completed
func (q *PendingQueue) FrontReady() bool {
	return q.n > 0 && q.ring[q.head].Ready()
}

// PopFront removes and returns the head runner
func (q *PendingQueue) PopFront() (Runner, bool) {
	if q.n == 0 {
		return nil, false
	}
	r := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	return r, true
}

// Len returns the number of outstanding runners
func (q *PendingQueue) Len() int {
	return q.n
}

// Cap returns the queue capacity
func (q *PendingQueue) Cap() int {
	return len(q.ring)
}

// Full reports whether the queue is at capacity
func (q *PendingQueue) Full() bool {
	return q.n >= len(q.ring)
}
