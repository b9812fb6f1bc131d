package expqueue

import (
	"github.com/eapache/queue"
)

// Compaction is not attempted below this number of dead elements
const minCompactDead = 64

// Handle to a value in the queue, used to remove it
type Element[T any] struct {
	Value T
	live  bool
}

// Insertion ordered queue of values, with removal from any position.
// Removed elements stay in the ring marked as dead, and are dropped when they reach the
// head or when the ring is compacted, so all operations are O(1) amortized.
// Not thread safe.
type Queue[T any] struct {
	ring *queue.Queue
	live int
	dead int
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ring: queue.New()}
}

// Appends the value to the tail and returns the handle to remove it
func (q *Queue[T]) PushBack(v T) *Element[T] {
	e := &Element[T]{Value: v, live: true}
	q.ring.Add(e)
	q.live++
	return e
}

// Detaches the element. Does nothing if nil or already removed
func (q *Queue[T]) Remove(e *Element[T]) {
	if e == nil || !e.live {
		return
	}
	e.live = false
	q.live--
	q.dead++

	if q.dead > minCompactDead && q.dead > 2*q.live {
		q.compact()
	}
}

// Returns the oldest value in the queue
func (q *Queue[T]) Front() (T, bool) {
	for q.ring.Length() > 0 {
		e := q.ring.Peek().(*Element[T])
		if e.live {
			return e.Value, true
		}
		q.ring.Remove()
		q.dead--
	}

	var zero T
	return zero, false
}

// Number of values in the queue
func (q *Queue[T]) Len() int {
	return q.live
}

// Calls f for each value from oldest to newest, until f returns false.
// The queue must not be modified from f
func (q *Queue[T]) Each(f func(v T) bool) {
	for i := 0; i < q.ring.Length(); i++ {
		if e := q.ring.Get(i).(*Element[T]); e.live {
			if !f(e.Value) {
				return
			}
		}
	}
}

// Rebuilds the ring with the live elements only
func (q *Queue[T]) compact() {
	ring := queue.New()
	for q.ring.Length() > 0 {
		if e := q.ring.Remove().(*Element[T]); e.live {
			ring.Add(e)
		}
	}
	q.ring = ring
	q.dead = 0
}

// Returns true if the element has not been removed
func (e *Element[T]) InQueue() bool {
	return e != nil && e.live
}
