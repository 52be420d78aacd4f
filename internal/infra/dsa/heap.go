// Package dsa holds small, dependency-free data structures shared by the
// storage layer.
package dsa

import (
	"sync"
	"time"
)

// ─── Expiry Queue (Min-Heap) ────────────────────────────────────────────────
// A binary min-heap ordered by expiry time, used by the retention
// scheduler to decide which of idempotency_keys, rate_limit_buckets,
// rejection_log, and ride_audit is next due for a sweep without
// rescanning every table on every tick.
//
// Operations:
//   Push: O(log n) — sift up
//   Pop:  O(log n) — sift down (extract-min)
//   Peek: O(1)
//   Len:  O(1)

// ExpiryItem is one pending sweep: a row class due for deletion at
// ExpiresAt.
type ExpiryItem struct {
	Table     string    // which table this entry governs ("idempotency_keys", …)
	ExpiresAt time.Time // when this class of row next becomes sweepable
}

// ExpiryQueue is a thread-safe min-heap ordered by ExpiresAt.
type ExpiryQueue struct {
	mu   sync.Mutex
	heap []ExpiryItem
	now  func() time.Time // injectable clock for testing
}

// NewExpiryQueue creates an empty expiry queue.
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{now: time.Now}
}

// Push adds or reschedules an item. O(log n).
func (q *ExpiryQueue) Push(item ExpiryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = append(q.heap, item)
	q.siftUp(len(q.heap) - 1)
}

// Pop removes and returns the soonest-expiring item. O(log n).
func (q *ExpiryQueue) Pop() (ExpiryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return ExpiryItem{}, false
	}

	top := q.heap[0]
	last := len(q.heap) - 1
	q.heap[0] = q.heap[last]
	q.heap = q.heap[:last]
	if len(q.heap) > 0 {
		q.siftDown(0)
	}
	return top, true
}

// Peek returns the soonest-expiring item without removing it. O(1).
func (q *ExpiryQueue) Peek() (ExpiryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return ExpiryItem{}, false
	}
	return q.heap[0], true
}

// Len returns the number of scheduled items.
func (q *ExpiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// DueBy reports whether the soonest item expires at or before t.
func (q *ExpiryQueue) DueBy(t time.Time) bool {
	item, ok := q.Peek()
	return ok && !item.ExpiresAt.After(t)
}

func (q *ExpiryQueue) less(i, j int) bool {
	return q.heap[i].ExpiresAt.Before(q.heap[j].ExpiresAt)
}

// siftUp restores heap property after insertion.
func (q *ExpiryQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if q.less(idx, parent) {
			q.heap[idx], q.heap[parent] = q.heap[parent], q.heap[idx]
			idx = parent
		} else {
			break
		}
	}
}

// siftDown restores heap property after extraction.
func (q *ExpiryQueue) siftDown(idx int) {
	n := len(q.heap)
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2

		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		q.heap[idx], q.heap[smallest] = q.heap[smallest], q.heap[idx]
		idx = smallest
	}
}
