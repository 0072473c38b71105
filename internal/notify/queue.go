package notify

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned by Push when the queue is at capacity and the
// incoming entry does not outrank the current lowest entry.
var ErrQueueFull = errors.New("notification queue full")

// Entry wraps a Notification while it sits in a destination queue. The
// orchestrator exclusively owns entries from enqueue to terminal outcome.
type Entry struct {
	N           Notification
	Priority    Priority
	Destination string
	Recipients  []RecipientID
	Voice       bool

	EnqueuedAt time.Time
	// EligibleAt defaults to EnqueuedAt and is pushed forward on retry or
	// rate-limit deferral.
	EligibleAt time.Time
	Attempts   int
	LastError  string

	seq   uint64
	index int
}

// entryHeap orders by (priority desc, eligible time asc, enqueue order asc).
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return rankBefore(h[i], h[j]) }

// rankBefore reports whether a outranks b in pop order.
func rankBefore(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EligibleAt.Equal(b.EligibleAt) {
		return a.EligibleAt.Before(b.EligibleAt)
	}
	return a.seq < b.seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a bounded priority queue for one destination. Capacity pressure
// rejects or evicts the lowest-ranked entry; Critical entries never reach
// the queue (they take the bypass path).
type Queue struct {
	mu  sync.Mutex
	cap int
	h   entryHeap
	seq uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 500
	}
	return &Queue{cap: capacity}
}

// Push inserts the entry, maintaining the ordering invariant. When the
// queue is full it evicts the current lowest-ranked entry if the incoming
// one has strictly higher priority (the evicted entry is returned so the
// caller can record the drop), otherwise it returns ErrQueueFull.
func (q *Queue) Push(e *Entry) (evicted *Entry, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.EligibleAt.IsZero() {
		e.EligibleAt = e.EnqueuedAt
	}
	if e.seq == 0 {
		q.seq++
		e.seq = q.seq
	}

	if len(q.h) >= q.cap {
		low := q.lowestLocked()
		if low == nil || e.Priority <= low.Priority {
			return nil, ErrQueueFull
		}
		heap.Remove(&q.h, low.index)
		evicted = low
	}

	heap.Push(&q.h, e)
	return evicted, nil
}

// lowestLocked finds the worst-ranked entry. O(n), but only runs under
// capacity pressure.
func (q *Queue) lowestLocked() *Entry {
	var low *Entry
	for _, e := range q.h {
		if low == nil || rankBefore(low, e) {
			low = e
		}
	}
	return low
}

// PopEligible removes and returns the highest-ranked entry whose eligible
// time has arrived. If the queue is empty, or the best candidate is
// scheduled in the future, it returns (nil, false) without removing
// anything; the caller must wait.
func (q *Queue) PopEligible(now time.Time) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	if q.h[0].EligibleAt.After(now) {
		return nil, false
	}
	e := heap.Pop(&q.h).(*Entry)
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// EvictExpired removes every entry older than ttl (by enqueue time),
// regardless of priority, and returns them for expiry recording.
func (q *Queue) EvictExpired(now time.Time, ttl time.Duration) []*Entry {
	if ttl <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*Entry
	for i := 0; i < len(q.h); {
		if now.Sub(q.h[i].EnqueuedAt) > ttl {
			expired = append(expired, heap.Remove(&q.h, i).(*Entry))
			continue
		}
		i++
	}
	return expired
}

// Drain empties the queue and returns the remaining entries in rank order.
// Used at shutdown to record leftovers as expired.
func (q *Queue) Drain() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Entry, 0, len(q.h))
	for len(q.h) > 0 {
		out = append(out, heap.Pop(&q.h).(*Entry))
	}
	return out
}
