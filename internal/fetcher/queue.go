package fetcher

import (
	"sync"

	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/state"
)

// Snapshot is one cleaned directory listing tagged with the minute at
// which the request was dispatched.
type Snapshot struct {
	Games api.GetGamesResponse
	Time  state.TimeMinutes
}

// SnapshotQueue is an unbounded FIFO between the poll fetcher and the
// updater. Go channels are bounded; here a slow updater must cost
// memory, not fetch latency, so the queue grows without limit and the
// producer never blocks.
type SnapshotQueue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []Snapshot
	closed   bool
}

// NewSnapshotQueue returns an empty open queue.
func NewSnapshotQueue() *SnapshotQueue {
	q := &SnapshotQueue{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends a snapshot. Push on a closed queue panics: it means the
// producer outlived shutdown.
func (q *SnapshotQueue) Push(s Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic("fetcher: push on closed snapshot queue")
	}
	q.items = append(q.items, s)
	q.nonEmpty.Signal()
}

// Pop blocks until a snapshot is available and returns it. The second
// result is false once the queue is closed and drained.
func (q *SnapshotQueue) Pop() (Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.nonEmpty.Wait()
	}
	if len(q.items) == 0 {
		return Snapshot{}, false
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}

// Len returns the number of queued snapshots.
func (q *SnapshotQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all blocked consumers; queued snapshots remain poppable.
func (q *SnapshotQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
}
