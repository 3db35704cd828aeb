package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue implements Queue in-process. It backs single-node deployments
// and the test suite; the ordering and single-delivery contract is identical
// to the Redis implementation.
type MemoryQueue struct {
	mu     sync.Mutex
	heap   entryHeap
	index  map[string]*entry
	seq    int64
	notify chan struct{}
}

type entry struct {
	jobID    string
	priority int
	seq      int64
	removed  bool
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		index:  make(map[string]*entry),
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.mu.Lock()
	// One live entry per job id, matching sorted-set member semantics: a
	// repeat enqueue reschedules rather than duplicates.
	if old, ok := q.index[jobID]; ok {
		old.removed = true
	}
	q.seq++
	e := &entry{jobID: jobID, priority: priority, seq: q.seq}
	heap.Push(&q.heap, e)
	q.index[jobID] = e
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		for q.heap.Len() > 0 {
			e := heap.Pop(&q.heap).(*entry)
			if e.removed {
				continue
			}
			delete(q.index, e.jobID)
			more := q.heap.Len() > 0
			q.mu.Unlock()
			if more {
				// Re-arm the signal so other blocked consumers re-check.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return e.jobID, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-deadline.C:
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *MemoryQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[jobID]
	if !ok {
		return false, nil
	}
	// Lazy removal: mark and let Dequeue skip it. The index entry goes now so
	// Len stays accurate.
	e.removed = true
	delete(q.index, jobID)
	return true, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.index)), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}

// entryHeap orders by priority descending, then enqueue sequence ascending.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
