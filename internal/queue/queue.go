// Package queue provides the priority dispatch queue decoupling job
// submission from worker pickup. Entries are lightweight references (job id +
// priority); the job record itself lives in the record store.
package queue

import (
	"context"
	"time"
)

// Queue orders pending job references by (priority descending, enqueue time
// ascending) and hands each reference to exactly one dequeuer. Within a
// priority tier ordering is FIFO; across tiers strict priority applies, so a
// low-priority job may starve under sustained high-priority load.
type Queue interface {
	// Enqueue inserts a job reference. Failures surface as ErrQueueUnavailable.
	Enqueue(ctx context.Context, jobID string, priority int) error

	// Dequeue removes and returns the highest-priority reference, blocking up
	// to timeout when the queue is empty. Returns "" with a nil error when the
	// timeout elapses with no work. A given reference is delivered to at most
	// one caller.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)

	// Remove de-schedules a pending reference, best-effort. Returns false when
	// the reference was already consumed by a worker.
	Remove(ctx context.Context, jobID string) (bool, error)

	// Len reports the number of pending references.
	Len(ctx context.Context) (int64, error)

	Close() error
}
