package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePriorityOrder(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "low", 0))
	require.NoError(t, q.Enqueue(ctx, "high", 10))
	require.NoError(t, q.Enqueue(ctx, "mid", 5))

	var got []string
	for i := 0; i < 3; i++ {
		id, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, got)
}

func TestMemoryQueueFIFOWithinPriority(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "first", 3))
	require.NoError(t, q.Enqueue(ctx, "second", 3))
	require.NoError(t, q.Enqueue(ctx, "third", 3))

	for _, want := range []string{"first", "second", "third"} {
		id, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestMemoryQueueDequeueTimeout(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	start := time.Now()
	id, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(ctx, 5*time.Second)
		if err == nil {
			done <- id
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "job-1", 0))

	select {
	case id := <-done:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not observe enqueue")
	}
}

func TestMemoryQueueRemove(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "keep", 1))
	require.NoError(t, q.Enqueue(ctx, "drop", 9))

	removed, err := q.Remove(ctx, "drop")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "keep", id)
}

func TestMemoryQueueRepeatEnqueueReschedules(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", 0))
	require.NoError(t, q.Enqueue(ctx, "other", 0))
	require.NoError(t, q.Enqueue(ctx, "job-1", 0))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The repeat enqueue moved job-1 behind other in FIFO order.
	id, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "other", id)

	id, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestMemoryQueueConcurrentSingleDelivery(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		require.NoError(t, q.Enqueue(ctx, fmt.Sprintf("job-%d", i), i%5))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, err := q.Dequeue(ctx, 100*time.Millisecond)
				if err != nil || id == "" {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}
