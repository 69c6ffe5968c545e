package queue

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/arkilian/splitagg/internal/errors"
)

// DefaultMemoryCapacity is the buffer size of a MemoryQueue.
const DefaultMemoryCapacity = 1024

// MemoryQueue is an in-process queue backed by a buffered channel.
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a queue that buffers up to capacity ids. Enqueue
// blocks while the buffer is full.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryQueue{
		ch:   make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue appends taskID, waiting for buffer space.
func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return apperrors.NewQueueError(apperrors.CodeEnqueueFailed, "enqueue "+taskID, ErrClosed)
	default:
	}

	select {
	case q.ch <- taskID:
		return nil
	case <-q.done:
		return apperrors.NewQueueError(apperrors.CodeEnqueueFailed, "enqueue "+taskID, ErrClosed)
	case <-ctx.Done():
		return apperrors.NewQueueError(apperrors.CodeEnqueueFailed, "enqueue "+taskID, ctx.Err())
	}
}

// Dequeue returns the next id. Ids still buffered when the queue is closed
// are handed out before ErrClosed.
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return "", ErrClosed
	case <-expired:
		return "", ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of buffered ids.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops intake. It is safe to call more than once.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
