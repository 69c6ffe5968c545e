// Package queue schedules task ids for processing and runs the workers that
// consume them.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Dequeue when nothing arrived within the timeout
	ErrEmpty = errors.New("queue: empty")

	// ErrClosed is returned once the queue has been closed
	ErrClosed = errors.New("queue: closed")
)

// Queue is a FIFO of task ids.
type Queue interface {
	// Enqueue appends taskID.
	Enqueue(ctx context.Context, taskID string) error

	// Dequeue waits up to timeout for the next id. A timeout of zero or less
	// waits until ctx is done.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)

	// Close releases the queue.
	Close() error
}
