// Package pipeline drives one task through validation, partitioning,
// aggregation and finalization, and records the outcome on the task.
package pipeline

import (
	"context"

	"github.com/arkilian/splitagg/pkg/types"
)

// TaskStore reads and writes task records.
type TaskStore interface {
	// GetTask returns the task with id, or an error wrapping types.ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*types.Task, error)

	// UpdateTask persists the task and returns the stored record.
	UpdateTask(ctx context.Context, task *types.Task) (*types.Task, error)
}

// JobQueue schedules a task for processing.
type JobQueue interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Publisher copies a finished output somewhere clients can fetch it and
// returns where it went.
type Publisher interface {
	Publish(ctx context.Context, localPath, taskID string) (string, error)

	// Retract removes an object returned by Publish.
	Retract(ctx context.Context, object string) error
}
