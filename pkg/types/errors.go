package types

import "errors"

// Task-related errors
var (
	// ErrTaskNotFound is returned by a task store when no task has the requested ID
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTaskID is returned when a task ID is empty or unsafe as a path segment
	ErrInvalidTaskID = errors.New("invalid task ID")

	// ErrInvalidStatus is returned when a task carries an unknown status
	ErrInvalidStatus = errors.New("invalid task status")
)
