// Package storage publishes task outputs to object storage.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// MetaTaskID is the metadata key naming the task that produced an object.
const MetaTaskID = "task-id"

// Metadata is stored alongside an object. Keys are lower-case.
type Metadata map[string]string

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path     string
	Size     int64
	ETag     string
	Metadata Metadata
}

// ObjectStorage holds published result files.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put stores the file at localPath as objectPath, replacing any previous
	// object with that path.
	Put(ctx context.Context, localPath, objectPath string, meta Metadata) (ObjectInfo, error)

	// Stat describes objectPath, or returns ErrObjectNotFound.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// List returns the sorted object paths under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
