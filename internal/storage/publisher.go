package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	apperrors "github.com/arkilian/splitagg/internal/errors"
)

// Publisher copies finished task outputs into object storage under a prefix.
type Publisher struct {
	store  ObjectStorage
	prefix string
}

// NewPublisher creates a publisher writing to store under prefix.
func NewPublisher(store ObjectStorage, prefix string) *Publisher {
	return &Publisher{store: store, prefix: prefix}
}

// ObjectPath returns the object path a task output is published to.
func (p *Publisher) ObjectPath(taskID string) string {
	return path.Join(p.prefix, taskID+".csv")
}

// Publish uploads localPath as the output of taskID and returns the object
// path. An object whose stored size differs from the local file is removed
// and reported as a failed upload.
func (p *Publisher) Publish(ctx context.Context, localPath, taskID string) (string, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return "", apperrors.NewStorageError(apperrors.CodeUploadFailed,
			fmt.Sprintf("output %s is not readable", localPath), err)
	}

	objectPath := p.ObjectPath(taskID)
	info, err := p.store.Put(ctx, localPath, objectPath, Metadata{MetaTaskID: taskID})
	if err != nil {
		return "", apperrors.NewStorageError(apperrors.CodeUploadFailed,
			fmt.Sprintf("publish %s", objectPath), err)
	}

	if info.Size != fi.Size() {
		if delErr := p.store.Delete(context.WithoutCancel(ctx), objectPath); delErr != nil {
			err = delErr
		}
		return "", apperrors.NewStorageError(apperrors.CodeUploadFailed,
			fmt.Sprintf("publish %s: stored %d bytes, expected %d", objectPath, info.Size, fi.Size()), err)
	}
	return objectPath, nil
}

// Retract deletes a published object. Retracting a missing object succeeds.
func (p *Publisher) Retract(ctx context.Context, objectPath string) error {
	if err := p.store.Delete(ctx, objectPath); err != nil {
		return apperrors.NewStorageError(apperrors.CodeUploadFailed,
			fmt.Sprintf("retract %s", objectPath), err)
	}
	return nil
}
