// Package submit registers new tasks: it stores the uploaded file, creates
// the task record and schedules it.
package submit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/pkg/types"
)

// Field and message recorded when a task cannot be scheduled.
const (
	FieldQueue         = "queue"
	MsgCouldNotEnqueue = "Could not schedule the task."
)

// TaskCreator persists new tasks and records their failures.
type TaskCreator interface {
	CreateTask(ctx context.Context, task *types.Task) (*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) (*types.Task, error)
}

// Enqueuer schedules a task id.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Service creates and schedules tasks.
type Service struct {
	store    TaskCreator
	queue    Enqueuer
	inputDir string
	logger   *logging.Logger
	newID    func() string
}

// NewService creates a service that copies uploads into inputDir.
func NewService(store TaskCreator, queue Enqueuer, inputDir string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:    store,
		queue:    queue,
		inputDir: inputDir,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Submit copies srcPath into the input directory under a fresh id, creates
// a QUEUED task for it and enqueues the task. The extension is kept as is;
// unsupported formats are rejected when the task runs. If enqueueing fails
// the task is marked FAILED and the enqueue error is returned with it.
func (s *Service) Submit(ctx context.Context, srcPath string) (*types.Task, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("stat %s", srcPath), err)
	}
	if info.IsDir() {
		return nil, apperrors.NewIOError(fmt.Sprintf("%s is a directory", srcPath), nil)
	}

	id := s.newID()
	dst := filepath.Join(s.inputDir, id+strings.ToLower(filepath.Ext(srcPath)))
	if err := copyFile(srcPath, dst); err != nil {
		return nil, err
	}

	task, err := s.store.CreateTask(ctx, &types.Task{
		ID:            id,
		Status:        types.StatusQueued,
		InputFilePath: types.StringPtr(dst),
	})
	if err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("submit: create task: %w", err)
	}

	log := s.logger.With("task_id", id)
	if err := s.queue.Enqueue(ctx, id); err != nil {
		log.Error("failed to enqueue task", "error", err)
		task.Status = types.StatusFailed
		task.Errors = types.FieldErrors{FieldQueue: {MsgCouldNotEnqueue}}
		updated, uerr := s.store.UpdateTask(context.WithoutCancel(ctx), task)
		if uerr != nil {
			log.Error("failed to record enqueue failure", "error", uerr)
		} else {
			task = updated
		}
		return task, err
	}

	log.Info("task submitted", "input", dst, "bytes", info.Size())
	return task, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewIOError(fmt.Sprintf("open %s", src), err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apperrors.NewIOError(fmt.Sprintf("create %s", filepath.Dir(dst)), err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return apperrors.NewIOError(fmt.Sprintf("create %s", dst), err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = apperrors.NewIOError(fmt.Sprintf("close %s", dst), cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return apperrors.NewIOError(fmt.Sprintf("copy %s", src), err)
	}
	return out.Sync()
}
