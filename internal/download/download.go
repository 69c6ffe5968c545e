// Package download hands finished task results to clients and records that
// they were taken.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/pkg/types"
)

// Field and message reported when a result is requested twice.
const (
	FieldFile            = "file"
	MsgAlreadyDownloaded = "File already downloaded."
)

// DefaultFileName is the name given to a result copied into a directory.
const DefaultFileName = "results.csv"

// ErrNotReady is returned for tasks that have no result to hand out.
var ErrNotReady = errors.New("download: result not available")

// TaskStore reads and writes task records.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) (*types.Task, error)
}

// Result is the outcome of a download request.
type Result struct {
	Task *types.Task `json:"task"`

	// Path is where the result was written, empty when nothing was copied
	Path string `json:"path,omitempty"`

	// Next is the command that moves the task forward, if any
	Next string `json:"next,omitempty"`
}

// Service copies results out of the output directory.
type Service struct {
	store  TaskStore
	logger *logging.Logger
}

// NewService creates a download service.
func NewService(store TaskStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{store: store, logger: logger}
}

// Download copies the output of a COMPLETED task to dest and marks the task
// DOWNLOADED. When dest is a directory the result is written there as
// DefaultFileName; an existing file is never overwritten.
//
// A task that was already downloaded fails with a validation error on the
// file field. Any other status returns the task with an error wrapping
// ErrNotReady and leaves it untouched.
func (s *Service) Download(ctx context.Context, taskID, dest string) (*Result, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("task_id", taskID)

	switch task.Status {
	case types.StatusCompleted:
	case types.StatusDownloaded:
		fields := types.FieldErrors{}
		fields.Add(FieldFile, MsgAlreadyDownloaded)
		return &Result{Task: task}, apperrors.NewValidationError(fields)
	default:
		return &Result{Task: task, Next: Next(task)},
			fmt.Errorf("%w: task %s is %s", ErrNotReady, taskID, task.Status)
	}

	if task.OutputFilePath == nil || *task.OutputFilePath == "" {
		return &Result{Task: task}, apperrors.NewIOError("completed task has no output file", nil)
	}

	target, err := resolveTarget(dest)
	if err != nil {
		return &Result{Task: task}, err
	}
	if err := copyResult(*task.OutputFilePath, target); err != nil {
		return &Result{Task: task}, err
	}

	task.Status = types.StatusDownloaded
	updated, err := s.store.UpdateTask(context.WithoutCancel(ctx), task)
	if err != nil {
		os.Remove(target)
		task.Status = types.StatusCompleted
		return &Result{Task: task}, err
	}

	log.Info("result downloaded", "path", target)
	return &Result{Task: updated, Path: target}, nil
}

// Next returns the command that moves task forward, or "" when nothing is
// left to do.
func Next(task *types.Task) string {
	switch {
	case task.Status == types.StatusCompleted:
		return fmt.Sprintf("splitagg download %s <dest>", task.ID)
	case !task.Status.IsTerminal():
		return fmt.Sprintf("splitagg status %s", task.ID)
	default:
		return ""
	}
}

func resolveTarget(dest string) (string, error) {
	if dest == "" {
		return "", apperrors.NewIOError("download destination is required", nil)
	}
	info, err := os.Stat(dest)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(dest, DefaultFileName), nil
	case err == nil:
		return "", apperrors.NewIOError(fmt.Sprintf("%s already exists", dest), os.ErrExist)
	case os.IsNotExist(err):
		return dest, nil
	default:
		return "", apperrors.NewIOError(fmt.Sprintf("stat %s", dest), err)
	}
}

func copyResult(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewIOError(fmt.Sprintf("open result %s", src), err)
	}
	defer in.Close()

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
		return apperrors.NewIOError(fmt.Sprintf("copy result to %s", dst), err)
	}
	return nil
}
