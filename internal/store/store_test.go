package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arkilian/splitagg/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskStore interface {
	CreateTask(ctx context.Context, task *types.Task) (*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) (*types.Task, error)
	ListByStatus(ctx context.Context, status types.TaskStatus) ([]*types.Task, error)
	Close() error
}

func stores(t *testing.T) map[string]taskStore {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]taskStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStore_CreateGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateTask(ctx, &types.Task{
				ID:            "task-1",
				InputFilePath: types.StringPtr("/in/task-1.csv"),
			})
			require.NoError(t, err)
			assert.Equal(t, types.StatusQueued, created.Status)
			assert.False(t, created.CreatedAt.IsZero())

			got, err := s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, "task-1", got.ID)
			assert.Equal(t, types.StatusQueued, got.Status)
			require.NotNil(t, got.InputFilePath)
			assert.Equal(t, "/in/task-1.csv", *got.InputFilePath)
			assert.Nil(t, got.OutputFilePath)
			assert.Nil(t, got.ResultObject)
			assert.Empty(t, got.Errors)
			assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetTask(context.Background(), "nope")
			assert.True(t, errors.Is(err, types.ErrTaskNotFound), "got %v", err)
		})
	}
}

func TestStore_Update(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateTask(ctx, &types.Task{
				ID:        "task-1",
				CreatedAt: time.Now().Add(-time.Minute).UTC(),
			})
			require.NoError(t, err)

			task := created.Clone()
			task.Status = types.StatusFailed
			task.Errors = types.FieldErrors{"input_file": {"File format not supported."}}
			updated, err := s.UpdateTask(ctx, task)
			require.NoError(t, err)
			assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

			got, err := s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, types.StatusFailed, got.Status)
			assert.Equal(t, types.FieldErrors{"input_file": {"File format not supported."}}, got.Errors)

			got.Status = types.StatusCompleted
			got.Errors = nil
			got.OutputFilePath = types.StringPtr("/out/task-1.csv")
			got.ResultObject = types.StringPtr("results/task-1.csv")
			_, err = s.UpdateTask(ctx, got)
			require.NoError(t, err)

			final, err := s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, types.StatusCompleted, final.Status)
			assert.Empty(t, final.Errors)
			require.NotNil(t, final.OutputFilePath)
			assert.Equal(t, "/out/task-1.csv", *final.OutputFilePath)
			require.NotNil(t, final.ResultObject)
			assert.Equal(t, "results/task-1.csv", *final.ResultObject)
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateTask(context.Background(), &types.Task{ID: "ghost", Status: types.StatusFailed})
			assert.True(t, errors.Is(err, types.ErrTaskNotFound), "got %v", err)

			_, err = s.UpdateTask(context.Background(), &types.Task{})
			assert.ErrorIs(t, err, types.ErrInvalidTaskID)
		})
	}
}

func TestStore_DuplicateCreate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateTask(ctx, &types.Task{ID: "task-1"})
			require.NoError(t, err)
			_, err = s.CreateTask(ctx, &types.Task{ID: "task-1"})
			assert.Error(t, err)
		})
	}
}

func TestStore_ListByStatus(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour).UTC()
			for i, id := range []string{"c", "a", "b"} {
				_, err := s.CreateTask(ctx, &types.Task{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
				require.NoError(t, err)
			}
			_, err := s.CreateTask(ctx, &types.Task{ID: "done", Status: types.StatusCompleted})
			require.NoError(t, err)

			queued, err := s.ListByStatus(ctx, types.StatusQueued)
			require.NoError(t, err)
			ids := make([]string, len(queued))
			for i, task := range queued {
				ids[i] = task.ID
			}
			assert.Equal(t, []string{"c", "a", "b"}, ids)

			failed, err := s.ListByStatus(ctx, types.StatusFailed)
			require.NoError(t, err)
			assert.Empty(t, failed)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateTask(ctx, &types.Task{ID: "task-1", Errors: types.FieldErrors{"a": {"x"}}})
			require.NoError(t, err)

			got, err := s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			got.Errors["a"][0] = "mutated"
			got.Status = types.StatusFailed

			again, err := s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, "x", again.Errors["a"][0])
			assert.Equal(t, types.StatusQueued, again.Status)
		})
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 8; i++ {
				_, err := s.CreateTask(ctx, &types.Task{ID: string(rune('a' + i))})
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					_, err := s.UpdateTask(ctx, &types.Task{ID: id, Status: types.StatusInProgress})
					errs <- err
				}(string(rune('a' + i)))
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				assert.NoError(t, err)
			}

			inProgress, err := s.ListByStatus(ctx, types.StatusInProgress)
			require.NoError(t, err)
			assert.Len(t, inProgress, 8)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.CreateTask(context.Background(), &types.Task{ID: "persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetTask(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
}

func TestStore_RejectsUnknownStatus(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateTask(ctx, &types.Task{ID: "task-1", Status: "PAUSED"})
			assert.ErrorIs(t, err, types.ErrInvalidStatus)

			_, err = s.CreateTask(ctx, &types.Task{ID: "task-2"})
			require.NoError(t, err)
			_, err = s.UpdateTask(ctx, &types.Task{ID: "task-2", Status: "BOGUS"})
			assert.ErrorIs(t, err, types.ErrInvalidStatus)

			got, err := s.GetTask(ctx, "task-2")
			require.NoError(t, err)
			assert.Equal(t, types.StatusQueued, got.Status)
		})
	}
}
