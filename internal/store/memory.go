package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arkilian/splitagg/pkg/types"
)

// MemoryStore keeps tasks in a map. Every read and write goes through a
// copy, so callers never share a record with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*types.Task)}
}

// CreateTask inserts a new task. An existing id is rejected.
func (m *MemoryStore) CreateTask(_ context.Context, task *types.Task) (*types.Task, error) {
	if task == nil || task.ID == "" {
		return nil, types.ErrInvalidTaskID
	}
	t := task.Clone()
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = types.StatusQueued
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("store: %w: %q", types.ErrInvalidStatus, t.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return nil, fmt.Errorf("store: task %s already exists", t.ID)
	}
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

// GetTask returns a copy of the task with id.
func (m *MemoryStore) GetTask(_ context.Context, id string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("store: %w: %s", types.ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// UpdateTask replaces an existing task and stamps UpdatedAt. CreatedAt
// keeps its stored value.
func (m *MemoryStore) UpdateTask(_ context.Context, task *types.Task) (*types.Task, error) {
	if task == nil || task.ID == "" {
		return nil, types.ErrInvalidTaskID
	}
	if !task.Status.Valid() {
		return nil, fmt.Errorf("store: %w: %q", types.ErrInvalidStatus, task.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.ID]
	if !ok {
		return nil, fmt.Errorf("store: %w: %s", types.ErrTaskNotFound, task.ID)
	}
	t := task.Clone()
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

// ListByStatus returns the tasks in status, oldest first.
func (m *MemoryStore) ListByStatus(_ context.Context, status types.TaskStatus) ([]*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
