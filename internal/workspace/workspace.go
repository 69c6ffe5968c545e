// Package workspace manages the per-task scratch directory that holds spill files.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arkilian/splitagg/pkg/types"
)

// Workspace is the scratch directory <root>/<task_id> owned by one task run.
type Workspace struct {
	root   string
	taskID string
	dir    string

	mu       sync.Mutex
	released bool
}

// Acquire creates an empty <root>/<taskID> (and any missing parents) and
// returns a handle to it. Anything left in the directory by an earlier run
// is removed first.
func Acquire(root, taskID string) (*Workspace, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	dir := filepath.Join(absRoot, taskID)

	// Guard against ids that resolve outside the root after cleaning
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("workspace: %w: %q", types.ErrInvalidTaskID, taskID)
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("workspace: clear stale %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", dir, err)
	}

	return &Workspace{root: absRoot, taskID: taskID, dir: dir}, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// TaskID returns the task that owns the workspace.
func (w *Workspace) TaskID() string {
	return w.taskID
}

// Path returns the path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Files returns the workspace entries matching the glob pattern, sorted by name.
func (w *Workspace) Files(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("workspace: list %s: %w", pattern, err)
	}
	return matches, nil
}

// Release removes the workspace directory and everything under it.
// Calling Release more than once is a no-op.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", w.dir, err)
	}
	w.released = true
	return nil
}

func validateTaskID(taskID string) error {
	if taskID == "" || taskID == "." || taskID == ".." ||
		strings.ContainsAny(taskID, `/\`) || strings.ContainsRune(taskID, 0) {
		return fmt.Errorf("workspace: %w: %q", types.ErrInvalidTaskID, taskID)
	}
	return nil
}
