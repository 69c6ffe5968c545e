package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RunRegistry keeps the stats of recently finished runs so a long-lived
// worker can report totals and the slowest tasks.
type RunRegistry struct {
	mu     sync.RWMutex
	runs   map[string]*RunStats
	counts map[string]int64
	window time.Duration
}

// NewRunRegistry creates a registry. window: how long a finished run is
// kept before Prune drops it (e.g., 1 hour).
func NewRunRegistry(window time.Duration) *RunRegistry {
	return &RunRegistry{
		runs:   make(map[string]*RunStats),
		counts: make(map[string]int64),
		window: window,
	}
}

// Record stores a finished run and counts its status.
// This method is O(1) and thread-safe.
func (r *RunRegistry) Record(stats *RunStats) {
	if stats == nil {
		return
	}
	stats.mu.RLock()
	status := stats.Status
	stats.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[stats.TaskID] = stats
	r.counts[status]++
}

// Counts returns how many runs finished with each status since creation.
// Pruning does not reset the counts.
func (r *RunRegistry) Counts() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counts))
	for status, n := range r.counts {
		out[status] = n
	}
	return out
}

// GetSlowest returns up to n retained runs sorted by duration (descending).
func (r *RunRegistry) GetSlowest(n int) []*RunStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || len(r.runs) == 0 {
		return []*RunStats{}
	}

	runs := make([]*RunStats, 0, len(r.runs))
	for _, stats := range r.runs {
		runs = append(runs, stats)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Duration() > runs[j].Duration()
	})

	if n > len(runs) {
		n = len(runs)
	}
	return runs[:n]
}

// Len returns the number of retained runs.
func (r *RunRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// Prune removes runs that ended more than window ago.
func (r *RunRegistry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := time.Now().Add(-r.window)
	for id, stats := range r.runs {
		stats.mu.RLock()
		ended := stats.EndedAt
		stats.mu.RUnlock()
		if !ended.IsZero() && ended.Before(threshold) {
			delete(r.runs, id)
		}
	}
}

// PruneEvery calls Prune every interval until ctx is done.
func (r *RunRegistry) PruneEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}
