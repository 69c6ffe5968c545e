// Package observability tracks per-run pipeline statistics.
package observability

import (
	"sync"
	"time"
)

// Phase names recorded by the pipeline controller.
const (
	PhaseValidating   = "validating"
	PhasePartitioning = "partitioning"
	PhaseAggregating  = "aggregating"
	PhaseFinalizing   = "finalizing"
)

// PhaseTiming is the wall-clock duration of one phase.
type PhaseTiming struct {
	Name     string
	Duration time.Duration
}

// RunStats collects statistics for a single task run. It is safe for
// concurrent use.
type RunStats struct {
	mu sync.RWMutex

	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Status    string

	phases      []PhaseTiming
	rowsRead    int64
	rowsWritten int64
	chunks      int
	spillFiles  int
	collisions  int
	groups      int64
}

// NewRunStats starts statistics for taskID.
func NewRunStats(taskID string) *RunStats {
	return &RunStats{TaskID: taskID, StartedAt: time.Now()}
}

// StartPhase begins timing a phase. Calling the returned function records it.
func (r *RunStats) StartPhase(name string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		r.mu.Lock()
		r.phases = append(r.phases, PhaseTiming{Name: name, Duration: elapsed})
		r.mu.Unlock()
	}
}

// RecordPartition stores the partitioning counters.
func (r *RunStats) RecordPartition(rowsRead, rowsWritten int64, chunks, spillFiles, collisions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowsRead = rowsRead
	r.rowsWritten = rowsWritten
	r.chunks = chunks
	r.spillFiles = spillFiles
	r.collisions = collisions
}

// RecordAggregate stores the number of output groups.
func (r *RunStats) RecordAggregate(groups int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = groups
}

// Finish marks the run as ended with status.
func (r *RunStats) Finish(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.EndedAt = time.Now()
}

// Duration returns the total run time, or the time so far if not finished.
func (r *RunStats) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Phases returns a copy of the recorded phase timings in order.
func (r *RunStats) Phases() []PhaseTiming {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PhaseTiming(nil), r.phases...)
}

// Summary flattens the statistics into log-friendly key/value pairs.
func (r *RunStats) Summary() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	end := r.EndedAt
	if end.IsZero() {
		end = time.Now()
	}

	summary := map[string]interface{}{
		"task_id":      r.TaskID,
		"status":       r.Status,
		"duration_ms":  end.Sub(r.StartedAt).Milliseconds(),
		"rows_read":    r.rowsRead,
		"rows_written": r.rowsWritten,
		"chunks":       r.chunks,
		"spill_files":  r.spillFiles,
		"collisions":   r.collisions,
		"groups":       r.groups,
	}
	for _, p := range r.phases {
		summary[p.Name+"_ms"] = p.Duration.Milliseconds()
	}
	return summary
}

// KeysAndValues returns Summary as a flat slice for structured loggers,
// leaving out task_id which callers already carry on their logger.
func (r *RunStats) KeysAndValues() []interface{} {
	summary := r.Summary()
	kv := make([]interface{}, 0, len(summary)*2)
	for k, v := range summary {
		if k == "task_id" {
			continue
		}
		kv = append(kv, k, v)
	}
	return kv
}
