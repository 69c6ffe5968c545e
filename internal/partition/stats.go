package partition

import "sync/atomic"

// Stats summarizes one partitioning pass.
type Stats struct {
	// RowsRead is the number of data rows read from the input
	RowsRead int64

	// RowsWritten is the number of data rows appended to spill files
	RowsWritten int64

	// Chunks is the number of chunks the input was read in
	Chunks int

	// SpillFiles is the number of distinct spill files created
	SpillFiles int

	// Collisions counts raw keys that shared a spill file with another key
	Collisions int
}

type statsTracker struct {
	rowsRead    int64
	rowsWritten int64
	chunks      int
}

func (s *statsTracker) addRead(n int) {
	atomic.AddInt64(&s.rowsRead, int64(n))
}

func (s *statsTracker) addWritten(n int) {
	atomic.AddInt64(&s.rowsWritten, int64(n))
}

func (s *statsTracker) snapshot(registry *HeaderRegistry) *Stats {
	return &Stats{
		RowsRead:    atomic.LoadInt64(&s.rowsRead),
		RowsWritten: atomic.LoadInt64(&s.rowsWritten),
		Chunks:      s.chunks,
		SpillFiles:  registry.Len(),
		Collisions:  registry.Collisions(),
	}
}
