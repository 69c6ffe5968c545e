package partition

// Run is a sub-table of a sorted chunk whose rows all share one group key.
type Run struct {
	Key  GroupKey
	Rows [][]string
}

// SplitRuns cuts a chunk sorted by group key into one run per distinct key.
// keyN is the number of leading key columns in each row. The runs alias the
// chunk's rows.
func SplitRuns(chunk *Chunk, keyN int) []Run {
	if chunk == nil || len(chunk.Rows) == 0 {
		return nil
	}

	var runs []Run
	start := 0
	for i := 1; i <= len(chunk.Rows); i++ {
		if i < len(chunk.Rows) && GroupKey(chunk.Rows[i][:keyN]).Equal(GroupKey(chunk.Rows[start][:keyN])) {
			continue
		}
		runs = append(runs, Run{
			Key:  GroupKey(chunk.Rows[start][:keyN]),
			Rows: chunk.Rows[start:i],
		})
		start = i
	}
	return runs
}
