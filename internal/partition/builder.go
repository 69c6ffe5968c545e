package partition

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	apperrors "github.com/arkilian/splitagg/internal/errors"
)

// SpillPattern matches every spill file in a workspace.
const SpillPattern = "*.csv"

// NewSpillReader decodes the CSV held in a spill file. Spill files are a
// sequence of snappy framed streams, one per append.
func NewSpillReader(r io.Reader) io.Reader {
	return snappy.NewReader(r)
}

// SpillWriter appends runs to the spill file of their token, compressed with
// snappy. It owns the header decision: the first run claiming a token writes
// the header.
type SpillWriter struct {
	dir      string
	header   []string
	locks    *LockSet
	registry *HeaderRegistry
}

// NewSpillWriter creates a writer placing spill files under dir.
func NewSpillWriter(dir string, header []string, locks *LockSet, registry *HeaderRegistry) *SpillWriter {
	return &SpillWriter{
		dir:      dir,
		header:   header,
		locks:    locks,
		registry: registry,
	}
}

// Path returns the spill file path for token.
func (w *SpillWriter) Path(token string) string {
	return filepath.Join(w.dir, token+".csv")
}

// Append writes run to its spill file and returns the number of rows written.
func (w *SpillWriter) Append(run Run) (int, error) {
	token := Sanitize(run.Key)

	lock := w.locks.For(token)
	lock.Lock()
	defer lock.Unlock()

	writeHeader := w.registry.Claim(token, run.Key)

	path := w.Path(token)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, apperrors.NewIOError(fmt.Sprintf("open spill file %s", path), err)
	}

	if err := writeRows(f, w.header, writeHeader, run.Rows); err != nil {
		f.Close()
		return 0, apperrors.NewIOError(fmt.Sprintf("append spill file %s", path), err)
	}
	if err := f.Close(); err != nil {
		return 0, apperrors.NewIOError(fmt.Sprintf("close spill file %s", path), err)
	}

	return len(run.Rows), nil
}

func writeRows(f *os.File, header []string, writeHeader bool, rows [][]string) error {
	sw := snappy.NewBufferedWriter(f)
	cw := csv.NewWriter(sw)

	if writeHeader {
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return sw.Close()
}
