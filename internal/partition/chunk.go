package partition

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/pkg/types"
)

const utf8BOM = "\uFEFF"

// Chunk is a batch of projected rows. Each row holds the key columns, then
// the secondary column, then the measure, in schema order.
type Chunk struct {
	// Index is the zero-based position of the chunk in the input
	Index int

	Rows [][]string
}

// ChunkReader streams an input CSV in chunks of at most size rows.
type ChunkReader struct {
	r       *csv.Reader
	keyN    int
	columns []int
	size    int
	next    int
	eof     bool
}

// NewChunkReader reads the header from r and resolves the schema columns.
// A missing column is reported as a parse error.
func NewChunkReader(r io.Reader, schema types.Schema, size int) (*ChunkReader, error) {
	if size < 1 {
		return nil, fmt.Errorf("partition: chunk size must be positive, got %d", size)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, apperrors.NewParseError("input file is empty", nil)
	}
	if err != nil {
		return nil, apperrors.NewParseError("read header", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	positions := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}

	wanted := schema.Columns()
	columns := make([]int, len(wanted))
	for i, name := range wanted {
		pos, ok := positions[name]
		if !ok {
			return nil, apperrors.NewParseError(fmt.Sprintf("missing column %q", name), nil)
		}
		columns[i] = pos
	}

	return &ChunkReader{
		r:       cr,
		keyN:    len(schema.KeyColumns),
		columns: columns,
		size:    size,
	}, nil
}

// Next returns the next chunk sorted by group key, or io.EOF once the input
// is exhausted.
func (c *ChunkReader) Next() (*Chunk, error) {
	if c.eof {
		return nil, io.EOF
	}

	rows := make([][]string, 0, initialCapacity(c.size))
	for len(rows) < c.size {
		record, err := c.r.Read()
		if err == io.EOF {
			c.eof = true
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, apperrors.NewParseError(fmt.Sprintf("malformed csv at line %d", pe.Line), err)
			}
			return nil, apperrors.NewIOError("read input", err)
		}

		row, err := c.project(record)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, io.EOF
	}

	keyN := c.keyN
	sort.SliceStable(rows, func(i, j int) bool {
		return GroupKey(rows[i][:keyN]).Compare(GroupKey(rows[j][:keyN])) < 0
	})

	chunk := &Chunk{Index: c.next, Rows: rows}
	c.next++
	return chunk, nil
}

func (c *ChunkReader) project(record []string) ([]string, error) {
	row := make([]string, len(c.columns))
	for i, pos := range c.columns {
		if pos >= len(record) {
			line, _ := c.r.FieldPos(0)
			return nil, apperrors.NewParseError(
				fmt.Sprintf("line %d has %d fields, expected at least %d", line, len(record), pos+1), nil)
		}
		row[i] = record[pos]
	}
	return row, nil
}

func initialCapacity(size int) int {
	const maxPrealloc = 4096
	if size < maxPrealloc {
		return size
	}
	return maxPrealloc
}
