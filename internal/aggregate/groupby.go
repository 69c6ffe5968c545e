// Package aggregate computes grouped sums over spill files and merges them
// into the task output.
package aggregate

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	apperrors "github.com/arkilian/splitagg/internal/errors"
)

// Group is the running total of one (key..., secondary) tuple.
type Group struct {
	KeyValues []string
	Secondary string
	Total     uint64
}

// Partial holds the grouped sums of one spill file in first-seen order.
type Partial struct {
	Source string
	Groups []*Group
	Rows   int64
}

// ComputePartial streams a spill file and sums the measure per
// (key..., secondary) tuple. keyN is the number of key columns; the
// secondary and measure follow them in every row. The first record is the
// spill file header and is skipped.
func ComputePartial(r io.Reader, source string, keyN int) (*Partial, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = keyN + 2
	cr.ReuseRecord = true

	partial := &Partial{Source: source}
	index := make(map[string]*Group)

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return partial, nil
		}
		return nil, readError(source, err)
	}

	var sb strings.Builder
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readError(source, err)
		}

		measure := record[keyN+1]
		value, err := strconv.ParseUint(measure, 10, 64)
		if err != nil {
			line, _ := cr.FieldPos(keyN + 1)
			return nil, apperrors.NewParseError(
				fmt.Sprintf("%s line %d: invalid measure %q", source, line, measure), err)
		}

		sb.Reset()
		for _, v := range record[:keyN+1] {
			sb.WriteString(v)
			sb.WriteByte(0x1f)
		}
		key := sb.String()

		g, ok := index[key]
		if !ok {
			g = &Group{
				KeyValues: append([]string(nil), record[:keyN]...),
				Secondary: record[keyN],
			}
			index[key] = g
			partial.Groups = append(partial.Groups, g)
		}

		sum := g.Total + value
		if sum < g.Total {
			line, _ := cr.FieldPos(keyN + 1)
			return nil, apperrors.NewParseError(
				fmt.Sprintf("%s line %d: total overflows uint64", source, line), nil)
		}
		g.Total = sum
		partial.Rows++
	}

	return partial, nil
}

// Render writes the groups as headerless CSV rows.
func (p *Partial) Render() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, g := range p.Groups {
		row := make([]string, 0, len(g.KeyValues)+2)
		row = append(row, g.KeyValues...)
		row = append(row, g.Secondary, strconv.FormatUint(g.Total, 10))
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readError(source string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return apperrors.NewParseError(fmt.Sprintf("%s line %d: malformed row", source, pe.Line), err)
	}
	return apperrors.NewIOError(fmt.Sprintf("read %s", source), err)
}
