package types

import (
	"fmt"
	"strings"
)

// Schema names the three logical columns of an input file.
// KeyColumns may hold more than one column to form a composite group key.
type Schema struct {
	// KeyColumns are the columns forming the group key (partitioning key)
	KeyColumns []string `json:"key_columns" yaml:"key_columns"`

	// SecondaryColumn is the column grouped under each key
	SecondaryColumn string `json:"secondary_column" yaml:"secondary_column"`

	// MeasureColumn is the unsigned integer column that gets summed
	MeasureColumn string `json:"measure_column" yaml:"measure_column"`
}

// DefaultSchema returns the song plays layout.
func DefaultSchema() Schema {
	return Schema{
		KeyColumns:      []string{"Song"},
		SecondaryColumn: "Date",
		MeasureColumn:   "Number of Plays",
	}
}

// Validate checks that every column is named and that no column repeats.
func (s Schema) Validate() error {
	if len(s.KeyColumns) == 0 {
		return fmt.Errorf("schema: at least one key column is required")
	}
	seen := make(map[string]bool)
	for _, col := range s.Columns() {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("schema: column names must not be empty")
		}
		if seen[col] {
			return fmt.Errorf("schema: column %q is used twice", col)
		}
		seen[col] = true
	}
	return nil
}

// Columns returns the projected column order used in spill files:
// key columns, then the secondary column, then the measure.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.KeyColumns)+2)
	cols = append(cols, s.KeyColumns...)
	cols = append(cols, s.SecondaryColumn, s.MeasureColumn)
	return cols
}

// OutputHeader returns the header line of the aggregated output.
func (s Schema) OutputHeader() []string {
	cols := make([]string, 0, len(s.KeyColumns)+2)
	cols = append(cols, s.KeyColumns...)
	cols = append(cols, s.SecondaryColumn,
		fmt.Sprintf("Total %s for %s", s.MeasureColumn, s.SecondaryColumn))
	return cols
}
