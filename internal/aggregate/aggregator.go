package aggregate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/internal/partition"
	"github.com/arkilian/splitagg/internal/pool"
	"github.com/arkilian/splitagg/internal/workspace"
	"github.com/arkilian/splitagg/pkg/types"
)

// Stats summarizes one aggregation pass.
type Stats struct {
	// SpillFiles is the number of spill files aggregated
	SpillFiles int

	// RowsRead is the number of spill rows summed
	RowsRead int64

	// Groups is the number of rows written to the output
	Groups int64
}

// Aggregator runs one grouped-sum job per spill file and appends each
// partial to the output file as soon as it is ready.
type Aggregator struct {
	ws     *workspace.Workspace
	schema types.Schema
	pool   *pool.FailFast
	logger *logging.Logger
}

// New creates an aggregator over the spill files of ws.
func New(ws *workspace.Workspace, schema types.Schema, fp *pool.FailFast, logger *logging.Logger) *Aggregator {
	if fp == nil {
		fp = pool.New(0)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Aggregator{ws: ws, schema: schema, pool: fp, logger: logger}
}

// Aggregate writes the header and every group of every spill file to
// outputPath, truncating any previous content. Row order across spill files
// follows job completion. On failure the output file is removed.
func (a *Aggregator) Aggregate(ctx context.Context, outputPath string) (stats *Stats, err error) {
	files, err := a.ws.Files(partition.SpillPattern)
	if err != nil {
		return nil, apperrors.NewIOError("list spill files", err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("create output %s", outputPath), err)
	}
	defer func() {
		if err != nil {
			out.Close()
			if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
				a.logger.Warn("failed to remove partial output", "path", outputPath, "error", rmErr)
			}
		}
	}()

	if err = writeHeader(out, a.schema.OutputHeader()); err != nil {
		return nil, apperrors.NewIOError("write output header", err)
	}

	var (
		mu       sync.Mutex
		rowsRead int64
		groups   int64
	)
	keyN := len(a.schema.KeyColumns)

	jobs := make([]pool.Job, len(files))
	for i, path := range files {
		path := path
		jobs[i] = func(ctx context.Context) error {
			partial, err := aggregateFile(path, keyN)
			if err != nil {
				return err
			}
			rendered, err := partial.Render()
			if err != nil {
				return apperrors.NewIOError(fmt.Sprintf("render %s", filepath.Base(path)), err)
			}

			mu.Lock()
			_, err = out.Write(rendered)
			mu.Unlock()
			if err != nil {
				return apperrors.NewIOError("append output", err)
			}

			atomic.AddInt64(&rowsRead, partial.Rows)
			atomic.AddInt64(&groups, int64(len(partial.Groups)))
			return nil
		}
	}

	if err = a.pool.Run(ctx, jobs); err != nil {
		return nil, err
	}

	if err = out.Close(); err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("close output %s", outputPath), err)
	}

	return &Stats{
		SpillFiles: len(files),
		RowsRead:   rowsRead,
		Groups:     groups,
	}, nil
}

func aggregateFile(path string, keyN int) (*Partial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("open spill file %s", path), err)
	}
	defer f.Close()
	return ComputePartial(partition.NewSpillReader(f), filepath.Base(path), keyN)
}

func writeHeader(f *os.File, header []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
