package partition

import (
	"context"
	"fmt"
	"io"
	"os"

	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/internal/pool"
	"github.com/arkilian/splitagg/internal/workspace"
	"github.com/arkilian/splitagg/pkg/types"
)

// DefaultChunkSize is the number of rows read per chunk when none is configured.
const DefaultChunkSize = 2_000_000

// Partitioner splits an input CSV into per-key spill files inside a workspace.
// Chunks are processed one after another; the runs of a chunk are appended
// in parallel on the pool.
type Partitioner struct {
	ws        *workspace.Workspace
	schema    types.Schema
	chunkSize int
	pool      *pool.FailFast
	locks     *LockSet
	registry  *HeaderRegistry
	logger    *logging.Logger
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithChunkSize sets the maximum number of rows held in memory per chunk.
func WithChunkSize(n int) Option {
	return func(p *Partitioner) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithPool sets the pool used to append runs.
func WithPool(fp *pool.FailFast) Option {
	return func(p *Partitioner) { p.pool = fp }
}

// WithLockSet sets the spill file locks.
func WithLockSet(ls *LockSet) Option {
	return func(p *Partitioner) { p.locks = ls }
}

// WithRegistry sets the header registry shared by all writers of the run.
func WithRegistry(hr *HeaderRegistry) Option {
	return func(p *Partitioner) { p.registry = hr }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Partitioner) { p.logger = l }
}

// New creates a partitioner writing spill files into ws.
func New(ws *workspace.Workspace, schema types.Schema, opts ...Option) *Partitioner {
	p := &Partitioner{
		ws:        ws,
		schema:    schema,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.pool == nil {
		p.pool = pool.New(0)
	}
	if p.locks == nil {
		p.locks = NewLockSet(DefaultLockStripes)
	}
	if p.registry == nil {
		p.registry = NewHeaderRegistry(p.logger)
	}
	return p
}

// Registry returns the header registry of the run.
func (p *Partitioner) Registry() *HeaderRegistry {
	return p.registry
}

// Partition streams inputPath and appends every row to the spill file of its
// group key. Cancellation is honored between chunks.
func (p *Partitioner) Partition(ctx context.Context, inputPath string) (*Stats, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("open input %s", inputPath), err)
	}
	defer f.Close()

	reader, err := NewChunkReader(f, p.schema, p.chunkSize)
	if err != nil {
		return nil, err
	}

	writer := NewSpillWriter(p.ws.Dir(), p.schema.Columns(), p.locks, p.registry)
	keyN := len(p.schema.KeyColumns)
	stats := &statsTracker{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		stats.chunks++
		stats.addRead(len(chunk.Rows))

		runs := SplitRuns(chunk, keyN)
		jobs := make([]pool.Job, len(runs))
		for i, run := range runs {
			run := run
			jobs[i] = func(ctx context.Context) error {
				n, err := writer.Append(run)
				if err != nil {
					return err
				}
				stats.addWritten(n)
				return nil
			}
		}

		if err := p.pool.Run(ctx, jobs); err != nil {
			return nil, err
		}

		p.logger.Debug("chunk partitioned",
			"chunk", chunk.Index,
			"rows", len(chunk.Rows),
			"groups", len(runs),
		)
	}

	return stats.snapshot(p.registry), nil
}
