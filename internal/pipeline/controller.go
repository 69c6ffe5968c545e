package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/arkilian/splitagg/internal/aggregate"
	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/internal/observability"
	"github.com/arkilian/splitagg/internal/partition"
	"github.com/arkilian/splitagg/internal/pool"
	"github.com/arkilian/splitagg/internal/workspace"
	"github.com/arkilian/splitagg/pkg/types"
)

// Validation messages reported on the input_file field.
const (
	FieldInputFile        = "input_file"
	MsgMissingInputFile   = "Cannot process a csv without the input file."
	MsgUnsupportedFormat  = "File format not supported."
	defaultInputExtension = ".csv"
)

// State is a step of a task run.
type State string

const (
	StateCreated      State = "created"
	StateValidating   State = "validating"
	StatePartitioning State = "partitioning"
	StateAggregating  State = "aggregating"
	StateFinalizing   State = "finalizing"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Options holds the per-deployment settings of a controller.
type Options struct {
	// OutputRoot holds workspaces (<root>/<task_id>/) and outputs (<root>/<task_id>.csv)
	OutputRoot string

	// InputExtension is the only accepted input extension, compared case-insensitively
	InputExtension string

	// Schema names the key, secondary and measure columns
	Schema types.Schema

	// ChunkSize bounds rows held in memory while partitioning
	ChunkSize int

	// Workers bounds job concurrency per phase (0 = one goroutine per job)
	Workers int
}

// Controller runs tasks end to end.
type Controller struct {
	store     TaskStore
	opts      Options
	publisher Publisher
	registry  *observability.RunRegistry
	logger    *logging.Logger
	onState   func(taskID string, s State)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithPublisher publishes every successful output before the task completes.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithRunRegistry records the statistics of every finished run.
func WithRunRegistry(r *observability.RunRegistry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithStateHook calls fn on every state transition.
func WithStateHook(fn func(taskID string, s State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// NewController creates a controller bound to store.
func NewController(store TaskStore, opts Options, options ...Option) *Controller {
	if opts.InputExtension == "" {
		opts.InputExtension = defaultInputExtension
	}
	if len(opts.Schema.KeyColumns) == 0 {
		opts.Schema = types.DefaultSchema()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = partition.DefaultChunkSize
	}

	c := &Controller{store: store, opts: opts}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	return c
}

// OutputPath returns where the output of taskID is written.
func (c *Controller) OutputPath(taskID string) string {
	return filepath.Join(c.opts.OutputRoot, taskID+".csv")
}

// Run processes one task. The task ends COMPLETED with an output path or
// FAILED with field errors; it is never left IN_PROGRESS once loaded. A
// missing task is returned without any update. Run returns the error that
// failed the task, after the task has been updated.
func (c *Controller) Run(ctx context.Context, taskID string) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	log := c.logger.With("task_id", taskID)
	stats := observability.NewRunStats(taskID)
	c.transition(taskID, StateCreated)

	ws, err := workspace.Acquire(c.opts.OutputRoot, taskID)
	if err != nil {
		return c.fail(ctx, task, apperrors.NewIOError("acquire workspace", err), stats, log)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			log.Warn("failed to release workspace", "dir", ws.Dir(), "error", err)
		}
	}()

	task.Status = types.StatusInProgress
	task.OutputFilePath = nil
	task.Errors = nil
	updated, err := c.store.UpdateTask(ctx, task)
	if err != nil {
		return c.fail(ctx, task, err, stats, log)
	}
	task = updated

	outputPath, resultObject, err := c.execute(ctx, task, ws, stats, log)
	if err != nil {
		return c.fail(ctx, task, err, stats, log)
	}

	c.transition(taskID, StateSucceeded)
	task.Status = types.StatusCompleted
	task.OutputFilePath = types.StringPtr(outputPath)
	task.ResultObject = resultObject
	task.Errors = nil
	if _, err := c.store.UpdateTask(context.WithoutCancel(ctx), task); err != nil {
		os.Remove(outputPath)
		if resultObject != nil {
			if rerr := c.publisher.Retract(context.WithoutCancel(ctx), *resultObject); rerr != nil {
				log.Warn("failed to retract published output", "object", *resultObject, "error", rerr)
			}
		}
		return c.fail(ctx, task, err, stats, log)
	}

	stats.Finish(string(types.StatusCompleted))
	c.record(stats, log)
	return nil
}

// execute runs the phases after the task is marked IN_PROGRESS. A panic
// anywhere below is turned into an unclassified error and drops the output.
func (c *Controller) execute(ctx context.Context, task *types.Task, ws *workspace.Workspace,
	stats *observability.RunStats, log *logging.Logger) (outputPath string, resultObject *string, err error) {

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Sprintf("panic: %v", r), nil).
				WithDetails(map[string]interface{}{"stack": string(debug.Stack())})
			if outputPath != "" {
				os.Remove(outputPath)
			}
			outputPath, resultObject = "", nil
		}
	}()

	c.transition(task.ID, StateValidating)
	stop := stats.StartPhase(observability.PhaseValidating)
	inputPath, err := c.validate(task)
	stop()
	if err != nil {
		return "", nil, err
	}

	fp := pool.New(c.opts.Workers)

	c.transition(task.ID, StatePartitioning)
	stop = stats.StartPhase(observability.PhasePartitioning)
	pstats, err := partition.New(ws, c.opts.Schema,
		partition.WithChunkSize(c.opts.ChunkSize),
		partition.WithPool(fp),
		partition.WithLogger(log),
	).Partition(ctx, inputPath)
	stop()
	if err != nil {
		return "", nil, err
	}
	stats.RecordPartition(pstats.RowsRead, pstats.RowsWritten, pstats.Chunks, pstats.SpillFiles, pstats.Collisions)
	log.Debug("input partitioned",
		"rows_read", pstats.RowsRead,
		"rows_written", pstats.RowsWritten,
		"chunks", pstats.Chunks,
		"spill_files", pstats.SpillFiles,
		"workers", fp.Workers(),
	)

	c.transition(task.ID, StateAggregating)
	outputPath = c.OutputPath(task.ID)
	stop = stats.StartPhase(observability.PhaseAggregating)
	astats, err := aggregate.New(ws, c.opts.Schema, fp, log).Aggregate(ctx, outputPath)
	stop()
	if err != nil {
		return "", nil, err
	}
	stats.RecordAggregate(astats.Groups)

	c.transition(task.ID, StateFinalizing)
	if c.publisher != nil {
		stop = stats.StartPhase(observability.PhaseFinalizing)
		object, err := c.publisher.Publish(ctx, outputPath, task.ID)
		stop()
		if err != nil {
			os.Remove(outputPath)
			return "", nil, err
		}
		resultObject = types.StringPtr(object)
	}

	return outputPath, resultObject, nil
}

func (c *Controller) validate(task *types.Task) (string, error) {
	if task.InputFilePath == nil || strings.TrimSpace(*task.InputFilePath) == "" {
		return "", apperrors.NewValidationError(types.FieldErrors{
			FieldInputFile: {MsgMissingInputFile},
		})
	}

	path := *task.InputFilePath
	if !strings.EqualFold(filepath.Ext(path), c.opts.InputExtension) {
		return "", apperrors.NewValidationError(types.FieldErrors{
			FieldInputFile: {MsgUnsupportedFormat},
		})
	}
	return path, nil
}

// fail records cause on the task and returns cause. The update runs even
// when ctx has been cancelled.
func (c *Controller) fail(ctx context.Context, task *types.Task, cause error,
	stats *observability.RunStats, log *logging.Logger) error {

	c.transition(task.ID, StateFailed)

	if apperrors.IsClassified(cause) {
		log.Info("task rejected", "code", apperrors.GetCode(cause), "errors", apperrors.Report(cause))
	} else {
		log.Error("task failed", "code", apperrors.GetCode(cause))
		kv := []interface{}{"error", cause.Error()}
		if pe := asPipelineError(cause); pe != nil && pe.Details != nil {
			kv = append(kv, "details", pe.Details)
		}
		log.Debug("task failure detail", kv...)
	}

	task.Status = types.StatusFailed
	task.OutputFilePath = nil
	task.ResultObject = nil
	task.Errors = apperrors.Report(cause)

	if _, err := c.store.UpdateTask(context.WithoutCancel(ctx), task); err != nil {
		log.Error("failed to record task failure", "error", err)
	}

	stats.Finish(string(types.StatusFailed))
	c.record(stats, log)
	return cause
}

func (c *Controller) record(stats *observability.RunStats, log *logging.Logger) {
	log.Info("task finished", stats.KeysAndValues()...)
	if c.registry != nil {
		c.registry.Record(stats)
	}
}

func (c *Controller) transition(taskID string, s State) {
	if c.onState != nil {
		c.onState(taskID, s)
	}
}

func asPipelineError(err error) *apperrors.PipelineError {
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
