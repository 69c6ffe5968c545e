package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/internal/logging"
)

// Runner processes one task.
type Runner interface {
	Run(ctx context.Context, taskID string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, taskID string) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, taskID string) error {
	return f(ctx, taskID)
}

// Source yields task ids. Enqueue hands back an id the worker took but
// could not start.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Enqueue(ctx context.Context, taskID string) error
}

// requeueTimeout bounds handing a refused id back to the source.
const requeueTimeout = 5 * time.Second

// Tracker gates task runs during shutdown.
type Tracker interface {
	TrackRun() bool
	UntrackRun()
}

// WorkerConfig holds configuration for a Worker.
type WorkerConfig struct {
	// Concurrency is the number of consumer loops (default: 1).
	Concurrency int

	// PollTimeout bounds one Dequeue call (default: 5s).
	PollTimeout time.Duration

	// ErrorBackoff is the pause after a Dequeue failure (default: 1s).
	ErrorBackoff time.Duration
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  1,
		PollTimeout:  5 * time.Second,
		ErrorBackoff: time.Second,
	}
}

// Worker consumes a Source and hands every id to a Runner. Run failures are
// logged and never retried; the task record already holds the outcome.
type Worker struct {
	config  WorkerConfig
	source  Source
	runner  Runner
	tracker Tracker
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker. tracker may be nil.
func NewWorker(config WorkerConfig, source Source, runner Runner, tracker Tracker, logger *logging.Logger) *Worker {
	defaults := DefaultWorkerConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Worker{
		config:  config,
		source:  source,
		runner:  runner,
		tracker: tracker,
		logger:  logger,
	}
}

// Start launches the consumer loops. They run until ctx is cancelled or Stop
// is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("queue: worker is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.done = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, w.logger.With("consumer", id))
		}(i)
	}
	go func() {
		wg.Wait()
		close(w.done)
	}()

	w.logger.Info("worker started", "concurrency", w.config.Concurrency)
	return nil
}

// Stop cancels the loops and waits for runs already in progress to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	<-w.done
	w.running = false
	w.logger.Info("worker stopped")
}

// Done is closed once every loop has exited. It is nil before Start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) loop(ctx context.Context, log *logging.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		taskID, err := w.source.Dequeue(ctx, w.config.PollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrEmpty):
			continue
		case errors.Is(err, ErrClosed), ctx.Err() != nil:
			return
		default:
			log.Warn("dequeue failed", "error", err, "retryable", apperrors.IsRetryable(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.ErrorBackoff):
			}
			continue
		}

		if w.tracker != nil && !w.tracker.TrackRun() {
			w.requeue(ctx, taskID, log)
			return
		}
		w.process(ctx, taskID, log)
		if w.tracker != nil {
			w.tracker.UntrackRun()
		}
	}
}

// requeue returns a dequeued id that will not be run in this process.
func (w *Worker) requeue(ctx context.Context, taskID string, log *logging.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	if err := w.source.Enqueue(rctx, taskID); err != nil {
		log.Error("shutting down, dequeued task lost", "task_id", taskID, "error", err)
		return
	}
	log.Warn("shutting down, dequeued task requeued", "task_id", taskID)
}

// process runs one task. The run gets a context detached from the loop so
// cancelling the worker lets it finish.
func (w *Worker) process(ctx context.Context, taskID string, log *logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task run panicked", "task_id", taskID, "panic", r)
			log.Debug("task run panic detail", "task_id", taskID, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := w.runner.Run(context.WithoutCancel(ctx), taskID); err != nil {
		log.Info("task run failed", "task_id", taskID, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	log.Info("task run succeeded", "task_id", taskID, "duration_ms", time.Since(start).Milliseconds())
}
