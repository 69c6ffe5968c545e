// Package app wires the splitagg components together from configuration.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkilian/splitagg/internal/config"
	"github.com/arkilian/splitagg/internal/download"
	"github.com/arkilian/splitagg/internal/logging"
	"github.com/arkilian/splitagg/internal/observability"
	"github.com/arkilian/splitagg/internal/pipeline"
	"github.com/arkilian/splitagg/internal/queue"
	"github.com/arkilian/splitagg/internal/server"
	"github.com/arkilian/splitagg/internal/storage"
	"github.com/arkilian/splitagg/internal/store"
	"github.com/arkilian/splitagg/internal/submit"
	"github.com/arkilian/splitagg/pkg/types"
)

// TaskStore is everything the commands need from the task store.
type TaskStore interface {
	pipeline.TaskStore
	CreateTask(ctx context.Context, task *types.Task) (*types.Task, error)
	ListByStatus(ctx context.Context, status types.TaskStatus) ([]*types.Task, error)
	Close() error
}

// App owns the shared resources of one splitagg process.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	// Shared resources
	store      TaskStore
	queue      queue.Queue
	publisher  *storage.Publisher
	registry   *observability.RunRegistry
	shutdown   *server.ShutdownManager
	controller *pipeline.Controller

	mu            sync.Mutex
	workerRunning bool
}

// Option overrides a resource App would otherwise build from configuration.
type Option func(*App)

// WithStore uses s instead of opening the SQLite store.
func WithStore(s TaskStore) Option {
	return func(a *App) { a.store = s }
}

// WithQueue uses q instead of the configured queue.
func WithQueue(q queue.Queue) Option {
	return func(a *App) { a.queue = q }
}

// New resolves and validates cfg, creates the data directories and opens
// every configured resource. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: observability.NewRunRegistry(cfg.Worker.StatsRetention),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		}, logger),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initSharedResources(ctx); err != nil {
		a.Close()
		return nil, err
	}

	controllerOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithRunRegistry(a.registry),
	}
	if a.publisher != nil {
		controllerOpts = append(controllerOpts, pipeline.WithPublisher(a.publisher))
	}
	a.controller = pipeline.NewController(a.store, pipeline.Options{
		OutputRoot:     cfg.OutputDir,
		InputExtension: cfg.Pipeline.InputExtension,
		Schema:         cfg.Schema,
		ChunkSize:      cfg.Pipeline.ChunkSize,
		Workers:        cfg.Pipeline.Workers,
	}, controllerOpts...)

	return a, nil
}

// initSharedResources opens the store, the queue and the result storage.
// Every opened resource is registered for closing in reverse order.
func (a *App) initSharedResources(ctx context.Context) error {
	if a.store == nil {
		s, err := store.NewSQLiteStore(a.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize task store: %w", err)
		}
		a.store = s
		a.logger.Debug("task store initialized", "path", a.cfg.Store.Path)
	}
	a.shutdown.RegisterCloser(a.store)

	if a.queue == nil {
		switch a.cfg.Queue.Type {
		case config.QueueRedis:
			q, err := queue.NewRedisQueue(ctx, queue.RedisOptions{
				Addr:     a.cfg.Queue.Redis.Addr,
				Password: a.cfg.Queue.Redis.Password,
				DB:       a.cfg.Queue.Redis.DB,
				Key:      a.cfg.Queue.Redis.Key,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize queue: %w", err)
			}
			a.logger.Debug("redis queue connected", "addr", a.cfg.Queue.Redis.Addr, "key", q.Key())
			a.queue = q
		default:
			a.queue = queue.NewMemoryQueue(queue.DefaultMemoryCapacity)
		}
		a.logger.Debug("queue initialized", "type", a.cfg.Queue.Type)
	}
	a.shutdown.RegisterCloser(a.queue)

	var objects storage.ObjectStorage
	switch a.cfg.Storage.Type {
	case config.StorageLocal:
		local, err := storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		objects = local
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		s3, err := storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		objects = s3
		a.logger.Debug("s3 storage initialized",
			"bucket", a.cfg.Storage.S3.Bucket,
			"region", s3Cfg.Region,
			"endpoint", s3Cfg.Endpoint,
		)
	}
	if objects != nil {
		a.publisher = storage.NewPublisher(objects, a.cfg.Storage.Prefix)
	}

	return nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the task store.
func (a *App) Store() TaskStore { return a.store }

// Queue returns the job queue.
func (a *App) Queue() queue.Queue { return a.queue }

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller { return a.controller }

// Registry returns the statistics of runs finished by this process.
func (a *App) Registry() *observability.RunRegistry { return a.registry }

// Submitter returns a submission service that enqueues on q, or on the
// configured queue when q is nil.
func (a *App) Submitter(q submit.Enqueuer) *submit.Service {
	if q == nil {
		q = a.queue
	}
	return submit.NewService(a.store, q, a.cfg.InputDir, a.logger)
}

// Downloader returns a service handing finished outputs to clients.
func (a *App) Downloader() *download.Service {
	return download.NewService(a.store, a.logger)
}

// Process submits srcPath through a private in-memory queue and runs the
// task right away. It returns the finished task, and the run error if the
// task failed.
func (a *App) Process(ctx context.Context, srcPath string) (*types.Task, error) {
	local := queue.NewMemoryQueue(1)
	defer local.Close()

	task, err := a.Submitter(local).Submit(ctx, srcPath)
	if err != nil {
		return task, err
	}

	taskID, err := local.Dequeue(ctx, 0)
	if err != nil {
		return task, err
	}
	runErr := a.controller.Run(ctx, taskID)

	final, err := a.store.GetTask(context.WithoutCancel(ctx), taskID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}

// RunWorker consumes the queue until SIGINT, SIGTERM or ctx cancellation,
// then drains in-flight runs and closes every resource.
func (a *App) RunWorker(ctx context.Context) error {
	a.mu.Lock()
	if a.workerRunning {
		a.mu.Unlock()
		return fmt.Errorf("worker is already running")
	}
	a.workerRunning = true
	a.mu.Unlock()

	loopCtx, stopIntake := context.WithCancel(context.Background())
	defer stopIntake()

	w := queue.NewWorker(queue.WorkerConfig{
		Concurrency: a.cfg.Worker.Concurrency,
		PollTimeout: a.cfg.Worker.PollTimeout,
	}, a.queue, a.controller, a.shutdown, a.logger)
	a.shutdown.OnShutdownStart(stopIntake)

	if err := w.Start(loopCtx); err != nil {
		return err
	}

	pruned := make(chan struct{})
	go func() {
		defer close(pruned)
		a.registry.PruneEvery(loopCtx, a.cfg.Worker.StatsRetention)
	}()

	err := a.shutdown.ListenForSignals(ctx)
	w.Stop()
	stopIntake()
	<-pruned

	counts := a.registry.Counts()
	a.logger.Info("worker summary",
		"completed", counts[string(types.StatusCompleted)],
		"failed", counts[string(types.StatusFailed)],
	)
	for _, run := range a.registry.GetSlowest(3) {
		a.logger.Debug("slow run", append([]interface{}{"task_id", run.TaskID}, run.KeysAndValues()...)...)
	}
	return err
}

// Close releases every resource. It is safe to call after RunWorker.
func (a *App) Close() error {
	return a.shutdown.Shutdown(context.Background(), "closed")
}
