// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/observability"
	"github.com/xkilldash9x/formrunner/internal/orchestrator"
	"github.com/xkilldash9x/formrunner/internal/queue"
	"github.com/xkilldash9x/formrunner/internal/store"
)

const (
	defaultConcurrency  = 2
	defaultTaskTimeout  = 5 * time.Minute
	defaultGrace        = 30 * time.Second
	persistTimeout      = 30 * time.Second
	closeSessionsPeriod = 30 * time.Second
)

// -- Interfaces for Dependency Inversion --

// JobSource is the queue as seen by the workers.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Progress(id string, pct int) error
	Complete(id string, result *schemas.JobResult) error
	Fail(id string, cause error) (queue.State, error)
	Close()
}

// Processor runs a single task to completion.
type Processor interface {
	Process(ctx context.Context, task schemas.Task, progress orchestrator.ProgressReporter) (*schemas.JobResult, error)
}

// Store persists the final record of each job.
type Store interface {
	PersistResult(ctx context.Context, rec store.JobRecord) error
}

// SessionCloser tears down any browser sessions still open at shutdown.
type SessionCloser interface {
	CloseAll(ctx context.Context) error
}

// Engine drains the queue with a fixed pool of workers.
type Engine struct {
	cfg       config.Interface
	logger    *zap.Logger
	source    JobSource
	processor Processor
	store     Store
	sessions  SessionCloser
	wg        sync.WaitGroup
	now       func() time.Time

	// stateLock protects the running state and the job context.
	stateLock  sync.Mutex
	isRunning  bool
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
}

// New creates a new Engine.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	source JobSource,
	processor Processor,
	storeService Store,
	sessions SessionCloser,
) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if source == nil {
		return nil, errors.New("job source cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if storeService == nil {
		return nil, errors.New("store service cannot be nil")
	}
	if sessions == nil {
		return nil, errors.New("session closer cannot be nil")
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "engine")),
		source:    source,
		processor: processor,
		store:     storeService,
		sessions:  sessions,
		now:       time.Now,
	}, nil
}

// Start launches the worker pool. Workers stop pulling new jobs when ctx is
// cancelled, but jobs already running only end on their own timeout or when
// Stop gives up waiting for them.
func (e *Engine) Start(ctx context.Context) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("Engine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.jobsCtx, e.cancelJobs = context.WithCancel(context.WithoutCancel(ctx))
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	e.logger.Info("Starting engine worker pool", zap.Int("concurrency", concurrency))
	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1)
	}
}

// Stop closes the queue, waits up to the shutdown grace period for in-flight
// jobs, cancels whatever is still running and finally closes every browser
// session.
func (e *Engine) Stop(ctx context.Context) error {
	e.stateLock.Lock()
	if !e.isRunning {
		e.stateLock.Unlock()
		return nil
	}
	cancelJobs := e.cancelJobs
	e.stateLock.Unlock()

	e.logger.Info("Stopping engine... waiting for in-flight jobs to finish.")
	e.source.Close()

	grace := e.cfg.Engine().ShutdownGrace
	if grace <= 0 {
		grace = defaultGrace
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("Shutdown grace period elapsed, cancelling in-flight jobs", zap.Duration("grace", grace))
		cancelJobs()
		<-done
	case <-ctx.Done():
		e.logger.Warn("Shutdown interrupted, cancelling in-flight jobs", zap.Error(ctx.Err()))
		cancelJobs()
		<-done
	}
	cancelJobs()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeSessionsPeriod)
	defer cancel()
	err := e.sessions.CloseAll(closeCtx)

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Engine stopped.")
	return err
}

// runWorker pulls jobs until the queue closes or ctx is cancelled.
func (e *Engine) runWorker(ctx context.Context, workerID int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		job, err := e.source.Dequeue(ctx)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrQueueClosed):
				logger.Debug("Queue closed, worker shutting down.")
				return
			case ctx.Err() != nil:
				logger.Debug("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
				return
			default:
				logger.Warn("Dequeue failed", zap.Error(err))
				continue
			}
		}
		e.process(job, logger)
	}
}

// process runs one job under the task timeout and records its outcome.
func (e *Engine) process(job *queue.Job, logger *zap.Logger) {
	log := observability.JobLogger(logger, job.ID, job.Task.SessionID).
		With(zap.Int("attempt", job.Attempt))

	e.stateLock.Lock()
	jobsCtx := e.jobsCtx
	e.stateLock.Unlock()

	taskTimeout := e.cfg.Engine().DefaultTaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(jobsCtx, taskTimeout)
	defer cancel()

	progress := orchestrator.ProgressFunc(func(pct int) {
		if err := e.source.Progress(job.ID, pct); err != nil {
			log.Debug("Progress update dropped", zap.Error(err))
		}
	})

	result, processingErr := e.processor.Process(taskCtx, job.Task, progress)
	state := queue.StateCompleted
	if processingErr != nil {
		switch {
		case errors.Is(processingErr, context.DeadlineExceeded):
			log.Warn("Job timed out", zap.Duration("timeout", taskTimeout), zap.Error(processingErr))
		case errors.Is(processingErr, context.Canceled):
			log.Warn("Job was cancelled", zap.Error(processingErr))
		default:
			log.Error("Job failed", zap.Error(processingErr))
		}
		next, err := e.source.Fail(job.ID, processingErr)
		if err != nil {
			log.Error("Failed to record job failure", zap.Error(err))
			next = queue.StateFailed
		}
		if next == queue.StateDelayed {
			log.Debug("Retry scheduled, result not persisted")
			return
		}
		state = next
	} else {
		if err := e.source.Complete(job.ID, result); err != nil {
			log.Error("Failed to record job completion", zap.Error(err))
		}
		log.Info("Job completed", zap.Bool("success", result.Success))
	}

	e.persist(job, state, result, processingErr, log)
}

// persist stores the final record of a job.
func (e *Engine) persist(job *queue.Job, state queue.State, result *schemas.JobResult, processingErr error, log *zap.Logger) {
	rec := store.JobRecord{
		JobID:      job.ID,
		SessionID:  job.Task.SessionID,
		AccountID:  job.Task.AccountID,
		State:      string(state),
		Attempts:   job.Attempt,
		Result:     result,
		FinishedAt: e.now().UTC(),
	}
	if result != nil {
		rec.Success = result.Success
		rec.CheckoutType = string(result.CheckoutType)
		rec.OrderNumber = result.OrderNumber
	}
	if processingErr != nil {
		rec.Error = processingErr.Error()
	}

	// Use a background context so results are saved even during shutdown.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer persistCancel()

	if err := e.store.PersistResult(persistCtx, rec); err != nil {
		log.Error("Failed to persist job result", zap.Error(err))
		return
	}
	log.Debug("Persisted job result", zap.String("state", rec.State))
}
