// File: internal/engine/engine.go
// Description: RunEngine distributes governed runs to a pool of workers, each
// driving the Executor state machine, and persists results to the audit store.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/config"
)

// Store persists run results for audit. Implementations must tolerate being
// called with an already-cancelled parent run context; the engine hands them
// a fresh persistence context instead.
type Store interface {
	PersistResult(ctx context.Context, result *Result) error
}

// RunRequest is one unit of work for the pool. Done, when non-nil, receives
// the result exactly once; the engine never blocks on an unready receiver.
type RunRequest struct {
	Pack      *schemas.JobPack
	Profile   *schemas.RiskProfile
	TargetURL string
	Done      chan<- *Result
}

// RunEngine manages the in-process distribution of runs to a worker pool.
type RunEngine struct {
	cfg      config.Interface
	logger   *zap.Logger
	store    Store
	executor *Executor
	wg       sync.WaitGroup

	// stateLock protects the running state of the engine.
	stateLock sync.Mutex
	isRunning bool
}

// New creates a RunEngine. Dependencies arrive as interfaces so the
// composition root decides the concrete backend, store and approver.
func New(cfg config.Interface, logger *zap.Logger, store Store, executor *Executor) (*RunEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	return &RunEngine{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "run_engine")),
		store:    store,
		executor: executor,
	}, nil
}

// Start launches the worker pool and begins consuming runs from the channel.
func (e *RunEngine) Start(ctx context.Context, runChan <-chan RunRequest) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("RunEngine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	e.logger.Info("Starting run engine worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, runChan)
	}
}

// Stop waits for all workers to finish. Workers exit when the context is
// cancelled or the run channel is closed and drained.
func (e *RunEngine) Stop() {
	e.logger.Info("Stopping run engine, waiting for workers to finish.")
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Run engine stopped gracefully.")
}

// runWorker is the main loop for a single worker goroutine.
func (e *RunEngine) runWorker(ctx context.Context, workerID int, runChan <-chan RunRequest) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Info("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down immediately.", zap.Error(ctx.Err()))
			return
		case req, ok := <-runChan:
			if !ok {
				logger.Info("Run queue closed and drained, worker shutting down gracefully.")
				return
			}
			e.process(ctx, req, logger)
		}
	}
}

// process handles one run end to end: execute, persist, reply.
func (e *RunEngine) process(ctx context.Context, req RunRequest, logger *zap.Logger) {
	if ctx.Err() != nil {
		logger.Warn("Context cancelled before run started", zap.Error(ctx.Err()))
		return
	}
	if req.Pack == nil || req.Profile == nil {
		logger.Error("Run request missing pack or profile, discarding")
		return
	}

	logger.Info("Processing run",
		zap.String("pack_id", req.Pack.ID),
		zap.String("profile", req.Profile.Name),
		zap.String("target", req.TargetURL))

	runTimeout := e.cfg.Engine().DefaultRunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	result, err := e.executor.Execute(runCtx, req.Pack, req.Profile, req.TargetURL)
	if err != nil {
		// Only malformed input reaches here; everything else is in the result.
		logger.Error("Run rejected", zap.Error(err))
		e.reply(req, nil)
		return
	}

	// Persist on a background context so a shutdown mid-run still leaves an
	// audit record behind.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()
	if err := e.store.PersistResult(persistCtx, result); err != nil {
		logger.Error("Failed to persist run result", zap.String("execution_id", result.ExecutionID), zap.Error(err))
	}

	e.reply(req, result)
}

func (e *RunEngine) reply(req RunRequest, result *Result) {
	if req.Done == nil {
		return
	}
	select {
	case req.Done <- result:
	default:
		e.logger.Warn("Result receiver not ready, dropping reply")
	}
}
