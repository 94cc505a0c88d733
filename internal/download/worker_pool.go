package download

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of work for the pool
type Job struct {
	ID        string
	TrackID   string
	SourceURL string
	ctx       context.Context
	cancel    context.CancelFunc
}

// Result represents the result of a job execution
type Result struct {
	JobID   string
	TrackID string
	Success bool
	Error   error
}

// WorkerPool manages a pool of worker goroutines for concurrent downloads
type WorkerPool struct {
	maxWorkers int
	jobs       chan *Job
	results    chan *Result
	activeJobs sync.Map // map[string]*Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	handler    JobHandler
	logger     *zap.Logger
	mu         sync.RWMutex
	started    bool
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job *Job) error

// NewWorkerPool creates a new worker pool
func NewWorkerPool(maxWorkers int, handler JobHandler, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		handler:    handler,
		logger:     logger.Named("pool"),
	}
}

// Start spawns worker goroutines and begins processing jobs. A stopped pool
// can be started again; jobs queued before Stop are dropped.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	if wp.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.jobs = make(chan *Job, 1024)
	wp.results = make(chan *Result, wp.maxWorkers*10)

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(wp.ctx, i, wp.jobs, wp.results)
	}

	wp.started = true
	return nil
}

// worker is the main worker goroutine that processes jobs
func (wp *WorkerPool) worker(ctx context.Context, id int, jobs <-chan *Job, results chan<- *Result) {
	defer wp.wg.Done()

	wp.logger.Debug("worker started", zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug("worker stopping", zap.Int("worker", id), zap.Error(ctx.Err()))
			return

		case job, ok := <-jobs:
			if !ok {
				return
			}
			wp.processJob(ctx, job, results)
		}
	}
}

// processJob processes a single job
func (wp *WorkerPool) processJob(ctx context.Context, job *Job, results chan<- *Result) {
	wp.activeJobs.Store(job.ID, job)
	defer wp.activeJobs.Delete(job.ID)

	if job.ctx == nil {
		job.ctx, job.cancel = context.WithCancel(ctx)
	}
	defer job.cancel()

	err := wp.handler(job.ctx, job)

	result := &Result{
		JobID:   job.ID,
		TrackID: job.TrackID,
		Success: err == nil,
		Error:   err,
	}

	select {
	case results <- result:
	case <-ctx.Done():
		// shutting down, result is discarded
	}
}

// Submit submits a job to the worker pool
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.RLock()
	if !wp.started {
		wp.mu.RUnlock()
		return fmt.Errorf("worker pool not started")
	}
	ctx, jobs := wp.ctx, wp.jobs
	wp.mu.RUnlock()

	job.ctx, job.cancel = context.WithCancel(ctx)

	select {
	case jobs <- job:
		return nil
	case <-ctx.Done():
		job.cancel()
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Stop cancels running jobs, waits for the workers and closes the results
// channel
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	cancel, results := wp.cancel, wp.results
	wp.mu.Unlock()

	wp.activeJobs.Range(func(key, value interface{}) bool {
		if job, ok := value.(*Job); ok && job.cancel != nil {
			job.cancel()
		}
		return true
	})

	cancel()
	wp.wg.Wait()
	close(results)

	wp.mu.Lock()
	wp.started = false
	wp.mu.Unlock()
}

// Results returns the results channel of the current run
func (wp *WorkerPool) Results() <-chan *Result {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.results
}

// GetActiveJobCount returns the number of currently active jobs
func (wp *WorkerPool) GetActiveJobCount() int {
	count := 0
	wp.activeJobs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.maxWorkers
}
