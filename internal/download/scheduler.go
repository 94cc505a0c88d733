package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	apperrors "github.com/levelmind/levelmind-go/internal/errors"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/levelmind/levelmind-go/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrJobFinished is returned when cancelling a job that already ended
	ErrJobFinished = errors.New("job already finished")
	// ErrJobNotScheduled is returned when cancelling an unfinished job this
	// process is not running, e.g. one whose resubmission failed
	ErrJobNotScheduled = errors.New("job is not scheduled")
)

// JobInput is the input of one download job
type JobInput struct {
	DownloadURL string `json:"download_url"`
	SongID      string `json:"song_id"`
}

// JobResult is the terminal outcome of a job. Error is a human readable
// reason; Exception describes the underlying failure when there is one.
type JobResult struct {
	JobID     string `json:"job_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// Workflow performs the work of a single job
type Workflow interface {
	Download(ctx context.Context, trackID, sourceURL string) error
}

// Scheduler persists download jobs and runs them on a worker pool. Jobs
// survive restarts: anything left running by a dead process is put back
// to pending and resubmitted on Start.
type Scheduler struct {
	workflow Workflow
	jobs     *store.JobStore
	pool     *WorkerPool
	notifier Notifier
	logger   *zap.Logger

	mu       sync.RWMutex
	started  bool
	stopping atomic.Bool

	queueMu sync.Mutex
	queued  map[string]*queuedJob // until the result is recorded

	waitersMu sync.Mutex
	waiters   map[string][]chan JobResult

	resultsDone chan struct{}
}

type queuedJob struct {
	job       *Job
	submitted bool // job.cancel is set
	cancelled bool
	finishing bool // the result is being recorded
}

// NewScheduler creates a Scheduler running at most concurrency jobs at once
func NewScheduler(workflow Workflow, jobs *store.JobStore, notifier Notifier, concurrency int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		workflow: workflow,
		jobs:     jobs,
		notifier: notifier,
		logger:   logger.Named("scheduler"),
		queued:   make(map[string]*queuedJob),
		waiters:  make(map[string][]chan JobResult),
	}
	s.pool = NewWorkerPool(concurrency, s.handleJob, logger)
	return s
}

// Start resets interrupted jobs, starts the pool and resubmits pending work
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	reset, err := s.jobs.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}
	if reset > 0 {
		s.logger.Info("reset interrupted jobs", zap.Int64("count", reset))
	}

	pending, err := s.jobs.ListByStatus(ctx, store.JobPending)
	if err != nil {
		return fmt.Errorf("failed to load pending jobs: %w", err)
	}

	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	s.stopping.Store(false)
	s.resultsDone = make(chan struct{})
	go s.processResults()

	for _, job := range pending {
		if err := s.enqueue(job); err != nil {
			s.logger.Warn("failed to resubmit job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("resubmitted pending jobs", zap.Int("count", len(pending)))
	}

	s.started = true
	s.updatePendingMetric(ctx)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit. Jobs that
// were interrupted stay running in the store and are picked up again by
// the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.stopping.Store(true)
	s.pool.Stop()
	<-s.resultsDone

	// Dropped with the pool's queue; the next Start resubmits them
	s.queueMu.Lock()
	s.queued = make(map[string]*queuedJob)
	s.queueMu.Unlock()

	s.started = false
}

// Submit records a pending job and hands it to the pool. It does not wait
// for the job to run.
func (s *Scheduler) Submit(ctx context.Context, input JobInput) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return "", fmt.Errorf("scheduler not started")
	}

	job := &store.Job{
		ID:        uuid.NewString(),
		TrackID:   input.SongID,
		SourceURL: input.DownloadURL,
		Status:    store.JobPending,
	}
	if err := s.jobs.Add(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.enqueue(job); err != nil {
		s.jobs.UpdateStatus(context.WithoutCancel(ctx), job.ID, store.JobFailed, err.Error(), string(apperrors.ErrTypeUnknown))
		return "", err
	}

	s.logger.Info("job submitted", zap.String("job_id", job.ID), zap.String("track_id", job.TrackID))
	s.updatePendingMetric(ctx)
	return job.ID, nil
}

func (s *Scheduler) enqueue(job *store.Job) error {
	q := &queuedJob{job: &Job{
		ID:        job.ID,
		TrackID:   job.TrackID,
		SourceURL: job.SourceURL,
	}}

	// Tracked before the pool sees it so a fast result finds its entry
	s.queueMu.Lock()
	s.queued[job.ID] = q
	s.queueMu.Unlock()

	if err := s.pool.Submit(q.job); err != nil {
		s.forget(job.ID)
		return fmt.Errorf("failed to submit job: %w", err)
	}

	s.queueMu.Lock()
	q.submitted = true
	cancelled := q.cancelled
	s.queueMu.Unlock()

	if cancelled {
		q.job.cancel()
	}
	return nil
}

// Get returns a job by id
func (s *Scheduler) Get(ctx context.Context, jobID string) (*store.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

// List returns all known jobs, oldest first
func (s *Scheduler) List(ctx context.Context) ([]*store.Job, error) {
	return s.jobs.List(ctx)
}

// Stats returns job counts per status
func (s *Scheduler) Stats(ctx context.Context) (*store.JobStats, error) {
	return s.jobs.Stats(ctx)
}

// ActiveCount returns the number of jobs currently executing
func (s *Scheduler) ActiveCount() int {
	return s.pool.GetActiveJobCount()
}

// Concurrency returns the number of workers
func (s *Scheduler) Concurrency() int {
	return s.pool.GetMaxWorkers()
}

// Cancel stops a queued or running job. The job ends as failed.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return fmt.Errorf("job %s: %w", jobID, ErrJobFinished)
	}

	s.queueMu.Lock()
	q, ok := s.queued[jobID]
	switch {
	case !ok:
		s.queueMu.Unlock()
		return s.notScheduled(ctx, jobID)
	case q.finishing:
		s.queueMu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, ErrJobFinished)
	}
	q.cancelled = true
	if q.submitted {
		q.job.cancel()
	}
	s.queueMu.Unlock()

	s.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// notScheduled tells a job whose result was recorded since the first
// lookup from one this process never ran
func (s *Scheduler) notScheduled(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return fmt.Errorf("job %s: %w", jobID, ErrJobFinished)
	}
	return fmt.Errorf("job %s: %w", jobID, ErrJobNotScheduled)
}

// Wait blocks until the job has a terminal result
func (s *Scheduler) Wait(ctx context.Context, jobID string) (JobResult, error) {
	ch := make(chan JobResult, 1)

	s.waitersMu.Lock()
	s.waiters[jobID] = append(s.waiters[jobID], ch)
	s.waitersMu.Unlock()
	defer s.removeWaiter(jobID, ch)

	// The result may have been recorded before the waiter was registered
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return JobResult{}, err
	}
	if job.Status.Finished() {
		return resultFromJob(job), nil
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

func (s *Scheduler) removeWaiter(jobID string, ch chan JobResult) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()

	waiters := s.waiters[jobID]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(s.waiters, jobID)
	} else {
		s.waiters[jobID] = waiters
	}
}

// handleJob runs inside a pool worker
func (s *Scheduler) handleJob(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.jobs.UpdateStatus(ctx, job.ID, store.JobRunning, "", ""); err != nil {
		s.logger.Warn("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.updatePendingMetric(ctx)

	if s.notifier != nil {
		s.notifier.NotifyStarted(job.ID, job.TrackID)
	}

	return s.workflow.Download(ctx, job.TrackID, job.SourceURL)
}

func (s *Scheduler) processResults() {
	defer close(s.resultsDone)

	for result := range s.pool.Results() {
		s.recordResult(result)
	}
}

func (s *Scheduler) recordResult(result *Result) {
	ctx := context.Background()
	logger := monitoring.LoggerWithContext(s.logger, zap.String("job_id", result.JobID), zap.String("track_id", result.TrackID))

	s.queueMu.Lock()
	cancelled := false
	if q, ok := s.queued[result.JobID]; ok {
		q.finishing = true
		cancelled = q.cancelled
	}
	s.queueMu.Unlock()

	// Interrupted by shutdown: leave it running so the next start resets it
	if !result.Success && !cancelled && s.stopping.Load() && errors.Is(result.Error, context.Canceled) {
		s.forget(result.JobID)
		logger.Info("job interrupted by shutdown")
		return
	}

	err := result.Error
	if !result.Success && cancelled {
		err = apperrors.NewTransportError("Download cancelled", context.Canceled)
	}

	jobResult := newJobResult(result.JobID, err)
	if jobResult.Success {
		if updateErr := s.jobs.UpdateStatus(ctx, result.JobID, store.JobCompleted, "", ""); updateErr != nil {
			logger.Error("failed to record job result", zap.Error(updateErr))
		}
		logger.Info("job completed")
		if s.notifier != nil {
			s.notifier.NotifyCompleted(result.JobID, result.TrackID)
		}
	} else {
		kind := string(apperrors.GetErrorType(err))
		if updateErr := s.jobs.UpdateStatus(ctx, result.JobID, store.JobFailed, jobResult.Error, kind); updateErr != nil {
			logger.Error("failed to record job result", zap.Error(updateErr))
		}
		logger.Warn("job failed", zap.String("reason", jobResult.Error), zap.String("kind", kind))
		if s.notifier != nil {
			s.notifier.NotifyFailed(result.JobID, result.TrackID, err)
		}
	}

	s.forget(result.JobID)
	s.updatePendingMetric(ctx)
	s.deliver(jobResult)
}

func (s *Scheduler) forget(jobID string) {
	s.queueMu.Lock()
	delete(s.queued, jobID)
	s.queueMu.Unlock()
}

func (s *Scheduler) deliver(result JobResult) {
	s.waitersMu.Lock()
	waiters := s.waiters[result.JobID]
	delete(s.waiters, result.JobID)
	s.waitersMu.Unlock()

	for _, ch := range waiters {
		ch <- result
	}
}

func (s *Scheduler) updatePendingMetric(ctx context.Context) {
	count, err := s.jobs.CountByStatus(context.WithoutCancel(ctx), store.JobPending)
	if err != nil {
		return
	}
	monitoring.UpdatePendingJobs(count)
}

// newJobResult converts a workflow error into the job's terminal result
func newJobResult(jobID string, err error) JobResult {
	if err == nil {
		return JobResult{JobID: jobID, Success: true}
	}

	result := JobResult{JobID: jobID}
	if appErr, ok := apperrors.AsAppError(err); ok {
		result.Error = appErr.Message
		if appErr.Cause != nil {
			result.Exception = appErr.Cause.Error()
		}
		return result
	}

	result.Error = "Download exception: " + err.Error()
	result.Exception = fmt.Sprintf("%T: %v", err, err)
	return result
}

func resultFromJob(job *store.Job) JobResult {
	if job.Status == store.JobCompleted {
		return JobResult{JobID: job.ID, Success: true}
	}
	return JobResult{JobID: job.ID, Error: job.Error}
}
