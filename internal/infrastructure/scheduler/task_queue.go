package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a queued job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is one import task moving through the queue
type Job struct {
	ID          uuid.UUID
	Task        exchange.ImportTask
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	NextRetryAt *time.Time

	backoff backoff.BackOff
}

// Handle returns the opaque id recorded on the session
func (j *Job) Handle() string {
	return j.ID.String()
}

func (j *Job) start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

func (j *Job) complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

func (j *Job) fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// TaskHandler runs import tasks
type TaskHandler interface {
	// Run executes the task. The session must be terminal or still pending when it returns.
	Run(ctx context.Context, task exchange.ImportTask) error
	// PrepareRetry returns the task to run on the next attempt, creating a
	// follow-up session when the failed one is already terminal
	PrepareRetry(ctx context.Context, task exchange.ImportTask, cause error) (exchange.ImportTask, error)
	// Abandon is called once no further attempt will be made for the task
	Abandon(ctx context.Context, task exchange.ImportTask, cause error)
}

// TaskQueueConfig holds task queue configuration
type TaskQueueConfig struct {
	Concurrency    int
	QueueSize      int
	JobTimeout     time.Duration
	RetryAttempts  int           // total attempts including the first run
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultTaskQueueConfig returns default task queue configuration
func DefaultTaskQueueConfig() TaskQueueConfig {
	return TaskQueueConfig{
		Concurrency:    2,
		QueueSize:      100,
		JobTimeout:     90 * time.Minute,
		RetryAttempts:  3,
		RetryBaseDelay: 30 * time.Second,
		RetryMaxDelay:  30 * time.Minute,
	}
}

func (c TaskQueueConfig) validate() error {
	if c.Concurrency <= 0 || c.QueueSize <= 0 || c.JobTimeout <= 0 || c.RetryAttempts < 1 {
		return ErrInvalidConfig
	}
	return nil
}

// JobObserver is notified about finished job attempts
type JobObserver interface {
	JobFinished(job *Job, duration time.Duration, err error)
}

// TaskQueue is an in-process worker pool running import tasks with per-job
// timeout and a retry policy limited to retryable failures
type TaskQueue struct {
	config   TaskQueueConfig
	handler  TaskHandler
	logger   *zap.Logger
	observer JobObserver

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	timers    map[uuid.UUID]*time.Timer
}

// TaskQueueOption is a functional option for TaskQueue
type TaskQueueOption func(*TaskQueue)

// WithObserver registers an observer for finished attempts
func WithObserver(o JobObserver) TaskQueueOption {
	return func(q *TaskQueue) {
		q.observer = o
	}
}

// NewTaskQueue creates a task queue
func NewTaskQueue(config TaskQueueConfig, handler TaskHandler, logger *zap.Logger, opts ...TaskQueueOption) (*TaskQueue, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %+v", err, config)
	}
	q := &TaskQueue{
		config:  config,
		handler: handler,
		logger:  logger,
		jobs:    make(chan *Job, config.QueueSize),
		timers:  make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start starts the worker pool
func (q *TaskQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = true
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.config.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("Import task queue started",
		zap.Int("workers", q.config.Concurrency),
		zap.Duration("job_timeout", q.config.JobTimeout),
		zap.Int("retry_attempts", q.config.RetryAttempts),
	)
	return nil
}

// Stop cancels running jobs, drops scheduled retries and waits for the workers
func (q *TaskQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Import task queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn("Import task queue stop timed out")
		return ctx.Err()
	}
}

// Enqueue submits a task and returns its handle. It never blocks.
func (q *TaskQueue) Enqueue(task exchange.ImportTask) (string, error) {
	job := &Job{
		ID:      uuid.New(),
		Task:    task,
		Status:  JobStatusPending,
		backoff: q.newBackOff(),
	}
	if err := q.submit(job); err != nil {
		return "", err
	}
	q.logger.Debug("Task enqueued",
		zap.String("handle", job.Handle()),
		zap.String("session_id", task.SessionID.String()),
		zap.String("import_type", string(task.ImportType)),
	)
	return job.Handle(), nil
}

// Pending returns the number of jobs waiting for a worker
func (q *TaskQueue) Pending() int {
	return len(q.jobs)
}

func (q *TaskQueue) submit(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.isRunning {
		return ErrQueueNotRunning
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *TaskQueue) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.config.RetryBaseDelay
	b.MaxInterval = q.config.RetryMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(q.config.RetryAttempts-1))
}

func (q *TaskQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, workerID)
		}
	}
}

func (q *TaskQueue) processJob(ctx context.Context, job *Job, workerID int) {
	job.start()
	logger := q.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("handle", job.Handle()),
		zap.String("session_id", job.Task.SessionID.String()),
		zap.String("import_type", string(job.Task.ImportType)),
		zap.Int("attempt", job.Task.Attempt),
	)
	logger.Info("Processing import task")

	jobCtx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	defer cancel()

	started := time.Now()
	err := q.run(jobCtx, job)
	if q.observer != nil {
		q.observer.JobFinished(job, time.Since(started), err)
	}
	if err == nil {
		job.complete()
		logger.Info("Import task completed", zap.Duration("duration", time.Since(started)))
		return
	}

	job.fail(err.Error())
	if ctx.Err() != nil {
		logger.Warn("Import task interrupted by shutdown", zap.Error(err))
		return
	}
	if !exchange.IsRetryable(err) {
		logger.Error("Import task failed", zap.Error(err))
		q.handler.Abandon(ctx, job.Task, err)
		return
	}

	delay := job.backoff.NextBackOff()
	if delay == backoff.Stop {
		logger.Error("Import task failed, retries exhausted", zap.Error(err), zap.Int("retry_count", job.RetryCount))
		q.handler.Abandon(ctx, job.Task, fmt.Errorf("retries exhausted: %w", err))
		return
	}

	next, prepErr := q.handler.PrepareRetry(ctx, job.Task, err)
	if prepErr != nil {
		logger.Error("Failed to prepare import retry", zap.Error(prepErr), zap.NamedError("cause", err))
		q.handler.Abandon(ctx, job.Task, err)
		return
	}
	job.Task = next
	job.RetryCount++
	job.Status = JobStatusPending
	retryAt := time.Now().Add(delay)
	job.NextRetryAt = &retryAt
	logger.Warn("Import task scheduled for retry",
		zap.Error(err),
		zap.Duration("delay", delay),
		zap.Int("retry_count", job.RetryCount),
		zap.String("next_session_id", next.SessionID.String()),
	)
	q.scheduleRetry(job, delay)
}

// run calls the handler, turning a panic into an error
func (q *TaskQueue) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Import task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("import task panicked: %v", r)
		}
	}()
	return q.handler.Run(ctx, job.Task)
}

func (q *TaskQueue) scheduleRetry(job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.isRunning {
		return
	}
	q.timers[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		q.mu.Unlock()
		if err := q.submit(job); err != nil {
			q.logger.Warn("Failed to re-queue import task for retry",
				zap.String("handle", job.Handle()),
				zap.Error(err),
			)
		}
	})
}
