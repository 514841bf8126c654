// Package scheduler runs ledger syncs in the background: webhook-triggered
// pulls and the periodic full sync of every connected tenant.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/config"
)

// maxRetryDelay caps the exponential retry delay
const maxRetryDelay = 30 * time.Minute

// ---------------------------------------------------------------------------
// SyncJob
// ---------------------------------------------------------------------------

// JobStatus represents the status of a sync job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// SyncJob is one queued sync request. An empty EntityType syncs every type.
type SyncJob struct {
	ID          uuid.UUID
	Request     ledgersync.SyncRequest
	Status      JobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewSyncJob creates a pending job
func NewSyncJob(req ledgersync.SyncRequest, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:          uuid.New(),
		Request:     req,
		Status:      JobStatusPending,
		SubmittedAt: time.Now(),
		MaxRetries:  maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *SyncJob) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job failed with an error worth retrying
func (j *SyncJob) ShouldRetry(err error) bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries && ledgersync.IsTransient(err)
}

// RetryDelay computes baseDelay * 2^retryCount capped at 30 minutes, or the
// delay the error asks for when that is longer.
func (j *SyncJob) RetryDelay(baseDelay time.Duration, err error) time.Duration {
	delay := baseDelay * time.Duration(1<<j.RetryCount)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	if after, ok := ledgersync.RetryAfter(err); ok && after > delay {
		delay = min(after, maxRetryDelay)
	}
	return delay
}

// ScheduleRetry marks the job pending again
func (j *SyncJob) ScheduleRetry(delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	j.Error = ""
}

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncExecutor runs a sync request
type SyncExecutor interface {
	RunRequest(ctx context.Context, req ledgersync.SyncRequest) error
}

// Status summarizes the scheduler for the health endpoint
type Status struct {
	Running       bool  `json:"running"`
	Workers       int   `json:"workers"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	Retrying      int64 `json:"retrying"`
}

// SyncScheduler executes sync jobs on a fixed pool of workers
type SyncScheduler struct {
	config   config.SchedulerConfig
	executor SyncExecutor
	logger   *zap.Logger

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// pending retries, stopped on shutdown
	retryMu sync.Mutex
	retries map[uuid.UUID]*time.Timer

	succeeded atomic.Int64
	failed    atomic.Int64

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*SyncJob
	maxHistory int
}

// NewSyncScheduler validates cfg and creates a scheduler
func NewSyncScheduler(cfg config.SchedulerConfig, executor SyncExecutor, logger *zap.Logger) (*SyncScheduler, error) {
	if cfg.MaxConcurrentJobs <= 0 || cfg.JobTimeout <= 0 || cfg.RetryAttempts < 0 {
		return nil, ErrInvalidConfig
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	return &SyncScheduler{
		config:     cfg,
		executor:   executor,
		logger:     logger,
		jobs:       make(chan *SyncJob, queueSize),
		retries:    make(map[uuid.UUID]*time.Timer),
		history:    make([]*SyncJob, 0, 100),
		maxHistory: 100,
	}, nil
}

// Start starts the worker pool
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Int("queue_size", cap(s.jobs)),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs, drops pending retries and waits for workers
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	s.retryMu.Lock()
	for id, t := range s.retries {
		t.Stop()
		delete(s.retries, id)
	}
	s.retryMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitSync queues a sync request
func (s *SyncScheduler) SubmitSync(_ context.Context, req ledgersync.SyncRequest) error {
	return s.SubmitJob(NewSyncJob(req, s.config.RetryAttempts))
}

// SubmitJob queues a job without blocking
func (s *SyncScheduler) SubmitJob(job *SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("tenant_id", job.Request.TenantID.String()),
			zap.String("entity_type", string(job.Request.EntityType)),
			zap.String("trigger", string(job.Request.Trigger)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	job.Start()
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.Request.TenantID.String()),
		zap.String("entity_type", string(job.Request.EntityType)),
		zap.String("trigger", string(job.Request.Trigger)),
	)
	log.Info("Processing sync job", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.executor.RunRequest(jobCtx, job.Request)
	cancel()

	if err == nil {
		job.Complete()
		s.succeeded.Add(1)
		log.Info("Sync job completed")
		s.addToHistory(job)
		return
	}

	job.Fail(err.Error())
	if ctx.Err() != nil {
		// shutting down; do not retry
		s.failed.Add(1)
		s.addToHistory(job)
		return
	}

	if job.ShouldRetry(err) {
		delay := job.RetryDelay(s.config.RetryDelay, err)
		job.ScheduleRetry(delay)
		log.Warn("Sync job failed, scheduled for retry",
			zap.Error(err),
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("delay", delay),
		)
		s.scheduleRetry(job, delay)
		return
	}

	s.failed.Add(1)
	log.Error("Sync job failed", zap.Error(err))
	s.addToHistory(job)
}

// scheduleRetry re-submits job after delay
func (s *SyncScheduler) scheduleRetry(job *SyncJob, delay time.Duration) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	s.retries[job.ID] = time.AfterFunc(delay, func() {
		s.retryMu.Lock()
		delete(s.retries, job.ID)
		s.retryMu.Unlock()

		if err := s.SubmitJob(job); err != nil {
			job.Fail(err.Error())
			s.failed.Add(1)
			s.addToHistory(job)
			s.logger.Warn("Failed to re-queue sync job for retry",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	})
}

// addToHistory adds a finished job to history
func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*SyncJob{job}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetJobHistory returns recent finished jobs, newest first
func (s *SyncScheduler) GetJobHistory(limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*SyncJob, limit)
	copy(result, s.history[:limit])
	return result
}

// Status reports queue and outcome counters
func (s *SyncScheduler) Status() Status {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	s.retryMu.Lock()
	retrying := int64(len(s.retries))
	s.retryMu.Unlock()

	return Status{
		Running:       running,
		Workers:       s.config.MaxConcurrentJobs,
		QueueDepth:    len(s.jobs),
		QueueCapacity: cap(s.jobs),
		Succeeded:     s.succeeded.Load(),
		Failed:        s.failed.Load(),
		Retrying:      retrying,
	}
}

var _ ledgersync.JobSubmitter = (*SyncScheduler)(nil)
