package scheduler

import "errors"

// Submission and construction errors. Webhook intake treats ErrJobQueueFull
// as back-pressure and drops the event; the next scheduled pull catches up.
var (
	ErrSchedulerNotRunning = errors.New("scheduler: sync scheduler is stopped")
	ErrJobQueueFull        = errors.New("scheduler: sync job queue is full")
	ErrInvalidConfig       = errors.New("scheduler: concurrency and job timeout must be positive")
)
