package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// ConnectionLister provides the tenants with a live ledger connection
type ConnectionLister interface {
	FindActive(ctx context.Context) ([]ledgersync.Connection, error)
}

// IntervalTrigger submits a full sync for every connected tenant on a fixed interval
type IntervalTrigger struct {
	interval  time.Duration
	submitter ledgersync.JobSubmitter
	lister    ConnectionLister
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewIntervalTrigger creates a trigger; a zero interval leaves it disabled
func NewIntervalTrigger(interval time.Duration, submitter ledgersync.JobSubmitter, lister ConnectionLister, logger *zap.Logger) *IntervalTrigger {
	return &IntervalTrigger{
		interval:  interval,
		submitter: submitter,
		lister:    lister,
		logger:    logger,
	}
}

// Start starts the trigger loop
func (c *IntervalTrigger) Start(ctx context.Context) error {
	if c.interval <= 0 {
		c.logger.Info("Scheduled sync disabled")
		return nil
	}
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Scheduled sync trigger started", zap.Duration("interval", c.interval))
	return nil
}

// Stop stops the trigger loop
func (c *IntervalTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Scheduled sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *IntervalTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.submitAll(ctx)
		}
	}
}

// submitAll queues one full sync per active connection and returns how many were queued
func (c *IntervalTrigger) submitAll(ctx context.Context) int {
	conns, err := c.lister.FindActive(ctx)
	if err != nil {
		c.logger.Error("Failed to list active connections", zap.Error(err))
		return 0
	}

	submitted := 0
	for _, conn := range conns {
		req := ledgersync.SyncRequest{
			TenantID:   conn.TenantID,
			Directions: []ledgersync.Direction{ledgersync.DirectionPull, ledgersync.DirectionPush},
			Trigger:    ledgersync.TriggerScheduled,
		}
		if err := c.submitter.SubmitSync(ctx, req); err != nil {
			c.logger.Warn("Failed to submit scheduled sync",
				zap.String("tenant_id", conn.TenantID.String()),
				zap.Error(err),
			)
			continue
		}
		submitted++
	}
	c.logger.Debug("Scheduled syncs submitted", zap.Int("count", submitted), zap.Int("connections", len(conns)))
	return submitted
}
