package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

// SyncMetrics records the sync engine's business metrics. It subscribes to
// the engine's domain events and also observes Xero API calls directly.
type SyncMetrics struct {
	runs              *Counter
	records           *Counter
	conflictsDetected *Counter
	conflictsResolved *Counter
	connectionsLost   *Counter
	apiRequests       *Counter
	tokenRefreshes    *Counter
	runDuration       *Histogram
}

// NewSyncMetrics creates the instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error
	if m.runs, err = NewCounter(meter, "ledgersync_runs_total", "Sync runs by entity, direction and status", "{run}"); err != nil {
		return nil, err
	}
	if m.records, err = NewCounter(meter, "ledgersync_records_total", "Records handled by sync runs by outcome", "{record}"); err != nil {
		return nil, err
	}
	if m.conflictsDetected, err = NewCounter(meter, "ledgersync_conflicts_detected_total", "Field conflicts opened", "{conflict}"); err != nil {
		return nil, err
	}
	if m.conflictsResolved, err = NewCounter(meter, "ledgersync_conflicts_resolved_total", "Field conflicts resolved or ignored", "{conflict}"); err != nil {
		return nil, err
	}
	if m.connectionsLost, err = NewCounter(meter, "ledgersync_connections_expired_total", "Connections whose grant was rejected", "{connection}"); err != nil {
		return nil, err
	}
	if m.apiRequests, err = NewCounter(meter, "xero_api_requests_total", "Xero API requests by method and status class", "{request}"); err != nil {
		return nil, err
	}
	if m.tokenRefreshes, err = NewCounter(meter, "xero_token_refreshes_total", "OAuth token refreshes by outcome", "{refresh}"); err != nil {
		return nil, err
	}
	m.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "ledgersync_run_duration_seconds",
		Description: "Sync run wall time",
		Unit:        "s",
		Buckets:     SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRun records a finished run's status, record counts and duration
func (m *SyncMetrics) RecordRun(ctx context.Context, run *ledgersync.SyncRun) {
	base := []attribute.KeyValue{
		AttrEntityType.String(string(run.EntityType)),
		AttrDirection.String(string(run.Direction)),
	}
	m.runs.Inc(ctx, append(base, AttrStatus.String(string(run.Status)), AttrTrigger.String(string(run.Trigger)))...)
	for outcome, n := range map[string]int{
		"created":  run.Created,
		"updated":  run.Updated,
		"skipped":  run.Skipped,
		"conflict": run.Conflicts,
		"failed":   run.Failed,
	} {
		if n > 0 {
			m.records.Add(ctx, int64(n), append(base, AttrOutcome.String(outcome))...)
		}
	}
	m.runDuration.RecordDuration(ctx, run.Duration(), base...)
}

// RecordAPIRequest counts one Xero HTTP exchange
func (m *SyncMetrics) RecordAPIRequest(ctx context.Context, method string, status int) {
	m.apiRequests.Inc(ctx, AttrHTTPMethod.String(method), AttrStatus.String(statusClass(status)))
}

// RecordTokenRefresh counts a token refresh with its outcome (ok, rejected, error)
func (m *SyncMetrics) RecordTokenRefresh(ctx context.Context, outcome string) {
	m.tokenRefreshes.Inc(ctx, AttrOutcome.String(outcome))
}

// EventTypes implements shared.EventHandler
func (m *SyncMetrics) EventTypes() []string {
	return []string{
		ledgersync.EventTypeSyncRunCompleted,
		ledgersync.EventTypeConflictDetected,
		ledgersync.EventTypeConflictResolved,
		ledgersync.EventTypeConnectionExpired,
	}
}

// Handle implements shared.EventHandler
func (m *SyncMetrics) Handle(ctx context.Context, ev shared.DomainEvent) error {
	switch e := ev.(type) {
	case *ledgersync.SyncRunCompletedEvent:
		if !e.Run.DryRun {
			m.RecordRun(ctx, &e.Run)
		}
	case *ledgersync.ConflictDetectedEvent:
		m.conflictsDetected.Inc(ctx, AttrEntityType.String(string(e.EntityType)))
	case *ledgersync.ConflictResolvedEvent:
		m.conflictsResolved.Inc(ctx,
			AttrEntityType.String(string(e.EntityType)),
			AttrStatus.String(string(e.Status)),
		)
	case *ledgersync.ConnectionEvent:
		m.connectionsLost.Inc(ctx)
	}
	return nil
}

// statusClass buckets an HTTP status as 2xx, 4xx, 429, 5xx or error
func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status == 429:
		return "429"
	default:
		return strconv.Itoa(status/100) + "xx"
	}
}

var _ shared.EventHandler = (*SyncMetrics)(nil)
