// Package ledgersync orchestrates synchronization between local accounting
// records and the external ledger: OAuth connections, pull and push runs,
// dry-run reconciliation, conflict resolution and webhook intake.
package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

const tracerName = "github.com/buildops/backend/internal/application/ledgersync"

// cacheInvalidator is implemented by ledger clients that cache responses
type cacheInvalidator interface {
	Invalidate(ctx context.Context, ledgerTenantID string, t ledgersync.EntityType)
}

// SyncService runs pull, push and dry-run synchronization for a tenant
type SyncService struct {
	tx        TransactionScope
	contacts  accounting.ContactRepository
	invoices  accounting.InvoiceRepository
	payments  accounting.PaymentRepository
	conflicts ledgersync.ConflictRepository
	runs      ledgersync.SyncRunRepository
	cursors   ledgersync.SyncCursorRepository
	client    ledgersync.LedgerClient
	tokens    TokenProvider
	throttle  ledgersync.Throttle
	locker    ledgersync.SyncLocker
	archive   ledgersync.ReportArchive
	publisher shared.EventPublisher
	opts      Options
	logger    *zap.Logger
	tracer    trace.Tracer
}

// SyncServiceDeps groups the collaborators of SyncService
type SyncServiceDeps struct {
	TxScope   TransactionScope
	Contacts  accounting.ContactRepository
	Invoices  accounting.InvoiceRepository
	Payments  accounting.PaymentRepository
	Conflicts ledgersync.ConflictRepository
	Runs      ledgersync.SyncRunRepository
	Cursors   ledgersync.SyncCursorRepository
	Client    ledgersync.LedgerClient
	Tokens    TokenProvider
	Throttle  ledgersync.Throttle
	Locker    ledgersync.SyncLocker
	// Archive is optional; without it dry-run reports are not archived
	Archive   ledgersync.ReportArchive
	Publisher shared.EventPublisher
}

// NewSyncService creates a SyncService
func NewSyncService(deps SyncServiceDeps, opts Options, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		tx:        deps.TxScope,
		contacts:  deps.Contacts,
		invoices:  deps.Invoices,
		payments:  deps.Payments,
		conflicts: deps.Conflicts,
		runs:      deps.Runs,
		cursors:   deps.Cursors,
		client:    deps.Client,
		tokens:    deps.Tokens,
		throttle:  deps.Throttle,
		locker:    deps.Locker,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		opts:      opts.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Rules returns the effective ownership rules
func (s *SyncService) Rules() *ledgersync.OwnershipRules {
	return s.opts.Rules
}

// step is one entity type synced in one direction
type step struct {
	entityType ledgersync.EntityType
	direction  ledgersync.Direction
}

func throttleKey(tenantID uuid.UUID, st step) string {
	return tenantID.String() + ":" + string(st.entityType) + ":" + string(st.direction)
}

func lockKey(tenantID uuid.UUID) string {
	return "ledgersync:" + tenantID.String()
}

// Sync runs one entity type in the requested directions, pull before push.
// Record and run failures are reported on the returned runs.
func (s *SyncService) Sync(ctx context.Context, req ledgersync.SyncRequest) ([]*ledgersync.SyncRun, error) {
	b, err := s.sync(ctx, req)
	return b.runs, err
}

// SyncAll syncs contacts, then invoices, then payments, each pulled then
// pushed. Throttled steps are skipped; a failed step does not stop later ones.
func (s *SyncService) SyncAll(ctx context.Context, tenantID uuid.UUID, trigger ledgersync.Trigger, force bool) ([]*ledgersync.SyncRun, error) {
	b, err := s.syncAll(ctx, tenantID, trigger, force)
	return b.runs, err
}

// RunRequest executes a queued request. An empty entity type means all entities.
// Run-level errors are returned so the scheduler can retry transient ones.
func (s *SyncService) RunRequest(ctx context.Context, req ledgersync.SyncRequest) error {
	var (
		b   batch
		err error
	)
	if req.EntityType == "" {
		b, err = s.syncAll(ctx, req.TenantID, req.Trigger, req.Force)
	} else {
		b, err = s.sync(ctx, req)
	}
	if err != nil {
		return err
	}
	return b.runErr
}

func (s *SyncService) sync(ctx context.Context, req ledgersync.SyncRequest) (batch, error) {
	if !req.EntityType.IsValid() {
		return batch{}, ledgersync.ErrInvalidEntityType
	}
	if !req.Trigger.IsValid() {
		return batch{}, ledgersync.ErrInvalidTrigger
	}
	dirs := req.Directions
	if len(dirs) == 0 {
		dirs = []ledgersync.Direction{ledgersync.DirectionPull, ledgersync.DirectionPush}
	}
	var steps []step
	for _, d := range orderDirections(dirs) {
		if !d.IsValid() {
			return batch{}, ledgersync.ErrInvalidDirection
		}
		steps = append(steps, step{entityType: req.EntityType, direction: d})
	}
	if !req.Force {
		for _, st := range steps {
			if err := s.throttle.Allow(throttleKey(req.TenantID, st)); err != nil {
				return batch{}, err
			}
		}
	}
	return s.execute(ctx, req.TenantID, steps, req.Trigger, req.Force)
}

func (s *SyncService) syncAll(ctx context.Context, tenantID uuid.UUID, trigger ledgersync.Trigger, force bool) (batch, error) {
	if !trigger.IsValid() {
		return batch{}, ledgersync.ErrInvalidTrigger
	}
	var (
		steps       []step
		throttleErr error
	)
	for _, t := range ledgersync.AllEntityTypes() {
		for _, d := range []ledgersync.Direction{ledgersync.DirectionPull, ledgersync.DirectionPush} {
			st := step{entityType: t, direction: d}
			if !force {
				if err := s.throttle.Allow(throttleKey(tenantID, st)); err != nil {
					throttleErr = err
					continue
				}
			}
			steps = append(steps, st)
		}
	}
	if len(steps) == 0 {
		return batch{}, throttleErr
	}
	return s.execute(ctx, tenantID, steps, trigger, force)
}

// batch is the outcome of executed steps
type batch struct {
	runs []*ledgersync.SyncRun
	// runErr joins the run-level errors of the runs
	runErr error
}

// execute runs the steps under the tenant's lock. The error is set when the
// steps could not start or a run could not be recorded. The throttle interval
// starts only once the lock and a token are held, so a request refused for
// either reason can be retried straight away.
func (s *SyncService) execute(ctx context.Context, tenantID uuid.UUID, steps []step, trigger ledgersync.Trigger, force bool) (batch, error) {
	release, err := s.lock(ctx, tenantID)
	if err != nil {
		return batch{}, err
	}
	defer release()

	lt, err := s.tokens.AccessToken(ctx, tenantID)
	if err != nil {
		return batch{}, err
	}
	for _, st := range steps {
		s.throttle.Record(throttleKey(tenantID, st))
	}

	if force || trigger == ledgersync.TriggerWebhook {
		if inv, ok := s.client.(cacheInvalidator); ok {
			for _, st := range steps {
				inv.Invalidate(ctx, lt.TenantID, st.entityType)
			}
		}
	}

	var (
		runs    = make([]*ledgersync.SyncRun, 0, len(steps))
		runErrs []error
	)
	for _, st := range steps {
		run, runErr := s.runStep(ctx, tenantID, lt, st, trigger)
		runs = append(runs, run)
		if runErr != nil {
			runErrs = append(runErrs, runErr)
			if errors.Is(runErr, ledgersync.ErrReconnectRequired) || errors.Is(runErr, ledgersync.ErrLedgerAuthFailed) {
				break
			}
		}
	}
	return batch{runs: runs, runErr: errors.Join(runErrs...)}, nil
}

// lock takes the tenant's sync lock. The release survives cancellation of ctx.
func (s *SyncService) lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	release, err := s.locker.Acquire(ctx, lockKey(tenantID), s.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release sync lock", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		}
	}, nil
}

// PushRecord pushes a single record right away and records it as a manual
// push run. The returned error is the record's push failure, if any.
func (s *SyncService) PushRecord(ctx context.Context, tenantID uuid.UUID, t ledgersync.EntityType, id uuid.UUID) (*ledgersync.SyncRun, error) {
	if !t.IsValid() {
		return nil, ledgersync.ErrInvalidEntityType
	}
	release, err := s.lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	lt, err := s.tokens.AccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "ledgersync.push_record",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("ledgersync.entity_type", string(t)),
			attribute.String("ledgersync.record_id", id.String()),
		))
	defer span.End()

	run, _ := ledgersync.NewSyncRun(tenantID, t, ledgersync.DirectionPush, ledgersync.TriggerManual, false)
	rc := newRunContext(tenantID, lt, run)
	pushErr := s.inTx(ctx, rc, func(repos Repositories) error {
		return s.pushByID(ctx, rc, repos, id)
	})
	if pushErr != nil {
		span.RecordError(pushErr)
		s.recordFailure(rc, id.String(), "", pushErr)
		if !isFatal(pushErr) {
			s.markError(ctx, rc, id, pushErr)
		}
	}
	_ = run.Finish(nil)
	s.logRun(run, nil)

	if err := s.runs.Save(ctx, run); err != nil {
		s.logger.Error("Failed to save sync run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	rc.collect(ledgersync.NewSyncRunCompletedEvent(run))
	s.flush(ctx, rc)
	return run, pushErr
}

// recordState reads the current sync state of a local record
func (s *SyncService) recordState(ctx context.Context, tenantID uuid.UUID, t ledgersync.EntityType, id uuid.UUID) (ledgersync.SyncState, error) {
	switch t {
	case ledgersync.EntityTypeContact:
		c, err := s.contacts.FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return "", err
		}
		return c.Sync.State, nil
	case ledgersync.EntityTypeInvoice:
		inv, err := s.invoices.FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return "", err
		}
		return inv.Sync.State, nil
	case ledgersync.EntityTypePayment:
		p, err := s.payments.FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return "", err
		}
		return p.Sync.State, nil
	default:
		return "", ledgersync.ErrInvalidEntityType
	}
}

// runStep executes and records one run and returns the run-level error.
// Failing to persist the run is logged and joined into that error.
func (s *SyncService) runStep(ctx context.Context, tenantID uuid.UUID, lt ledgersync.LedgerTenant, st step, trigger ledgersync.Trigger) (*ledgersync.SyncRun, error) {
	ctx, span := s.tracer.Start(ctx, "ledgersync."+strings.ToLower(string(st.direction))+" "+strings.ToLower(string(st.entityType)),
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("ledgersync.entity_type", string(st.entityType)),
			attribute.String("ledgersync.direction", string(st.direction)),
			attribute.String("ledgersync.trigger", string(trigger)),
		))
	defer span.End()

	// Steps are validated by the callers, so the run is always well formed.
	run, _ := ledgersync.NewSyncRun(tenantID, st.entityType, st.direction, trigger, false)
	rc := newRunContext(tenantID, lt, run)
	var runErr error
	switch st.direction {
	case ledgersync.DirectionPull:
		runErr = s.pull(ctx, rc)
	default:
		runErr = s.push(ctx, rc)
	}
	_ = run.Finish(runErr)

	span.SetAttributes(
		attribute.String("ledgersync.status", string(run.Status)),
		attribute.Int("ledgersync.failed", run.Failed),
		attribute.Int("ledgersync.conflicts", run.Conflicts),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	s.logRun(run, runErr)

	if err := s.runs.Save(ctx, run); err != nil {
		s.logger.Error("Failed to save sync run", zap.String("run_id", run.ID.String()), zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("save sync run: %w", err))
	}
	rc.collect(ledgersync.NewSyncRunCompletedEvent(run))
	s.flush(ctx, rc)
	return run, runErr
}

func (s *SyncService) logRun(run *ledgersync.SyncRun, runErr error) {
	fields := []zap.Field{
		zap.String("tenant_id", run.TenantID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("entity_type", string(run.EntityType)),
		zap.String("direction", string(run.Direction)),
		zap.String("trigger", string(run.Trigger)),
		zap.String("status", string(run.Status)),
		zap.Int("created", run.Created),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("conflicts", run.Conflicts),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", run.Duration()),
	}
	switch {
	case runErr != nil:
		s.logger.Error("Sync run failed", append(fields, zap.Error(runErr))...)
	case run.Failed > 0:
		s.logger.Warn("Sync run finished with failures", fields...)
	default:
		s.logger.Info("Sync run finished", fields...)
	}
}

// flush publishes the events collected during a run
func (s *SyncService) flush(ctx context.Context, rc *runContext) {
	events := *rc.events
	*rc.events = nil
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish sync events", zap.Int("count", len(events)), zap.Error(err))
	}
}

// ListRuns returns a page of the tenant's runs, newest first
func (s *SyncService) ListRuns(ctx context.Context, tenantID uuid.UUID, filter SyncRunListFilter) (*shared.Paginated[SyncRunResponse], error) {
	f := shared.Filter{Page: filter.Page, PageSize: filter.PageSize}
	f.Normalize(100)
	df := ledgersync.SyncRunFilter{Page: f.Page, PageSize: f.PageSize, Status: ledgersync.RunStatus(filter.Status)}
	if filter.EntityType != "" {
		t, err := ledgersync.ParseEntityType(filter.EntityType)
		if err != nil {
			return nil, err
		}
		df.EntityType = t
	}
	if filter.Direction != "" {
		dirs, err := ledgersync.ParseDirections(filter.Direction)
		if err != nil {
			return nil, err
		}
		if len(dirs) == 1 {
			df.Direction = dirs[0]
		}
	}

	runs, total, err := s.runs.List(ctx, tenantID, df)
	if err != nil {
		return nil, err
	}
	items := make([]SyncRunResponse, len(runs))
	for i := range runs {
		items[i] = ToSyncRunResponse(&runs[i])
	}
	page := shared.NewPaginated(items, total, f.Page, f.PageSize)
	return &page, nil
}

// GetRun returns one run of the tenant
func (s *SyncService) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*SyncRunResponse, error) {
	run, err := s.runs.FindByID(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	resp := ToSyncRunResponse(run)
	return &resp, nil
}

func orderDirections(dirs []ledgersync.Direction) []ledgersync.Direction {
	var pull, push bool
	var out []ledgersync.Direction
	for _, d := range dirs {
		switch d {
		case ledgersync.DirectionPull:
			pull = true
		case ledgersync.DirectionPush:
			push = true
		default:
			out = append(out, d)
		}
	}
	if pull {
		out = append([]ledgersync.Direction{ledgersync.DirectionPull}, out...)
	}
	if push {
		out = append(out, ledgersync.DirectionPush)
	}
	return out
}
