package ledgersync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

const webhookDedupePrefix = "xero:webhook:"

// WebhookResult summarizes one webhook delivery
type WebhookResult struct {
	Received   int
	Duplicates int
	Unmapped   int
	Queued     int
}

// WebhookService turns ledger change notifications into background pull jobs
type WebhookService struct {
	decoder     ledgersync.WebhookDecoder
	connections ledgersync.ConnectionRepository
	dedupe      shared.IdempotencyStore
	jobs        ledgersync.JobSubmitter
	opts        Options
	logger      *zap.Logger
}

// NewWebhookService creates a WebhookService
func NewWebhookService(decoder ledgersync.WebhookDecoder, connections ledgersync.ConnectionRepository, dedupe shared.IdempotencyStore, jobs ledgersync.JobSubmitter, opts Options, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		decoder:     decoder,
		connections: connections,
		dedupe:      dedupe,
		jobs:        jobs,
		opts:        opts.withDefaults(),
		logger:      logger,
	}
}

// jobKey coalesces the events of one delivery into one job per tenant and entity
type jobKey struct {
	connection *ledgersync.Connection
	entityType ledgersync.EntityType
}

// Handle verifies and processes a delivery. A delivery without events is the
// ledger's intent-to-receive check and only needs a valid signature.
//
// Each event is marked processed when first seen so a redelivery is dropped.
// When the delivery fails, or its job cannot be queued, the marks are removed
// again so the ledger's retry is handled as new.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !s.decoder.Verify(body, signature) {
		return nil, ledgersync.ErrInvalidWebhookSignature
	}
	batch, err := s.decoder.Decode(body)
	if err != nil {
		return nil, err
	}
	res := &WebhookResult{Received: len(batch.Events)}
	if len(batch.Events) == 0 {
		return res, nil
	}

	jobs, err := s.collect(ctx, batch.Events, res)
	if err != nil {
		return nil, err
	}

	for _, j := range jobs {
		req := ledgersync.SyncRequest{
			TenantID:   j.key.connection.TenantID,
			EntityType: j.key.entityType,
			Directions: []ledgersync.Direction{ledgersync.DirectionPull},
			Trigger:    ledgersync.TriggerWebhook,
		}
		if err := s.jobs.SubmitSync(ctx, req); err != nil {
			s.logger.Warn("Failed to queue webhook sync",
				zap.String("tenant_id", req.TenantID.String()),
				zap.String("entity_type", string(req.EntityType)),
				zap.Error(err))
			s.unmark(ctx, j.marks)
			continue
		}
		res.Queued++
	}

	s.logger.Info("Webhook delivery processed",
		zap.Int("received", res.Received),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("unmapped", res.Unmapped),
		zap.Int("queued", res.Queued))
	return res, nil
}

// pendingJob is one coalesced job and the dedupe marks of its events
type pendingJob struct {
	key   jobKey
	marks []string
}

// collect marks fresh events and groups them into jobs in arrival order.
// On error every mark it made is removed.
func (s *WebhookService) collect(ctx context.Context, events []ledgersync.WebhookEvent, res *WebhookResult) (jobs []*pendingJob, err error) {
	var marked []string
	defer func() {
		if err != nil {
			s.unmark(ctx, marked)
		}
	}()

	tenants := make(map[string]*ledgersync.Connection)
	byKey := make(map[jobKey]*pendingJob)
	for _, ev := range events {
		mark := webhookDedupePrefix + ev.DedupKey()
		fresh, markErr := s.dedupe.MarkProcessed(ctx, mark, s.opts.WebhookDedupeTTL)
		if markErr != nil {
			return nil, markErr
		}
		if !fresh {
			res.Duplicates++
			continue
		}
		marked = append(marked, mark)

		conn, ok := tenants[ev.LedgerTenantID]
		if !ok {
			conn, err = s.connections.FindByLedgerTenant(ctx, ev.LedgerTenantID)
			switch {
			case errors.Is(err, ledgersync.ErrConnectionNotFound):
				conn = nil
			case err != nil:
				return nil, err
			}
			if conn != nil && !conn.IsActive() {
				conn = nil
			}
			tenants[ev.LedgerTenantID] = conn
		}
		if conn == nil {
			res.Unmapped++
			s.logger.Debug("Webhook event for unknown ledger tenant",
				zap.String("ledger_tenant_id", ev.LedgerTenantID),
				zap.String("resource_id", ev.ResourceID))
			continue
		}

		key := jobKey{connection: conn, entityType: ev.EventCategory}
		j, ok := byKey[key]
		if !ok {
			j = &pendingJob{key: key}
			byKey[key] = j
			jobs = append(jobs, j)
		}
		j.marks = append(j.marks, mark)
	}
	return jobs, nil
}

// unmark removes dedupe marks. It runs on failure paths, so it ignores
// cancellation of ctx.
func (s *WebhookService) unmark(ctx context.Context, marks []string) {
	ctx = context.WithoutCancel(ctx)
	for _, m := range marks {
		if err := s.dedupe.Unmark(ctx, m); err != nil {
			s.logger.Warn("Failed to clear webhook dedupe mark", zap.String("key", m), zap.Error(err))
		}
	}
}
