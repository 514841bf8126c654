package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

// runContext carries the state of one run across records
type runContext struct {
	tenantID uuid.UUID
	ledger   ledgersync.LedgerTenant
	run      *ledgersync.SyncRun
	events   *[]shared.DomainEvent
	// remote listings loaded on demand to dedupe unlinked records before a create
	remote map[ledgersync.EntityType]*remoteIndex
}

func newRunContext(tenantID uuid.UUID, lt ledgersync.LedgerTenant, run *ledgersync.SyncRun) *runContext {
	return &runContext{
		tenantID: tenantID,
		ledger:   lt,
		run:      run,
		events:   &[]shared.DomainEvent{},
		remote:   map[ledgersync.EntityType]*remoteIndex{},
	}
}

// dependency returns a context for work done on behalf of another record.
// It shares events and remote listings but counts into a scratch run.
func (rc *runContext) dependency() *runContext {
	d := *rc
	d.run = &ledgersync.SyncRun{}
	return &d
}

func (rc *runContext) collect(events ...shared.DomainEvent) {
	*rc.events = append(*rc.events, events...)
}

// writeContext tags ctx with the local change a ledger write carries. The
// version moves on every local edit, so a retry of an unchanged record reuses
// the key and an edited record gets a new one.
func writeContext(ctx context.Context, t ledgersync.EntityType, id uuid.UUID, version int) context.Context {
	return ledgersync.WithWriteKey(ctx, fmt.Sprintf("%s:%s:%d", t, id, version))
}

// localRecord adapts a local aggregate to the generic reconcile step
type localRecord struct {
	entityType ledgersync.EntityType
	id         uuid.UUID
	label      string
	info       *ledgersync.SyncInfo
	fields     ledgersync.FieldSet
	set        func(ctx context.Context, field, value string) error
	// push sends the named fields to the ledger; nil when the entity cannot be updated remotely
	push func(ctx context.Context, fields []string) (ledgersync.RemoteRecord, error)
	save func(ctx context.Context) error
	// transitions lists remote-owned fields whose local lifecycle steps are pushed
	transitions map[string]func(from, to string) bool
}

// inTx runs fn in a transaction. Events collected by a rolled back unit are dropped.
func (s *SyncService) inTx(ctx context.Context, rc *runContext, fn func(repos Repositories) error) error {
	mark := len(*rc.events)
	err := s.tx.Execute(ctx, fn)
	if err != nil {
		*rc.events = (*rc.events)[:mark]
	}
	return err
}

// reconcile diffs a linked record against its ledger copy and applies the
// plan: remote values are taken, conflicts opened, and on a push the local
// fields are sent. The base advances to what both sides now agree on.
func (s *SyncService) reconcile(ctx context.Context, rc *runContext, repos Repositories, rec *localRecord, remote ledgersync.RemoteRecord, dir ledgersync.Direction) error {
	plan := ledgersync.Diff(rec.entityType, s.opts.Rules, rec.info.Base, rec.fields, remote.Fields(), rec.info.Suppressed, dir)
	plan.LocalID = rec.id
	plan.ExternalID = remote.GetExternalID()
	plan.Label = rec.label
	for field, allowed := range rec.transitions {
		plan.AllowLocalTransition(field, allowed)
	}

	taken := plan.FieldsWith(ledgersync.FieldTakeRemote)
	for _, d := range plan.Decisions {
		if d.Action != ledgersync.FieldTakeRemote {
			continue
		}
		if err := rec.set(ctx, d.Field, d.Remote); err != nil {
			return fmt.Errorf("apply %s: %w", d.Field, err)
		}
	}

	conflicts, err := s.syncConflicts(ctx, rc, repos, rec, plan)
	if err != nil {
		return err
	}

	remoteUpdated := remote.GetUpdatedAt()
	pushFields := plan.FieldsWith(ledgersync.FieldPushLocal)
	pushed := false
	if dir == ledgersync.DirectionPush && len(pushFields) > 0 && rec.push != nil {
		updated, err := rec.push(ctx, pushFields)
		if err != nil {
			return err
		}
		pushed = true
		if t := updated.GetUpdatedAt(); !t.IsZero() {
			remoteUpdated = t
		}
	}
	pending := len(pushFields) > 0 && !pushed && rec.push != nil

	rec.info.Apply(plan.NextBase(pushed), remoteUpdated, conflicts > 0, pending)
	if err := rec.save(ctx); err != nil {
		return err
	}

	switch {
	case pushed || len(taken) > 0:
		rc.run.RecordUpdated()
	case conflicts == 0:
		rc.run.RecordSkipped()
	}
	rc.run.RecordConflicts(conflicts)
	return nil
}

// syncConflicts opens or refreshes a conflict per conflicting field and closes
// open conflicts whose field has converged. It returns the conflicting field count.
func (s *SyncService) syncConflicts(ctx context.Context, rc *runContext, repos Repositories, rec *localRecord, plan *ledgersync.RecordPlan) (int, error) {
	open, err := repos.Conflicts().FindOpenByEntity(ctx, rc.tenantID, rec.entityType, rec.id)
	if err != nil {
		return 0, err
	}
	byField := make(map[string]*ledgersync.Conflict, len(open))
	for i := range open {
		byField[open[i].Field] = &open[i]
	}

	n := 0
	for _, d := range plan.Decisions {
		existing := byField[d.Field]
		switch {
		case d.Action == ledgersync.FieldConflict && existing != nil:
			n++
			existing.Redetect(d)
			if err := repos.Conflicts().Save(ctx, existing); err != nil {
				return 0, err
			}
		case d.Action == ledgersync.FieldConflict:
			n++
			c, err := ledgersync.NewConflict(rc.tenantID, rec.entityType, rec.id, plan.ExternalID, rec.label, d)
			if err != nil {
				return 0, err
			}
			if err := repos.Conflicts().Save(ctx, c); err != nil {
				return 0, err
			}
			rc.collect(ledgersync.NewConflictDetectedEvent(c))
		case existing != nil && d.Action != ledgersync.FieldSuppressed:
			// Converged on its own or an ownership change decided it.
			resolution := ledgersync.ResolutionKeepRemote
			if d.Action == ledgersync.FieldPushLocal {
				resolution = ledgersync.ResolutionKeepLocal
			}
			if err := existing.Resolve(resolution, "", uuid.Nil); err != nil {
				return 0, err
			}
			if err := repos.Conflicts().Save(ctx, existing); err != nil {
				return 0, err
			}
			rc.collect(ledgersync.NewConflictResolvedEvent(existing))
		}
	}
	return n, nil
}

// recordFailure adds a failed item to the run and logs it
func (s *SyncService) recordFailure(rc *runContext, itemID, label string, err error) {
	rc.run.RecordFailure(itemID, label, err)
	s.logger.Warn("Sync item failed",
		zap.String("tenant_id", rc.tenantID.String()),
		zap.String("entity_type", string(rc.run.EntityType)),
		zap.String("direction", string(rc.run.Direction)),
		zap.String("item_id", itemID),
		zap.String("label", label),
		zap.String("error_code", ledgersync.ErrorCode(err)),
		zap.Error(err))
}

// isFatal reports errors that make the rest of a run pointless
func isFatal(err error) bool {
	return errors.Is(err, ledgersync.ErrLedgerAuthFailed) ||
		errors.Is(err, ledgersync.ErrReconnectRequired) ||
		errors.Is(err, ledgersync.ErrLedgerRateLimited) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Pull
// ---------------------------------------------------------------------------

// pull pages through remote records modified since the cursor and applies
// each one locally. The cursor only advances when no record failed.
func (s *SyncService) pull(ctx context.Context, rc *runContext) error {
	t := rc.run.EntityType
	cursor, err := s.cursors.Get(ctx, rc.tenantID, t)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	var seen time.Time
	q := ledgersync.ListQuery{ModifiedSince: cursor.ModifiedSince}
	for page := 1; page <= s.opts.MaxPages; page++ {
		q.Page = page
		records, more, err := s.listPage(ctx, rc, t, q)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := s.inTx(ctx, rc, func(repos Repositories) error {
				return s.pullRecord(ctx, rc, repos, r)
			}); err != nil {
				if isFatal(err) {
					return err
				}
				s.recordFailure(rc, r.GetExternalID(), r.Label(), err)
				continue
			}
			if u := r.GetUpdatedAt(); u.After(seen) {
				seen = u
			}
		}
		if !more {
			break
		}
	}

	if rc.run.Failed == 0 && cursor.Advance(seen) {
		if err := s.cursors.Save(ctx, cursor); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

func (s *SyncService) listPage(ctx context.Context, rc *runContext, t ledgersync.EntityType, q ledgersync.ListQuery) ([]ledgersync.RemoteRecord, bool, error) {
	switch t {
	case ledgersync.EntityTypeContact:
		p, err := s.client.ListContacts(ctx, rc.ledger, q)
		if err != nil {
			return nil, false, err
		}
		return toRecords(p.Items), p.HasMore, nil
	case ledgersync.EntityTypeInvoice:
		p, err := s.client.ListInvoices(ctx, rc.ledger, q)
		if err != nil {
			return nil, false, err
		}
		return toRecords(p.Items), p.HasMore, nil
	case ledgersync.EntityTypePayment:
		p, err := s.client.ListPayments(ctx, rc.ledger, q)
		if err != nil {
			return nil, false, err
		}
		return toRecords(p.Items), p.HasMore, nil
	default:
		return nil, false, ledgersync.ErrInvalidEntityType
	}
}

func (s *SyncService) pullRecord(ctx context.Context, rc *runContext, repos Repositories, r ledgersync.RemoteRecord) error {
	switch rec := r.(type) {
	case *ledgersync.RemoteContact:
		_, err := s.pullContact(ctx, rc, repos, rec)
		return err
	case *ledgersync.RemoteInvoice:
		return s.pullInvoice(ctx, rc, repos, rec)
	case *ledgersync.RemotePayment:
		return s.pullPayment(ctx, rc, repos, rec)
	default:
		return ledgersync.ErrInvalidEntityType
	}
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

// push sends local records that were never synced or changed since
func (s *SyncService) push(ctx context.Context, rc *runContext) error {
	ids, err := s.pendingIDs(ctx, rc)
	if err != nil {
		return err
	}
	for _, p := range ids {
		if err := s.inTx(ctx, rc, func(repos Repositories) error {
			return s.pushByID(ctx, rc, repos, p.id)
		}); err != nil {
			if isFatal(err) {
				return err
			}
			s.recordFailure(rc, p.id.String(), p.label, err)
			s.markError(ctx, rc, p.id, err)
		}
	}
	return nil
}

type pendingRecord struct {
	id    uuid.UUID
	label string
}

func (s *SyncService) pendingIDs(ctx context.Context, rc *runContext) ([]pendingRecord, error) {
	var out []pendingRecord
	switch rc.run.EntityType {
	case ledgersync.EntityTypeContact:
		items, err := s.contacts.FindPendingPush(ctx, rc.tenantID, s.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, pendingRecord{items[i].ID, items[i].Label()})
		}
	case ledgersync.EntityTypeInvoice:
		items, err := s.invoices.FindPendingPush(ctx, rc.tenantID, s.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, pendingRecord{items[i].ID, items[i].Label()})
		}
	case ledgersync.EntityTypePayment:
		items, err := s.payments.FindPendingPush(ctx, rc.tenantID, s.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, pendingRecord{items[i].ID, items[i].Label()})
		}
	default:
		return nil, ledgersync.ErrInvalidEntityType
	}
	return out, nil
}

// pushByID reloads the record inside the transaction and pushes it
func (s *SyncService) pushByID(ctx context.Context, rc *runContext, repos Repositories, id uuid.UUID) error {
	switch rc.run.EntityType {
	case ledgersync.EntityTypeContact:
		c, err := repos.Contacts().FindByIDForTenant(ctx, rc.tenantID, id)
		if err != nil {
			return err
		}
		return s.pushContact(ctx, rc, repos, c)
	case ledgersync.EntityTypeInvoice:
		inv, err := repos.Invoices().FindByIDForTenant(ctx, rc.tenantID, id)
		if err != nil {
			return err
		}
		return s.pushInvoice(ctx, rc, repos, inv)
	case ledgersync.EntityTypePayment:
		p, err := repos.Payments().FindByIDForTenant(ctx, rc.tenantID, id)
		if err != nil {
			return err
		}
		return s.pushPayment(ctx, rc, repos, p)
	default:
		return ledgersync.ErrInvalidEntityType
	}
}

// markError flags a record whose push failed so it is retried and visible
func (s *SyncService) markError(ctx context.Context, rc *runContext, id uuid.UUID, cause error) {
	msg := ledgersync.ErrorCode(cause) + ": " + cause.Error()
	var err error
	switch rc.run.EntityType {
	case ledgersync.EntityTypeContact:
		var c, findErr = s.contacts.FindByIDForTenant(ctx, rc.tenantID, id)
		if err = findErr; err == nil {
			c.Sync.MarkError(msg)
			err = s.contacts.Save(ctx, c)
		}
	case ledgersync.EntityTypeInvoice:
		var inv, findErr = s.invoices.FindByIDForTenant(ctx, rc.tenantID, id)
		if err = findErr; err == nil {
			inv.Sync.MarkError(msg)
			err = s.invoices.Save(ctx, inv)
		}
	case ledgersync.EntityTypePayment:
		var p, findErr = s.payments.FindByIDForTenant(ctx, rc.tenantID, id)
		if err = findErr; err == nil {
			p.Sync.MarkError(msg)
			err = s.payments.Save(ctx, p)
		}
	}
	if err != nil {
		s.logger.Warn("Failed to mark record sync error", zap.String("record_id", id.String()), zap.Error(err))
	}
}

// remoteIndexFor lists every remote record of t once per run
func (s *SyncService) remoteIndexFor(ctx context.Context, rc *runContext, t ledgersync.EntityType) (*remoteIndex, error) {
	if ix, ok := rc.remote[t]; ok {
		return ix, nil
	}
	records, err := s.listRemote(ctx, rc.ledger, t)
	if err != nil {
		return nil, err
	}
	ix := newRemoteIndex(records)
	rc.remote[t] = ix
	return ix, nil
}

func (s *SyncService) listRemote(ctx context.Context, lt ledgersync.LedgerTenant, t ledgersync.EntityType) ([]ledgersync.RemoteRecord, error) {
	var q ledgersync.ListQuery
	switch t {
	case ledgersync.EntityTypeContact:
		items, err := listAll(ctx, s.opts.MaxPages, q, func(ctx context.Context, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteContact], error) {
			return s.client.ListContacts(ctx, lt, q)
		})
		return toRecords(items), err
	case ledgersync.EntityTypeInvoice:
		items, err := listAll(ctx, s.opts.MaxPages, q, func(ctx context.Context, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteInvoice], error) {
			return s.client.ListInvoices(ctx, lt, q)
		})
		return toRecords(items), err
	case ledgersync.EntityTypePayment:
		items, err := listAll(ctx, s.opts.MaxPages, q, func(ctx context.Context, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemotePayment], error) {
			return s.client.ListPayments(ctx, lt, q)
		})
		return toRecords(items), err
	default:
		return nil, ledgersync.ErrInvalidEntityType
	}
}

// remoteMatch finds an unlinked remote record for keys. A remote record that
// some local record already links to is never returned.
func (s *SyncService) remoteMatch(ctx context.Context, rc *runContext, t ledgersync.EntityType, keys []string, linked func(externalID string) (bool, error)) (ledgersync.RemoteRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ix, err := s.remoteIndexFor(ctx, rc, t)
	if err != nil {
		return nil, err
	}
	for {
		r := ix.match(keys)
		if r == nil {
			return nil, nil
		}
		ix.claim(r.GetExternalID())
		taken, err := linked(r.GetExternalID())
		if err != nil {
			return nil, err
		}
		if !taken {
			return r, nil
		}
	}
}
