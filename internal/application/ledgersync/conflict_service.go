package ledgersync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

// ConflictService lists and settles conflicts between local and ledger values
type ConflictService struct {
	tx        TransactionScope
	conflicts ledgersync.ConflictRepository
	sync      *SyncService
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewConflictService creates a ConflictService. sync supplies the record
// adapters and the single-record push used after a resolution.
func NewConflictService(tx TransactionScope, conflicts ledgersync.ConflictRepository, sync *SyncService, publisher shared.EventPublisher, logger *zap.Logger) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{
		tx:        tx,
		conflicts: conflicts,
		sync:      sync,
		publisher: publisher,
		logger:    logger,
	}
}

// OwnershipRules returns the effective field ownership table
func (s *ConflictService) OwnershipRules() []ledgersync.FieldOwnership {
	return s.sync.Rules().Table()
}

// List returns a page of the tenant's conflicts, newest first
func (s *ConflictService) List(ctx context.Context, tenantID uuid.UUID, filter ConflictListFilter) (*shared.Paginated[ConflictResponse], error) {
	f := shared.Filter{Page: filter.Page, PageSize: filter.PageSize}
	f.Normalize(100)
	df := ledgersync.ConflictFilter{Page: f.Page, PageSize: f.PageSize, EntityID: filter.EntityID}
	if filter.Status != "" {
		status := ledgersync.ConflictStatus(strings.ToUpper(filter.Status))
		if !status.IsValid() {
			return nil, shared.NewDomainError("INVALID_STATUS", "Invalid conflict status: "+filter.Status)
		}
		df.Status = status
	}
	if filter.EntityType != "" {
		t, err := ledgersync.ParseEntityType(filter.EntityType)
		if err != nil {
			return nil, err
		}
		df.EntityType = t
	}

	conflicts, total, err := s.conflicts.List(ctx, tenantID, df)
	if err != nil {
		return nil, err
	}
	items := make([]ConflictResponse, len(conflicts))
	for i := range conflicts {
		items[i] = ToConflictResponse(&conflicts[i])
	}
	page := shared.NewPaginated(items, total, f.Page, f.PageSize)
	return &page, nil
}

// Get returns one conflict of the tenant
func (s *ConflictService) Get(ctx context.Context, tenantID, id uuid.UUID) (*ConflictResponse, error) {
	c, err := s.conflicts.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	resp := ToConflictResponse(c)
	return &resp, nil
}

// Resolve settles one conflict and, with PushNow, pushes the record at once.
// A failed immediate push does not undo the resolution; it is reported on the
// response and the record stays queued for the next push run.
func (s *ConflictService) Resolve(ctx context.Context, tenantID, id uuid.UUID, req ResolveConflictRequest, userID uuid.UUID) (*ResolveResponse, error) {
	resolution := ledgersync.Resolution(strings.ToUpper(req.Resolution))
	if !resolution.IsValid() {
		return nil, ledgersync.ErrInvalidResolution
	}
	out, err := s.settle(ctx, tenantID, id, func(c *ledgersync.Conflict) error {
		return c.Resolve(resolution, req.ManualValue, userID)
	})
	if err != nil {
		return nil, err
	}

	resp := &ResolveResponse{Conflict: ToConflictResponse(out.conflict), RecordState: string(out.state)}
	if !req.PushNow || !awaitsPush(out.state) {
		return resp, nil
	}
	c := out.conflict
	if _, err := s.sync.PushRecord(ctx, tenantID, c.EntityType, c.EntityID); err != nil {
		s.logger.Warn("Immediate push after resolution failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("conflict_id", c.ID.String()),
			zap.String("entity_type", string(c.EntityType)),
			zap.String("entity_id", c.EntityID.String()),
			zap.Error(err))
		resp.PushError = err.Error()
	} else {
		resp.Pushed = true
	}
	if state, err := s.sync.recordState(ctx, tenantID, c.EntityType, c.EntityID); err == nil {
		resp.RecordState = string(state)
	}
	return resp, nil
}

// Ignore dismisses a conflict. The same pair of values is not raised again;
// a later change on either side opens a new conflict.
func (s *ConflictService) Ignore(ctx context.Context, tenantID, id, userID uuid.UUID) (*ResolveResponse, error) {
	out, err := s.settle(ctx, tenantID, id, func(c *ledgersync.Conflict) error {
		return c.Ignore(userID)
	})
	if err != nil {
		return nil, err
	}
	return &ResolveResponse{Conflict: ToConflictResponse(out.conflict), RecordState: string(out.state)}, nil
}

// BulkResolve settles many conflicts the same way. MANUAL is not allowed
// because one value cannot fit different fields. Each id succeeds or fails
// on its own.
func (s *ConflictService) BulkResolve(ctx context.Context, tenantID uuid.UUID, req BulkResolveRequest, userID uuid.UUID) ([]BulkResolveResult, error) {
	resolution := ledgersync.Resolution(strings.ToUpper(req.Resolution))
	switch resolution {
	case ledgersync.ResolutionKeepLocal, ledgersync.ResolutionKeepRemote:
	case ledgersync.ResolutionManual:
		return nil, ledgersync.ErrBulkManualNotAllowed
	default:
		return nil, ledgersync.ErrInvalidResolution
	}

	results := make([]BulkResolveResult, 0, len(req.IDs))
	for _, id := range req.IDs {
		out, err := s.settle(ctx, tenantID, id, func(c *ledgersync.Conflict) error {
			return c.Resolve(resolution, "", userID)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			results = append(results, BulkResolveResult{ID: id, Error: err.Error()})
			continue
		}
		resp := ToConflictResponse(out.conflict)
		results = append(results, BulkResolveResult{ID: id, OK: true, Conflict: &resp})
	}
	return results, nil
}

// settled is a conflict after settlement and its record's resulting state
type settled struct {
	conflict *ledgersync.Conflict
	state    ledgersync.SyncState
}

// settle applies decide to an open conflict and carries the outcome to the
// record in one transaction.
func (s *ConflictService) settle(ctx context.Context, tenantID, id uuid.UUID, decide func(c *ledgersync.Conflict) error) (*settled, error) {
	var (
		out    settled
		events []shared.DomainEvent
	)
	err := s.tx.Execute(ctx, func(repos Repositories) error {
		c, err := repos.Conflicts().FindByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := decide(c); err != nil {
			return err
		}
		target, err := s.sync.resolutionTarget(ctx, tenantID, repos, c)
		if err != nil {
			return err
		}
		if err := target.apply(ctx, c); err != nil {
			return err
		}
		if err := repos.Conflicts().Save(ctx, c); err != nil {
			return err
		}
		open, err := repos.Conflicts().FindOpenByEntity(ctx, tenantID, c.EntityType, c.EntityID)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			if err := target.release(ctx, s.sync.Rules()); err != nil {
				return err
			}
		}
		if err := target.rec.save(ctx); err != nil {
			return err
		}
		events = append(*target.rc.events, ledgersync.NewConflictResolvedEvent(c))
		out = settled{conflict: c, state: target.rec.info.State}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			s.logger.Warn("Failed to publish conflict events", zap.Error(err))
		}
	}
	s.logger.Info("Conflict settled",
		zap.String("tenant_id", tenantID.String()),
		zap.String("conflict_id", out.conflict.ID.String()),
		zap.String("entity_type", string(out.conflict.EntityType)),
		zap.String("field", out.conflict.Field),
		zap.String("status", string(out.conflict.Status)),
		zap.String("resolution", string(out.conflict.Resolution)),
		zap.String("record_state", string(out.state)))
	return &out, nil
}

func awaitsPush(state ledgersync.SyncState) bool {
	return state == ledgersync.SyncStatePendingPush || state == ledgersync.SyncStateNeverSynced
}

// resolutionTarget is the record a conflict belongs to, loaded for settlement
type resolutionTarget struct {
	rc  *runContext
	rec *localRecord
	// current reads the record's synced fields after a change
	current func(ctx context.Context) (ledgersync.FieldSet, error)
	// remote is the ledger's record when it had to be fetched
	remote ledgersync.FieldSet
}

// resolutionTarget loads the record of c. Taking the ledger's contact or
// lines needs the ledger record itself, so only then is the ledger called.
func (s *SyncService) resolutionTarget(ctx context.Context, tenantID uuid.UUID, repos Repositories, c *ledgersync.Conflict) (*resolutionTarget, error) {
	rc := newRunContext(tenantID, ledgersync.LedgerTenant{}, &ledgersync.SyncRun{})
	switch c.EntityType {
	case ledgersync.EntityTypeContact:
		ct, err := repos.Contacts().FindByIDForTenant(ctx, tenantID, c.EntityID)
		if err != nil {
			return nil, err
		}
		return &resolutionTarget{
			rc:  rc,
			rec: s.contactRecord(rc, repos, ct),
			current: func(context.Context) (ledgersync.FieldSet, error) {
				return ct.SyncFields(), nil
			},
		}, nil

	case ledgersync.EntityTypeInvoice:
		inv, err := repos.Invoices().FindByIDForTenant(ctx, tenantID, c.EntityID)
		if err != nil {
			return nil, err
		}
		target := &resolutionTarget{rc: rc}
		var remote *ledgersync.RemoteInvoice
		if c.Resolution == ledgersync.ResolutionKeepRemote && (c.Field == ledgersync.FieldContact || c.Field == ledgersync.FieldLines) {
			if rc.ledger, err = s.tokens.AccessToken(ctx, tenantID); err != nil {
				return nil, err
			}
			if remote, err = s.client.GetInvoice(ctx, rc.ledger, inv.Sync.ExternalID); err != nil {
				return nil, err
			}
			target.remote = remote.Fields()
		}
		if target.rec, err = s.invoiceRecord(ctx, rc, repos, inv, remote); err != nil {
			return nil, err
		}
		target.current = func(ctx context.Context) (ledgersync.FieldSet, error) {
			ext, err := s.contactExternalID(ctx, rc, repos, inv.ContactID)
			if err != nil {
				return nil, err
			}
			return inv.SyncFields(ext), nil
		}
		return target, nil

	case ledgersync.EntityTypePayment:
		p, err := repos.Payments().FindByIDForTenant(ctx, tenantID, c.EntityID)
		if err != nil {
			return nil, err
		}
		return &resolutionTarget{
			rc:  rc,
			rec: s.paymentRecord(repos, p),
			current: func(context.Context) (ledgersync.FieldSet, error) {
				return p.SyncFields(), nil
			},
		}, nil

	default:
		return nil, ledgersync.ErrInvalidEntityType
	}
}

// apply carries a settled conflict to the record's values and base
func (t *resolutionTarget) apply(ctx context.Context, c *ledgersync.Conflict) error {
	info := t.rec.info
	if c.Status == ledgersync.ConflictIgnored {
		info.Suppress(c.Field, c.LocalValue, c.RemoteValue)
		return nil
	}
	switch c.Resolution {
	case ledgersync.ResolutionKeepLocal:
		// The local value now differs from the base only on our side.
		info.SetBaseField(c.Field, c.RemoteValue)
	case ledgersync.ResolutionKeepRemote:
		value := c.RemoteValue
		if v, ok := t.remote[c.Field]; ok {
			value = v
		}
		if err := t.rec.set(ctx, c.Field, value); err != nil {
			return err
		}
		info.SetBaseField(c.Field, value)
	case ledgersync.ResolutionManual:
		if err := t.rec.set(ctx, c.Field, c.ManualValue); err != nil {
			return err
		}
		info.SetBaseField(c.Field, c.RemoteValue)
	default:
		return ledgersync.ErrInvalidResolution
	}
	return nil
}

// release moves a record without open conflicts out of CONFLICT: it waits
// for a push when local values still differ from the base, else it is synced.
func (t *resolutionTarget) release(ctx context.Context, rules *ledgersync.OwnershipRules) error {
	fields, err := t.current(ctx)
	if err != nil {
		return err
	}
	info := t.rec.info
	pending := false
	if t.rec.push != nil {
		for _, f := range ledgersync.PendingLocalChanges(t.rec.entityType, rules, info.Base, fields) {
			if _, suppressed := info.Suppressed[f]; !suppressed {
				pending = true
				break
			}
		}
		for field, allowed := range t.rec.transitions {
			if b, ok := info.Base[field]; ok && b != fields[field] && allowed(b, fields[field]) {
				pending = true
			}
		}
	}
	info.Apply(info.Base, time.Time{}, false, pending)
	return nil
}
