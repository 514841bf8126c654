package ledgersync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// planInput is a local record as seen by the dry run
type planInput struct {
	id         uuid.UUID
	label      string
	externalID string
	base       ledgersync.FieldSet
	fields     ledgersync.FieldSet
	suppressed ledgersync.Suppressions
	matchKeys  []string

	// transitions mirrors localRecord.transitions
	transitions map[string]func(from, to string) bool
}

// DryRun computes what a full sync would do without writing records,
// conflicts, cursors or anything in the ledger. One dry run per entity type
// is recorded for the audit log. With archive set and an archive configured
// the report is uploaded and a download URL attached.
func (s *SyncService) DryRun(ctx context.Context, tenantID uuid.UUID, entityTypes []ledgersync.EntityType, archive bool) (*ReconcileResponse, error) {
	if len(entityTypes) == 0 {
		entityTypes = ledgersync.AllEntityTypes()
	}
	for _, t := range entityTypes {
		if !t.IsValid() {
			return nil, ledgersync.ErrInvalidEntityType
		}
	}

	lt, err := s.tokens.AccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "ledgersync.dry_run")
	defer span.End()

	report := ledgersync.NewReconciliationReport(tenantID, entityTypes)
	resp := &ReconcileResponse{Report: report}
	for _, t := range entityTypes {
		run, err := ledgersync.NewSyncRun(tenantID, t, ledgersync.DirectionPull, ledgersync.TriggerManual, true)
		if err != nil {
			return nil, err
		}
		plans, planErr := s.planEntity(ctx, tenantID, lt, t)
		for _, p := range plans {
			report.Add(p)
			countPlan(run, p)
		}
		_ = run.Finish(planErr)
		if err := s.runs.Save(ctx, run); err != nil {
			return nil, fmt.Errorf("save dry run: %w", err)
		}
		resp.RunIDs = append(resp.RunIDs, run.ID)
		if planErr != nil {
			span.RecordError(planErr)
			return nil, planErr
		}
	}
	resp.ProjectedConflicts = report.ProjectedConflicts()

	if archive && s.archive != nil {
		url, err := s.archive.Store(ctx, report)
		if err != nil {
			s.logger.Warn("Failed to archive reconciliation report",
				zap.String("tenant_id", tenantID.String()),
				zap.String("report_id", report.ID.String()),
				zap.Error(err))
		} else {
			report.ArchiveURL = url
		}
	}

	s.logger.Info("Reconciliation dry run finished",
		zap.String("tenant_id", tenantID.String()),
		zap.String("report_id", report.ID.String()),
		zap.Int("plans", len(report.Plans)),
		zap.Int("projected_conflicts", resp.ProjectedConflicts))
	return resp, nil
}

func countPlan(run *ledgersync.SyncRun, p *ledgersync.RecordPlan) {
	switch p.Action {
	case ledgersync.RecordCreateLocal, ledgersync.RecordCreateRemote:
		run.RecordCreated()
	case ledgersync.RecordNoop:
		run.RecordSkipped()
	case ledgersync.RecordConflict:
		run.RecordConflicts(len(p.Conflicts()))
	default:
		run.RecordUpdated()
	}
}

// planEntity pairs every local record with its remote copy and diffs them
func (s *SyncService) planEntity(ctx context.Context, tenantID uuid.UUID, lt ledgersync.LedgerTenant, t ledgersync.EntityType) ([]*ledgersync.RecordPlan, error) {
	remote, err := s.listRemote(ctx, lt, t)
	if err != nil {
		return nil, err
	}
	locals, err := s.planInputs(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}
	return buildPlans(t, s.opts.Rules, locals, newRemoteIndex(remote)), nil
}

// buildPlans diffs linked records against their remote copy and pairs the
// rest heuristically. Remote records some local already links to are claimed
// up front so no unlinked local can match them, as in a real push.
func buildPlans(t ledgersync.EntityType, rules *ledgersync.OwnershipRules, locals []planInput, ix *remoteIndex) []*ledgersync.RecordPlan {
	for _, l := range locals {
		if l.externalID != "" {
			ix.claim(l.externalID)
		}
	}

	var plans []*ledgersync.RecordPlan
	for _, l := range locals {
		var r ledgersync.RemoteRecord
		if l.externalID != "" {
			if r = ix.get(l.externalID); r == nil {
				plans = append(plans, &ledgersync.RecordPlan{
					EntityType: t,
					LocalID:    l.id,
					ExternalID: l.externalID,
					Label:      l.label,
					Action:     ledgersync.RecordMissingRemote,
				})
				continue
			}
		} else if r = ix.match(l.matchKeys); r == nil {
			plans = append(plans, &ledgersync.RecordPlan{
				EntityType: t,
				LocalID:    l.id,
				Label:      l.label,
				Action:     ledgersync.RecordCreateRemote,
			})
			continue
		}
		ix.claim(r.GetExternalID())

		dir := ledgersync.DirectionPull
		if l.externalID == "" {
			dir = ledgersync.DirectionPush
		}
		p := ledgersync.Diff(t, rules, l.base, l.fields, r.Fields(), l.suppressed, dir)
		for field, allowed := range l.transitions {
			p.AllowLocalTransition(field, allowed)
		}
		p.LocalID = l.id
		p.ExternalID = r.GetExternalID()
		p.Label = l.label
		plans = append(plans, p)
	}
	for _, r := range ix.unclaimed() {
		plans = append(plans, &ledgersync.RecordPlan{
			EntityType: t,
			ExternalID: r.GetExternalID(),
			Label:      r.Label(),
			Action:     ledgersync.RecordCreateLocal,
		})
	}
	return plans
}

func (s *SyncService) planInputs(ctx context.Context, tenantID uuid.UUID, t ledgersync.EntityType) ([]planInput, error) {
	switch t {
	case ledgersync.EntityTypeContact:
		contacts, err := s.contacts.ListAll(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		out := make([]planInput, len(contacts))
		for i := range contacts {
			c := &contacts[i]
			fields := c.SyncFields()
			out[i] = planInput{
				id:         c.ID,
				label:      c.Label(),
				externalID: c.Sync.ExternalID,
				base:       c.Sync.Base,
				fields:     fields,
				suppressed: c.Sync.Suppressed,
				matchKeys:  contactMatchKeys(fields),
			}
		}
		return out, nil

	case ledgersync.EntityTypeInvoice:
		contactExt, err := s.contactExternalIDs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		invoices, err := s.invoices.ListAll(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		out := make([]planInput, len(invoices))
		for i := range invoices {
			inv := &invoices[i]
			out[i] = planInput{
				id:         inv.ID,
				label:      inv.Label(),
				externalID: inv.Sync.ExternalID,
				base:       inv.Sync.Base,
				fields:     inv.SyncFields(contactExt[inv.ContactID]),
				suppressed: inv.Sync.Suppressed,
				matchKeys:  invoiceMatchKeys(string(inv.Type), inv.Number),

				transitions: invoiceTransitions,
			}
		}
		return out, nil

	case ledgersync.EntityTypePayment:
		invoices, err := s.invoices.ListAll(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		invoiceExt := make(map[uuid.UUID]string, len(invoices))
		for i := range invoices {
			invoiceExt[invoices[i].ID] = invoices[i].Sync.ExternalID
		}
		payments, err := s.payments.ListAll(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		out := make([]planInput, 0, len(payments))
		for i := range payments {
			p := &payments[i]
			if p.IsDeleted() && !p.Sync.IsLinked() {
				continue
			}
			fields := p.SyncFields()
			out = append(out, planInput{
				id:         p.ID,
				label:      p.Label(),
				externalID: p.Sync.ExternalID,
				base:       p.Sync.Base,
				fields:     fields,
				suppressed: p.Sync.Suppressed,
				matchKeys:  paymentMatchKeys(invoiceExt[p.InvoiceID], fields),
			})
		}
		return out, nil

	default:
		return nil, ledgersync.ErrInvalidEntityType
	}
}

func (s *SyncService) contactExternalIDs(ctx context.Context, tenantID uuid.UUID) (map[uuid.UUID]string, error) {
	contacts, err := s.contacts.ListAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string, len(contacts))
	for i := range contacts {
		out[contacts[i].ID] = contacts[i].Sync.ExternalID
	}
	return out, nil
}
