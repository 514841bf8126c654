package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
)

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

func (s *SyncService) contactRecord(rc *runContext, repos Repositories, c *accounting.Contact) *localRecord {
	return &localRecord{
		entityType: ledgersync.EntityTypeContact,
		id:         c.ID,
		label:      c.Label(),
		info:       &c.Sync,
		fields:     c.SyncFields(),
		set: func(_ context.Context, field, value string) error {
			return c.SetField(field, value)
		},
		push: func(ctx context.Context, fields []string) (ledgersync.RemoteRecord, error) {
			saved, err := s.client.SaveContact(writeContext(ctx, ledgersync.EntityTypeContact, c.ID, c.Version), rc.ledger, c.ToRemote(), fields)
			if err != nil {
				return nil, err
			}
			return saved, nil
		},
		save: func(ctx context.Context) error {
			return repos.Contacts().Save(ctx, c)
		},
	}
}

// pullContact applies a remote contact locally, matching by external id,
// then by name or email, and creating it when nothing matches.
func (s *SyncService) pullContact(ctx context.Context, rc *runContext, repos Repositories, r *ledgersync.RemoteContact) (*accounting.Contact, error) {
	c, err := repos.Contacts().FindByExternalID(ctx, rc.tenantID, r.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, accounting.ErrContactNotFound):
		c, err = repos.Contacts().FindMatch(ctx, rc.tenantID, r.Name, r.Email)
		if errors.Is(err, accounting.ErrContactNotFound) {
			return s.createContactFromRemote(ctx, rc, repos, r)
		}
		if err != nil {
			return nil, err
		}
		c.Sync.Link(r.ExternalID)
	default:
		return nil, err
	}
	return c, s.reconcile(ctx, rc, repos, s.contactRecord(rc, repos, c), r, ledgersync.DirectionPull)
}

func (s *SyncService) createContactFromRemote(ctx context.Context, rc *runContext, repos Repositories, r *ledgersync.RemoteContact) (*accounting.Contact, error) {
	c, err := accounting.NewContactFromRemote(rc.tenantID, r)
	if err != nil {
		return nil, err
	}
	if err := repos.Contacts().Save(ctx, c); err != nil {
		return nil, err
	}
	rc.collect(c.GetDomainEvents()...)
	c.ClearDomainEvents()
	rc.run.RecordCreated()
	return c, nil
}

// pushContact creates, links or updates the contact in the ledger
func (s *SyncService) pushContact(ctx context.Context, rc *runContext, repos Repositories, c *accounting.Contact) error {
	rec := s.contactRecord(rc, repos, c)
	if c.Sync.IsLinked() {
		remote, err := s.client.GetContact(ctx, rc.ledger, c.Sync.ExternalID)
		if err != nil {
			return err
		}
		return s.reconcile(ctx, rc, repos, rec, remote, ledgersync.DirectionPush)
	}

	match, err := s.remoteMatch(ctx, rc, ledgersync.EntityTypeContact, contactMatchKeys(rec.fields), func(ext string) (bool, error) {
		return exists(repos.Contacts().FindByExternalID(ctx, rc.tenantID, ext))
	})
	if err != nil {
		return err
	}
	if match != nil {
		c.Sync.Link(match.GetExternalID())
		return s.reconcile(ctx, rc, repos, rec, match, ledgersync.DirectionPush)
	}

	created, err := s.client.SaveContact(writeContext(ctx, ledgersync.EntityTypeContact, c.ID, c.Version), rc.ledger, c.ToRemote(), nil)
	if err != nil {
		return err
	}
	c.Sync.Link(created.ExternalID)
	c.Sync.Apply(rec.fields, created.UpdatedAt, false, false)
	if err := repos.Contacts().Save(ctx, c); err != nil {
		return err
	}
	rc.run.RecordCreated()
	return nil
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

// invoiceRecord adapts an invoice. remote is the ledger copy being applied;
// it supplies the lines when the line digest is taken from the ledger.
func (s *SyncService) invoiceRecord(ctx context.Context, rc *runContext, repos Repositories, inv *accounting.Invoice, remote *ledgersync.RemoteInvoice) (*localRecord, error) {
	contactExt, err := s.contactExternalID(ctx, rc, repos, inv.ContactID)
	if err != nil {
		return nil, err
	}
	return &localRecord{
		entityType: ledgersync.EntityTypeInvoice,
		id:         inv.ID,
		label:      inv.Label(),
		info:       &inv.Sync,
		fields:     inv.SyncFields(contactExt),
		set: func(ctx context.Context, field, value string) error {
			switch field {
			case ledgersync.FieldContact:
				c, err := s.ensureLocalContact(ctx, rc, repos, value)
				if err != nil {
					return err
				}
				// A ledger-side change: not a local edit to push back.
				inv.ContactID = c.ID
				return nil
			case ledgersync.FieldLines:
				inv.ReplaceLinesFromRemote(remote)
				return nil
			default:
				return inv.SetField(field, value)
			}
		},
		push: func(ctx context.Context, fields []string) (ledgersync.RemoteRecord, error) {
			ext, err := s.ensureRemoteContact(ctx, rc, repos, inv.ContactID)
			if err != nil {
				return nil, err
			}
			saved, err := s.client.SaveInvoice(writeContext(ctx, ledgersync.EntityTypeInvoice, inv.ID, inv.Version), rc.ledger, inv.ToRemote(ext), fields)
			if err != nil {
				return nil, err
			}
			return saved, nil
		},
		save: func(ctx context.Context) error {
			return repos.Invoices().Save(ctx, inv)
		},
		transitions: invoiceTransitions,
	}, nil
}

// invoiceTransitions lets an invoice approved or voided here reach the ledger
// instead of being reverted to the ledger's status.
var invoiceTransitions = map[string]func(from, to string) bool{
	ledgersync.FieldStatus: accounting.IsLocalStatusTransition,
}

func (s *SyncService) contactExternalID(ctx context.Context, rc *runContext, repos Repositories, contactID uuid.UUID) (string, error) {
	c, err := repos.Contacts().FindByIDForTenant(ctx, rc.tenantID, contactID)
	if err != nil {
		return "", err
	}
	return c.Sync.ExternalID, nil
}

// ensureLocalContact returns the local contact linked to a ledger contact,
// pulling it first when it is not known locally.
func (s *SyncService) ensureLocalContact(ctx context.Context, rc *runContext, repos Repositories, externalID string) (*accounting.Contact, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: invoice has no contact", ledgersync.ErrDependencyNotReady)
	}
	c, err := repos.Contacts().FindByExternalID(ctx, rc.tenantID, externalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, accounting.ErrContactNotFound) {
		return nil, err
	}
	remote, err := s.client.GetContact(ctx, rc.ledger, externalID)
	if err != nil {
		return nil, fmt.Errorf("%w: contact %s: %w", ledgersync.ErrDependencyNotReady, externalID, err)
	}
	return s.pullContact(ctx, rc.dependency(), repos, remote)
}

// ensureRemoteContact returns the ledger id of a local contact, pushing the
// contact first when it was never synced.
func (s *SyncService) ensureRemoteContact(ctx context.Context, rc *runContext, repos Repositories, contactID uuid.UUID) (string, error) {
	c, err := repos.Contacts().FindByIDForTenant(ctx, rc.tenantID, contactID)
	if err != nil {
		return "", err
	}
	if c.Sync.IsLinked() {
		return c.Sync.ExternalID, nil
	}
	if err := s.pushContact(ctx, rc.dependency(), repos, c); err != nil {
		return "", fmt.Errorf("%w: contact %s: %w", ledgersync.ErrDependencyNotReady, c.Label(), err)
	}
	return c.Sync.ExternalID, nil
}

// pullInvoice applies a remote invoice, pulling its contact when needed
func (s *SyncService) pullInvoice(ctx context.Context, rc *runContext, repos Repositories, r *ledgersync.RemoteInvoice) error {
	inv, err := repos.Invoices().FindByExternalID(ctx, rc.tenantID, r.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, accounting.ErrInvoiceNotFound):
		contact, err := s.ensureLocalContact(ctx, rc, repos, r.ContactExternalID)
		if err != nil {
			return err
		}
		if r.Number != "" {
			inv, err = repos.Invoices().FindByNumber(ctx, rc.tenantID, accounting.InvoiceType(r.Type), r.Number)
		} else {
			err = accounting.ErrInvoiceNotFound
		}
		if errors.Is(err, accounting.ErrInvoiceNotFound) {
			return s.createInvoiceFromRemote(ctx, rc, repos, contact, r)
		}
		if err != nil {
			return err
		}
		inv.Sync.Link(r.ExternalID)
	default:
		return err
	}

	rec, err := s.invoiceRecord(ctx, rc, repos, inv, r)
	if err != nil {
		return err
	}
	return s.reconcile(ctx, rc, repos, rec, r, ledgersync.DirectionPull)
}

func (s *SyncService) createInvoiceFromRemote(ctx context.Context, rc *runContext, repos Repositories, contact *accounting.Contact, r *ledgersync.RemoteInvoice) error {
	inv, err := accounting.NewInvoiceFromRemote(rc.tenantID, contact.ID, r)
	if err != nil {
		return err
	}
	if err := repos.Invoices().Save(ctx, inv); err != nil {
		return err
	}
	rc.collect(inv.GetDomainEvents()...)
	inv.ClearDomainEvents()
	rc.run.RecordCreated()
	return nil
}

// pushInvoice creates, links or updates the invoice, pushing its contact first
func (s *SyncService) pushInvoice(ctx context.Context, rc *runContext, repos Repositories, inv *accounting.Invoice) error {
	contactExt, err := s.ensureRemoteContact(ctx, rc, repos, inv.ContactID)
	if err != nil {
		return err
	}

	if inv.Sync.IsLinked() {
		remote, err := s.client.GetInvoice(ctx, rc.ledger, inv.Sync.ExternalID)
		if err != nil {
			return err
		}
		rec, err := s.invoiceRecord(ctx, rc, repos, inv, remote)
		if err != nil {
			return err
		}
		return s.reconcile(ctx, rc, repos, rec, remote, ledgersync.DirectionPush)
	}

	match, err := s.remoteMatch(ctx, rc, ledgersync.EntityTypeInvoice, invoiceMatchKeys(string(inv.Type), inv.Number), func(ext string) (bool, error) {
		return exists(repos.Invoices().FindByExternalID(ctx, rc.tenantID, ext))
	})
	if err != nil {
		return err
	}
	if match != nil {
		remote := match.(*ledgersync.RemoteInvoice)
		inv.Sync.Link(remote.ExternalID)
		rec, err := s.invoiceRecord(ctx, rc, repos, inv, remote)
		if err != nil {
			return err
		}
		return s.reconcile(ctx, rc, repos, rec, remote, ledgersync.DirectionPush)
	}

	created, err := s.client.SaveInvoice(writeContext(ctx, ledgersync.EntityTypeInvoice, inv.ID, inv.Version), rc.ledger, inv.ToRemote(contactExt), nil)
	if err != nil {
		return err
	}
	inv.Sync.Link(created.ExternalID)
	if inv.Number == "" && created.Number != "" {
		// The ledger assigns numbers to invoices created without one.
		if err := inv.SetField(ledgersync.FieldNumber, created.Number); err != nil {
			return err
		}
	}
	inv.Sync.Apply(inv.SyncFields(contactExt), created.UpdatedAt, false, false)
	if err := repos.Invoices().Save(ctx, inv); err != nil {
		return err
	}
	rc.run.RecordCreated()
	return nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

// paymentRecord adapts a payment. Ledger payments cannot be edited, so
// there is no push: local edits reach the ledger only as create or delete.
func (s *SyncService) paymentRecord(repos Repositories, p *accounting.Payment) *localRecord {
	return &localRecord{
		entityType: ledgersync.EntityTypePayment,
		id:         p.ID,
		label:      p.Label(),
		info:       &p.Sync,
		fields:     p.SyncFields(),
		set: func(_ context.Context, field, value string) error {
			return p.SetField(field, value)
		},
		save: func(ctx context.Context) error {
			return repos.Payments().Save(ctx, p)
		},
	}
}

// pullPayment applies a remote payment. Its invoice must already be linked.
func (s *SyncService) pullPayment(ctx context.Context, rc *runContext, repos Repositories, r *ledgersync.RemotePayment) error {
	p, err := repos.Payments().FindByExternalID(ctx, rc.tenantID, r.ExternalID)
	if err == nil {
		return s.reconcile(ctx, rc, repos, s.paymentRecord(repos, p), r, ledgersync.DirectionPull)
	}
	if !errors.Is(err, accounting.ErrPaymentNotFound) {
		return err
	}

	inv, err := repos.Invoices().FindByExternalID(ctx, rc.tenantID, r.InvoiceExternalID)
	if errors.Is(err, accounting.ErrInvoiceNotFound) {
		return fmt.Errorf("%w: invoice %s", ledgersync.ErrDependencyNotReady, r.InvoiceExternalID)
	}
	if err != nil {
		return err
	}

	p, err = repos.Payments().FindMatch(ctx, rc.tenantID, inv.ID, r.Date, r.Amount)
	switch {
	case err == nil:
		p.Sync.Link(r.ExternalID)
		return s.reconcile(ctx, rc, repos, s.paymentRecord(repos, p), r, ledgersync.DirectionPull)
	case !errors.Is(err, accounting.ErrPaymentNotFound):
		return err
	}

	if strings.EqualFold(r.Status, string(accounting.PaymentStatusDeleted)) {
		rc.run.RecordSkipped()
		return nil
	}
	p, err = accounting.NewPaymentFromRemote(rc.tenantID, inv.ID, r)
	if err != nil {
		return err
	}
	if err := repos.Payments().Save(ctx, p); err != nil {
		return err
	}
	rc.run.RecordCreated()
	return nil
}

// pushPayment creates or deletes the payment in the ledger
func (s *SyncService) pushPayment(ctx context.Context, rc *runContext, repos Repositories, p *accounting.Payment) error {
	if p.IsDeleted() {
		return s.pushPaymentDeletion(ctx, rc, repos, p)
	}
	if p.Sync.IsLinked() {
		remote, err := s.client.GetPayment(ctx, rc.ledger, p.Sync.ExternalID)
		if err != nil {
			return err
		}
		return s.reconcile(ctx, rc, repos, s.paymentRecord(repos, p), remote, ledgersync.DirectionPush)
	}

	inv, err := repos.Invoices().FindByIDForTenant(ctx, rc.tenantID, p.InvoiceID)
	if err != nil {
		return err
	}
	if !inv.Sync.IsLinked() {
		return fmt.Errorf("%w: invoice %s is not in the ledger", ledgersync.ErrDependencyNotReady, inv.Label())
	}
	if inv.Status != accounting.InvoiceStatusAuthorised && inv.Status != accounting.InvoiceStatusPaid {
		return fmt.Errorf("%w: invoice %s is %s", ledgersync.ErrDependencyNotReady, inv.Label(), inv.Status)
	}

	fields := p.SyncFields()
	match, err := s.remoteMatch(ctx, rc, ledgersync.EntityTypePayment, paymentMatchKeys(inv.Sync.ExternalID, fields), func(ext string) (bool, error) {
		return exists(repos.Payments().FindByExternalID(ctx, rc.tenantID, ext))
	})
	if err != nil {
		return err
	}
	if match != nil {
		p.Sync.Link(match.GetExternalID())
		return s.reconcile(ctx, rc, repos, s.paymentRecord(repos, p), match, ledgersync.DirectionPush)
	}

	created, err := s.client.CreatePayment(writeContext(ctx, ledgersync.EntityTypePayment, p.ID, p.Version), rc.ledger, p.ToRemote(inv.Sync.ExternalID))
	if err != nil {
		return err
	}
	p.Sync.Link(created.ExternalID)
	p.Sync.Apply(fields, created.UpdatedAt, false, false)
	if err := repos.Payments().Save(ctx, p); err != nil {
		return err
	}
	rc.run.RecordCreated()
	return nil
}

func (s *SyncService) pushPaymentDeletion(ctx context.Context, rc *runContext, repos Repositories, p *accounting.Payment) error {
	if p.Sync.IsLinked() {
		err := s.client.DeletePayment(writeContext(ctx, ledgersync.EntityTypePayment, p.ID, p.Version), rc.ledger, p.Sync.ExternalID)
		if err != nil && !errors.Is(err, ledgersync.ErrRemoteNotFound) {
			return err
		}
		rc.run.RecordUpdated()
	} else {
		rc.run.RecordSkipped()
	}
	p.Sync.Apply(p.SyncFields(), time.Time{}, false, false)
	return repos.Payments().Save(ctx, p)
}

// exists adapts a repository lookup to a presence check
func exists[T any](_ T, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, accounting.ErrContactNotFound),
		errors.Is(err, accounting.ErrInvoiceNotFound),
		errors.Is(err, accounting.ErrPaymentNotFound):
		return false, nil
	default:
		return false, err
	}
}
