// Package accounting holds the use cases for the local accounting records that
// are synchronized with the ledger: contacts, invoices and payments.
package accounting

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service manages contacts, invoices and payments for one tenant at a time.
// Every read and write is scoped to the caller's tenant.
type Service struct {
	contacts  accounting.ContactRepository
	invoices  accounting.InvoiceRepository
	payments  accounting.PaymentRepository
	txScope   appsync.TransactionScope
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewService creates a new Service. publisher may be nil.
func NewService(
	contacts accounting.ContactRepository,
	invoices accounting.InvoiceRepository,
	payments accounting.PaymentRepository,
	txScope appsync.TransactionScope,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		contacts:  contacts,
		invoices:  invoices,
		payments:  payments,
		txScope:   txScope,
		publisher: publisher,
		logger:    logger,
	}
}

// =============================================================================
// Contacts
// =============================================================================

// CreateContact creates a contact that will be pushed on the next sync
func (s *Service) CreateContact(ctx context.Context, tenantID uuid.UUID, req CreateContactRequest) (*ContactResponse, error) {
	c, err := accounting.NewContact(tenantID, accounting.ContactKind(req.Kind), accounting.ContactDetails{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		TaxNumber: req.TaxNumber,
		Address:   toAddress(req.Address),
	})
	if err != nil {
		return nil, err
	}
	if err := s.contacts.Save(ctx, c); err != nil {
		return nil, err
	}
	s.publish(ctx, &c.BaseAggregateRoot)

	resp := ToContactResponse(c)
	return &resp, nil
}

// UpdateContact applies the non-nil fields of req
func (s *Service) UpdateContact(ctx context.Context, tenantID, id uuid.UUID, req UpdateContactRequest) (*ContactResponse, error) {
	c, err := s.contacts.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	details := accounting.ContactDetails{
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		TaxNumber: c.TaxNumber,
		Address:   c.Address,
	}
	if req.Name != nil {
		details.Name = *req.Name
	}
	if req.Email != nil {
		details.Email = *req.Email
	}
	if req.Phone != nil {
		details.Phone = *req.Phone
	}
	if req.TaxNumber != nil {
		details.TaxNumber = *req.TaxNumber
	}
	if req.Address != nil {
		details.Address = toAddress(*req.Address)
	}
	if err := c.Update(details); err != nil {
		return nil, err
	}
	if req.Archived != nil && *req.Archived != c.Archived {
		c.SetArchived(*req.Archived)
	}

	if err := s.contacts.Save(ctx, c); err != nil {
		return nil, err
	}
	resp := ToContactResponse(c)
	return &resp, nil
}

// GetContact returns one contact
func (s *Service) GetContact(ctx context.Context, tenantID, id uuid.UUID) (*ContactResponse, error) {
	c, err := s.contacts.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	resp := ToContactResponse(c)
	return &resp, nil
}

// ListContacts returns a page of contacts
func (s *Service) ListContacts(ctx context.Context, tenantID uuid.UUID, filter ContactListFilter) (shared.Paginated[ContactResponse], error) {
	f := accounting.ContactFilter{
		Filter:    pageFilter(filter.Page, filter.PageSize, filter.Search, "name", "asc"),
		Kind:      accounting.ContactKind(filter.Kind),
		Archived:  filter.Archived,
		SyncState: ledgersync.SyncState(strings.ToUpper(filter.SyncState)),
	}
	contacts, total, err := s.contacts.List(ctx, tenantID, f)
	if err != nil {
		return shared.Paginated[ContactResponse]{}, err
	}
	items := make([]ContactResponse, 0, len(contacts))
	for i := range contacts {
		items = append(items, ToContactResponse(&contacts[i]))
	}
	return shared.NewPaginated(items, total, f.Page, f.PageSize), nil
}

// =============================================================================
// Invoices
// =============================================================================

// CreateInvoice creates a draft invoice, authorising it when asked
func (s *Service) CreateInvoice(ctx context.Context, tenantID uuid.UUID, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	contact, err := s.contacts.FindByIDForTenant(ctx, tenantID, req.ContactID)
	if err != nil {
		return nil, err
	}

	inv, err := accounting.NewInvoice(tenantID, accounting.InvoiceType(req.Type), contact, accounting.InvoiceDetails{
		Number:      req.Number,
		Reference:   req.Reference,
		ProjectCode: req.ProjectCode,
		IssueDate:   derefTime(req.IssueDate),
		DueDate:     derefTime(req.DueDate),
		Currency:    req.Currency,
	})
	if err != nil {
		return nil, err
	}
	if len(req.Lines) > 0 {
		if err := inv.SetLines(toLineInputs(req.Lines)); err != nil {
			return nil, err
		}
	}
	if req.Authorise {
		if err := inv.Authorise(); err != nil {
			return nil, err
		}
	}

	if err := s.invoices.Save(ctx, inv); err != nil {
		return nil, err
	}
	s.publish(ctx, &inv.BaseAggregateRoot)

	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// UpdateInvoice applies the non-nil fields of req. Status accepts AUTHORISED and VOIDED.
func (s *Service) UpdateInvoice(ctx context.Context, tenantID, id uuid.UUID, req UpdateInvoiceRequest) (*InvoiceResponse, error) {
	inv, err := s.invoices.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if req.ContactID != nil {
		contact, err := s.contacts.FindByIDForTenant(ctx, tenantID, *req.ContactID)
		if err != nil {
			return nil, err
		}
		if err := inv.SetContact(contact); err != nil {
			return nil, err
		}
	}

	details, changed := mergeInvoiceDetails(inv, req)
	if changed {
		if err := inv.Update(details); err != nil {
			return nil, err
		}
	}
	if req.Lines != nil {
		if err := inv.SetLines(toLineInputs(*req.Lines)); err != nil {
			return nil, err
		}
	}
	if req.Status != nil {
		switch accounting.InvoiceStatus(*req.Status) {
		case accounting.InvoiceStatusAuthorised:
			err = inv.Authorise()
		case accounting.InvoiceStatusVoided:
			err = inv.Void()
		default:
			err = accounting.ErrInvalidInvoiceStatus
		}
		if err != nil {
			return nil, err
		}
	}

	if err := s.invoices.Save(ctx, inv); err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// GetInvoice returns one invoice with its lines
func (s *Service) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoices.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// ListInvoices returns a page of invoices
func (s *Service) ListInvoices(ctx context.Context, tenantID uuid.UUID, filter InvoiceListFilter) (shared.Paginated[InvoiceResponse], error) {
	f := accounting.InvoiceFilter{
		Filter:    pageFilter(filter.Page, filter.PageSize, filter.Search, "issue_date", "desc"),
		Type:      accounting.InvoiceType(filter.Type),
		Status:    accounting.InvoiceStatus(strings.ToUpper(filter.Status)),
		ContactID: filter.ContactID,
		SyncState: ledgersync.SyncState(strings.ToUpper(filter.SyncState)),
	}
	invoices, total, err := s.invoices.List(ctx, tenantID, f)
	if err != nil {
		return shared.Paginated[InvoiceResponse]{}, err
	}
	items := make([]InvoiceResponse, 0, len(invoices))
	for i := range invoices {
		items = append(items, ToInvoiceResponse(&invoices[i]))
	}
	return shared.NewPaginated(items, total, f.Page, f.PageSize), nil
}

// =============================================================================
// Payments
// =============================================================================

// RecordPayment records a payment and updates the invoice's paid amount in one transaction
func (s *Service) RecordPayment(ctx context.Context, tenantID uuid.UUID, req RecordPaymentRequest) (*PaymentResponse, error) {
	var payment *accounting.Payment
	err := s.txScope.Execute(ctx, func(repos appsync.Repositories) error {
		inv, err := repos.Invoices().FindByIDForTenant(ctx, tenantID, req.InvoiceID)
		if err != nil {
			return err
		}
		p, err := accounting.NewPayment(inv, req.Date, req.Amount, req.Reference, req.AccountCode)
		if err != nil {
			return err
		}
		if err := repos.Invoices().Save(ctx, inv); err != nil {
			return err
		}
		if err := repos.Payments().Save(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, &payment.BaseAggregateRoot)

	resp := ToPaymentResponse(payment)
	return &resp, nil
}

// DeletePayment deletes a payment and reverses it on the invoice. A synced
// payment is deleted in the ledger on the next push.
func (s *Service) DeletePayment(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.txScope.Execute(ctx, func(repos appsync.Repositories) error {
		p, err := repos.Payments().FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return err
		}
		inv, err := repos.Invoices().FindByIDForTenant(ctx, tenantID, p.InvoiceID)
		if err != nil {
			return err
		}
		if err := p.Delete(inv); err != nil {
			return err
		}
		if err := repos.Invoices().Save(ctx, inv); err != nil {
			return err
		}
		return repos.Payments().Save(ctx, p)
	})
}

// ListPayments returns a page of payments
func (s *Service) ListPayments(ctx context.Context, tenantID uuid.UUID, filter PaymentListFilter) (shared.Paginated[PaymentResponse], error) {
	f := accounting.PaymentFilter{
		Filter:    pageFilter(filter.Page, filter.PageSize, "", "date", "desc"),
		InvoiceID: filter.InvoiceID,
		Status:    accounting.PaymentStatus(filter.Status),
	}
	payments, total, err := s.payments.List(ctx, tenantID, f)
	if err != nil {
		return shared.Paginated[PaymentResponse]{}, err
	}
	items := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		items = append(items, ToPaymentResponse(&payments[i]))
	}
	return shared.NewPaginated(items, total, f.Page, f.PageSize), nil
}

// =============================================================================
// helpers
// =============================================================================

func (s *Service) publish(ctx context.Context, agg *shared.BaseAggregateRoot) {
	events := agg.GetDomainEvents()
	agg.ClearDomainEvents()
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish domain events", zap.Error(err))
	}
}

func pageFilter(page, pageSize int, search, orderBy, orderDir string) shared.Filter {
	f := shared.Filter{
		Page:     page,
		PageSize: pageSize,
		Search:   strings.TrimSpace(search),
		OrderBy:  orderBy,
		OrderDir: orderDir,
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	f.Normalize(maxPageSize)
	return f
}

func mergeInvoiceDetails(inv *accounting.Invoice, req UpdateInvoiceRequest) (accounting.InvoiceDetails, bool) {
	d := accounting.InvoiceDetails{
		Number:      inv.Number,
		Reference:   inv.Reference,
		ProjectCode: inv.ProjectCode,
		IssueDate:   inv.IssueDate,
		DueDate:     inv.DueDate,
		Currency:    inv.Currency,
	}
	changed := false
	if req.Number != nil {
		d.Number, changed = *req.Number, true
	}
	if req.Reference != nil {
		d.Reference, changed = *req.Reference, true
	}
	if req.ProjectCode != nil {
		d.ProjectCode, changed = *req.ProjectCode, true
	}
	if req.IssueDate != nil {
		d.IssueDate, changed = *req.IssueDate, true
	}
	if req.DueDate != nil {
		d.DueDate, changed = *req.DueDate, true
	}
	if req.Currency != nil {
		d.Currency, changed = *req.Currency, true
	}
	return d, changed
}

func toAddress(a AddressDTO) accounting.Address {
	return accounting.Address{
		Line1:      a.Line1,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func toLineInputs(lines []InvoiceLineDTO) []accounting.LineInput {
	out := make([]accounting.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, accounting.LineInput{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			AccountCode: l.AccountCode,
			TaxType:     l.TaxType,
		})
	}
	return out
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
