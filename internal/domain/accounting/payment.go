package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of a payment
type PaymentStatus string

const (
	PaymentStatusAuthorised PaymentStatus = "AUTHORISED"
	PaymentStatusDeleted    PaymentStatus = "DELETED"
)

// Payment is money received for a sales invoice or paid against a bill.
// Ledger payments cannot be edited, only created and deleted.
type Payment struct {
	shared.TenantAggregateRoot
	InvoiceID   uuid.UUID
	Date        time.Time
	Amount      decimal.Decimal
	Reference   string
	AccountCode string
	Status      PaymentStatus
	Sync        ledgersync.SyncInfo
}

// NewPayment records a payment and applies it to the invoice
func NewPayment(inv *Invoice, date time.Time, amount decimal.Decimal, reference, accountCode string) (*Payment, error) {
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	if date.IsZero() {
		return nil, ErrInvalidPaymentDate
	}
	amount = amount.Round(2)
	if err := inv.ApplyPayment(amount); err != nil {
		return nil, err
	}
	p := &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(inv.TenantID),
		InvoiceID:           inv.ID,
		Date:                date,
		Amount:              amount,
		Reference:           strings.TrimSpace(reference),
		AccountCode:         strings.TrimSpace(accountCode),
		Status:              PaymentStatusAuthorised,
		Sync:                ledgersync.NewSyncInfo(),
	}
	p.AddDomainEvent(NewPaymentRecordedEvent(p))
	return p, nil
}

// NewPaymentFromRemote creates a local payment for a ledger payment seen for
// the first time. The invoice's paid amount arrives with the invoice itself.
func NewPaymentFromRemote(tenantID, invoiceID uuid.UUID, rp *ledgersync.RemotePayment) (*Payment, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	status := PaymentStatus(strings.ToUpper(rp.Status))
	if status != PaymentStatusDeleted {
		status = PaymentStatusAuthorised
	}
	p := &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		InvoiceID:           invoiceID,
		Date:                rp.Date,
		Amount:              rp.Amount,
		Reference:           rp.Reference,
		AccountCode:         rp.AccountCode,
		Status:              status,
		Sync:                ledgersync.NewSyncInfo(),
	}
	p.Sync.Link(rp.ExternalID)
	p.Sync.Apply(rp.Fields(), rp.UpdatedAt, false, false)
	return p, nil
}

// IsDeleted reports whether the payment was deleted
func (p *Payment) IsDeleted() bool {
	return p.Status == PaymentStatusDeleted
}

// Delete removes the payment from the invoice
func (p *Payment) Delete(inv *Invoice) error {
	if p.IsDeleted() {
		return ErrPaymentDeleted
	}
	if inv == nil || inv.ID != p.InvoiceID {
		return ErrInvoiceNotFound
	}
	inv.ReversePayment(p.Amount)
	p.Status = PaymentStatusDeleted
	p.Sync.MarkLocalChange()
	p.UpdatedAt = time.Now()
	p.IncrementVersion()
	return nil
}

// Label is a readable identifier
func (p *Payment) Label() string {
	return ledgersync.CanonicalDate(p.Date) + " " + ledgersync.CanonicalDecimal(p.Amount)
}

// SyncFields returns the canonical snapshot of the synced fields
func (p *Payment) SyncFields() ledgersync.FieldSet {
	return ledgersync.MustFieldSet(ledgersync.EntityTypePayment, map[string]string{
		ledgersync.FieldAmount:    ledgersync.CanonicalDecimal(p.Amount),
		ledgersync.FieldDate:      ledgersync.CanonicalDate(p.Date),
		ledgersync.FieldReference: p.Reference,
		ledgersync.FieldStatus:    string(p.Status),
	})
}

// SetField writes one canonical field value
func (p *Payment) SetField(field, value string) error {
	switch field {
	case ledgersync.FieldAmount:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%w: amount=%q", ledgersync.ErrInvalidFieldValue, value)
		}
		p.Amount = d
	case ledgersync.FieldDate:
		d, err := parseDate(value)
		if err != nil {
			return err
		}
		p.Date = d
	case ledgersync.FieldReference:
		p.Reference = value
	case ledgersync.FieldStatus:
		if value == string(PaymentStatusDeleted) {
			p.Status = PaymentStatusDeleted
		} else {
			p.Status = PaymentStatusAuthorised
		}
	default:
		return fmt.Errorf("%w: payment.%s", ledgersync.ErrUnknownField, field)
	}
	p.Touch()
	return nil
}

// ToRemote builds the ledger representation of the payment
func (p *Payment) ToRemote(invoiceExternalID string) *ledgersync.RemotePayment {
	return &ledgersync.RemotePayment{
		ExternalID:        p.Sync.ExternalID,
		InvoiceExternalID: invoiceExternalID,
		Date:              p.Date,
		Amount:            p.Amount,
		Reference:         p.Reference,
		AccountCode:       p.AccountCode,
		Status:            string(p.Status),
	}
}
