package accounting

import (
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregate type constants
const (
	AggregateTypeContact = "Contact"
	AggregateTypeInvoice = "Invoice"
	AggregateTypePayment = "Payment"
)

// Event type constants
const (
	EventTypeContactCreated  = "accounting.ContactCreated"
	EventTypeInvoiceCreated  = "accounting.InvoiceCreated"
	EventTypePaymentRecorded = "accounting.PaymentRecorded"
)

// ContactCreatedEvent is published when a contact is created
type ContactCreatedEvent struct {
	shared.BaseDomainEvent
	ContactID uuid.UUID   `json:"contact_id"`
	Name      string      `json:"name"`
	Kind      ContactKind `json:"kind"`
}

// NewContactCreatedEvent creates a new ContactCreatedEvent
func NewContactCreatedEvent(c *Contact) *ContactCreatedEvent {
	return &ContactCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeContactCreated, AggregateTypeContact, c.ID, c.TenantID),
		ContactID:       c.ID,
		Name:            c.Name,
		Kind:            c.Kind,
	}
}

// InvoiceCreatedEvent is published when an invoice is created
type InvoiceCreatedEvent struct {
	shared.BaseDomainEvent
	InvoiceID uuid.UUID   `json:"invoice_id"`
	Type      InvoiceType `json:"type"`
	Number    string      `json:"number,omitempty"`
	ContactID uuid.UUID   `json:"contact_id"`
}

// NewInvoiceCreatedEvent creates a new InvoiceCreatedEvent
func NewInvoiceCreatedEvent(inv *Invoice) *InvoiceCreatedEvent {
	return &InvoiceCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceCreated, AggregateTypeInvoice, inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		Type:            inv.Type,
		Number:          inv.Number,
		ContactID:       inv.ContactID,
	}
}

// PaymentRecordedEvent is published when a payment is recorded locally
type PaymentRecordedEvent struct {
	shared.BaseDomainEvent
	PaymentID uuid.UUID       `json:"payment_id"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// NewPaymentRecordedEvent creates a new PaymentRecordedEvent
func NewPaymentRecordedEvent(p *Payment) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentRecorded, AggregateTypePayment, p.ID, p.TenantID),
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		Amount:          p.Amount,
	}
}
