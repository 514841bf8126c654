package accounting

import (
	"context"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContactFilter selects contacts for listing
type ContactFilter struct {
	shared.Filter
	Kind      ContactKind
	Archived  *bool
	SyncState ledgersync.SyncState
}

// ContactRepository persists contacts
type ContactRepository interface {
	Save(ctx context.Context, c *Contact) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error)
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*Contact, error)
	// FindMatch finds an unlinked contact with the same name (case-insensitive)
	// or, failing that, the same email. Returns ErrContactNotFound when none.
	FindMatch(ctx context.Context, tenantID uuid.UUID, name, email string) (*Contact, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ContactFilter) ([]Contact, int64, error)
	// FindPendingPush returns contacts never synced or with unpushed changes
	FindPendingPush(ctx context.Context, tenantID uuid.UUID, limit int) ([]Contact, error)
	ListAll(ctx context.Context, tenantID uuid.UUID) ([]Contact, error)
}

// InvoiceFilter selects invoices for listing
type InvoiceFilter struct {
	shared.Filter
	Type      InvoiceType
	Status    InvoiceStatus
	ContactID *uuid.UUID
	SyncState ledgersync.SyncState
}

// InvoiceRepository persists invoices with their lines
type InvoiceRepository interface {
	Save(ctx context.Context, inv *Invoice) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*Invoice, error)
	// FindByNumber finds an unlinked invoice of the type with the number
	FindByNumber(ctx context.Context, tenantID uuid.UUID, typ InvoiceType, number string) (*Invoice, error)
	List(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) ([]Invoice, int64, error)
	FindPendingPush(ctx context.Context, tenantID uuid.UUID, limit int) ([]Invoice, error)
	ListAll(ctx context.Context, tenantID uuid.UUID) ([]Invoice, error)
}

// PaymentFilter selects payments for listing
type PaymentFilter struct {
	shared.Filter
	InvoiceID *uuid.UUID
	Status    PaymentStatus
}

// PaymentRepository persists payments
type PaymentRepository interface {
	Save(ctx context.Context, p *Payment) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*Payment, error)
	// FindMatch finds an unlinked payment on the invoice with the same date and amount
	FindMatch(ctx context.Context, tenantID, invoiceID uuid.UUID, date time.Time, amount decimal.Decimal) (*Payment, error)
	List(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) ([]Payment, int64, error)
	FindPendingPush(ctx context.Context, tenantID uuid.UUID, limit int) ([]Payment, error)
	ListAll(ctx context.Context, tenantID uuid.UUID) ([]Payment, error)
}
