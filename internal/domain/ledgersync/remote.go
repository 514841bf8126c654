package ledgersync

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Remote records as returned by the ledger
// ---------------------------------------------------------------------------

// RemoteRecord is the common view of a ledger record used by the sync engine
type RemoteRecord interface {
	GetExternalID() string
	GetUpdatedAt() time.Time
	// Fields returns the canonical snapshot of the record's synced fields
	Fields() FieldSet
	// Label is a short human-readable identifier (name or number)
	Label() string
}

// RemoteContact is a ledger contact
type RemoteContact struct {
	ExternalID   string
	Name         string
	Email        string
	Phone        string
	TaxNumber    string
	AddressLine1 string
	City         string
	PostalCode   string
	Country      string
	IsCustomer   bool
	IsSupplier   bool
	Archived     bool
	UpdatedAt    time.Time
}

// GetExternalID implements RemoteRecord
func (c *RemoteContact) GetExternalID() string { return c.ExternalID }

// GetUpdatedAt implements RemoteRecord
func (c *RemoteContact) GetUpdatedAt() time.Time { return c.UpdatedAt }

// Label implements RemoteRecord
func (c *RemoteContact) Label() string { return c.Name }

// Fields implements RemoteRecord
func (c *RemoteContact) Fields() FieldSet {
	return MustFieldSet(EntityTypeContact, map[string]string{
		FieldName:         c.Name,
		FieldEmail:        c.Email,
		FieldPhone:        c.Phone,
		FieldTaxNumber:    c.TaxNumber,
		FieldAddressLine1: c.AddressLine1,
		FieldCity:         c.City,
		FieldPostalCode:   c.PostalCode,
		FieldCountry:      c.Country,
		FieldArchived:     CanonicalBool(c.Archived),
	})
}

// RemoteInvoice is a ledger invoice or bill
type RemoteInvoice struct {
	ExternalID        string
	Type              string // ACCREC or ACCPAY
	Number            string
	Reference         string
	ContactExternalID string
	ContactName       string
	IssueDate         time.Time
	DueDate           time.Time
	Currency          string
	Status            string
	Lines             []LineItem
	SubTotal          decimal.Decimal
	TotalTax          decimal.Decimal
	Total             decimal.Decimal
	AmountPaid        decimal.Decimal
	AmountDue         decimal.Decimal
	UpdatedAt         time.Time
}

// GetExternalID implements RemoteRecord
func (i *RemoteInvoice) GetExternalID() string { return i.ExternalID }

// GetUpdatedAt implements RemoteRecord
func (i *RemoteInvoice) GetUpdatedAt() time.Time { return i.UpdatedAt }

// Label implements RemoteRecord
func (i *RemoteInvoice) Label() string { return i.Number }

// Fields implements RemoteRecord
func (i *RemoteInvoice) Fields() FieldSet {
	return MustFieldSet(EntityTypeInvoice, map[string]string{
		FieldContact:    i.ContactExternalID,
		FieldNumber:     i.Number,
		FieldReference:  i.Reference,
		FieldIssueDate:  CanonicalDate(i.IssueDate),
		FieldDueDate:    CanonicalDate(i.DueDate),
		FieldCurrency:   i.Currency,
		FieldLines:      DigestLines(i.Lines),
		FieldStatus:     i.Status,
		FieldTotal:      CanonicalDecimal(i.Total),
		FieldTotalTax:   CanonicalDecimal(i.TotalTax),
		FieldAmountPaid: CanonicalDecimal(i.AmountPaid),
		FieldAmountDue:  CanonicalDecimal(i.AmountDue),
	})
}

// RemotePayment is a ledger payment applied to an invoice
type RemotePayment struct {
	ExternalID        string
	InvoiceExternalID string
	InvoiceNumber     string
	Date              time.Time
	Amount            decimal.Decimal
	Reference         string
	AccountCode       string
	Status            string
	UpdatedAt         time.Time
}

// GetExternalID implements RemoteRecord
func (p *RemotePayment) GetExternalID() string { return p.ExternalID }

// GetUpdatedAt implements RemoteRecord
func (p *RemotePayment) GetUpdatedAt() time.Time { return p.UpdatedAt }

// Label implements RemoteRecord
func (p *RemotePayment) Label() string {
	return p.InvoiceNumber + " " + CanonicalDate(p.Date) + " " + CanonicalDecimal(p.Amount)
}

// Fields implements RemoteRecord
func (p *RemotePayment) Fields() FieldSet {
	return MustFieldSet(EntityTypePayment, map[string]string{
		FieldAmount:    CanonicalDecimal(p.Amount),
		FieldDate:      CanonicalDate(p.Date),
		FieldReference: p.Reference,
		FieldStatus:    p.Status,
	})
}

var (
	_ RemoteRecord = (*RemoteContact)(nil)
	_ RemoteRecord = (*RemoteInvoice)(nil)
	_ RemoteRecord = (*RemotePayment)(nil)
)

// ---------------------------------------------------------------------------
// LedgerClient port
// ---------------------------------------------------------------------------

// LedgerTenant identifies the organisation a call is made against
type LedgerTenant struct {
	// TenantID is the ledger's tenant (organisation) identifier
	TenantID string
	// AccessToken is a valid bearer token for the tenant
	AccessToken string
}

// ListQuery selects a page of records modified since a point in time
type ListQuery struct {
	// ModifiedSince limits results to records updated after this time (zero = all)
	ModifiedSince time.Time
	// Page is 1-based
	Page int
}

// Page is one page of remote records
type Page[T any] struct {
	Items []T
	// HasMore is true when another page may exist
	HasMore bool
}

// LedgerConnection is an organisation the user granted access to
type LedgerConnection struct {
	ConnectionID string
	TenantID     string
	TenantName   string
	TenantType   string
}

// LedgerClient is the port to the external ledger's REST API
type LedgerClient interface {
	ListContacts(ctx context.Context, t LedgerTenant, q ListQuery) (*Page[*RemoteContact], error)
	GetContact(ctx context.Context, t LedgerTenant, externalID string) (*RemoteContact, error)
	// SaveContact creates the contact when ExternalID is empty, otherwise updates
	// only the named fields. It returns the ledger's copy after the write.
	SaveContact(ctx context.Context, t LedgerTenant, c *RemoteContact, fields []string) (*RemoteContact, error)

	ListInvoices(ctx context.Context, t LedgerTenant, q ListQuery) (*Page[*RemoteInvoice], error)
	GetInvoice(ctx context.Context, t LedgerTenant, externalID string) (*RemoteInvoice, error)
	SaveInvoice(ctx context.Context, t LedgerTenant, inv *RemoteInvoice, fields []string) (*RemoteInvoice, error)

	ListPayments(ctx context.Context, t LedgerTenant, q ListQuery) (*Page[*RemotePayment], error)
	GetPayment(ctx context.Context, t LedgerTenant, externalID string) (*RemotePayment, error)
	// CreatePayment records a new payment; ledger payments cannot be edited
	CreatePayment(ctx context.Context, t LedgerTenant, p *RemotePayment) (*RemotePayment, error)
	DeletePayment(ctx context.Context, t LedgerTenant, externalID string) error

	// Connections lists the organisations the access token is authorized for
	Connections(ctx context.Context, accessToken string) ([]LedgerConnection, error)
	// RemoveConnection revokes the app's access to one organisation
	RemoveConnection(ctx context.Context, accessToken, connectionID string) error
}
