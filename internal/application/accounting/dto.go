package accounting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
)

// =============================================================================
// Sync status
// =============================================================================

// SyncStatusResponse is the sync bookkeeping shown with every synced record
type SyncStatusResponse struct {
	ExternalID   string     `json:"external_id,omitempty"`
	State        string     `json:"state"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

func toSyncStatus(s ledgersync.SyncInfo) SyncStatusResponse {
	return SyncStatusResponse{
		ExternalID:   s.ExternalID,
		State:        string(s.State),
		LastSyncedAt: s.LastSyncedAt,
		LastError:    s.LastError,
	}
}

// =============================================================================
// Contact DTOs
// =============================================================================

// AddressDTO is a postal address
type AddressDTO struct {
	Line1      string `json:"line1" binding:"max=500"`
	City       string `json:"city" binding:"max=255"`
	PostalCode string `json:"postal_code" binding:"max=50"`
	Country    string `json:"country" binding:"max=100"`
}

// CreateContactRequest creates a contact
// @Description Request body for creating a contact
type CreateContactRequest struct {
	Kind      string     `json:"kind" binding:"required,oneof=CUSTOMER SUPPLIER BOTH"`
	Name      string     `json:"name" binding:"required,min=1,max=255"`
	Email     string     `json:"email" binding:"omitempty,email,max=255"`
	Phone     string     `json:"phone" binding:"max=50"`
	TaxNumber string     `json:"tax_number" binding:"max=50"`
	Address   AddressDTO `json:"address"`
}

// UpdateContactRequest updates a contact; nil fields are left unchanged
// @Description Request body for a partial contact update
type UpdateContactRequest struct {
	Name      *string     `json:"name" binding:"omitempty,min=1,max=255"`
	Email     *string     `json:"email" binding:"omitempty,max=255"`
	Phone     *string     `json:"phone" binding:"omitempty,max=50"`
	TaxNumber *string     `json:"tax_number" binding:"omitempty,max=50"`
	Address   *AddressDTO `json:"address"`
	Archived  *bool       `json:"archived"`
}

// ContactListFilter selects contacts
type ContactListFilter struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	Search    string `form:"search"`
	Kind      string `form:"kind" binding:"omitempty,oneof=CUSTOMER SUPPLIER BOTH"`
	Archived  *bool  `form:"archived"`
	SyncState string `form:"sync_state"`
}

// ContactResponse is a contact in API responses
// @Description Contact with its sync state
type ContactResponse struct {
	ID        uuid.UUID          `json:"id"`
	Kind      string             `json:"kind"`
	Name      string             `json:"name"`
	Email     string             `json:"email,omitempty"`
	Phone     string             `json:"phone,omitempty"`
	TaxNumber string             `json:"tax_number,omitempty"`
	Address   AddressDTO         `json:"address"`
	Archived  bool               `json:"archived"`
	Sync      SyncStatusResponse `json:"sync"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ToContactResponse converts a domain contact
func ToContactResponse(c *accounting.Contact) ContactResponse {
	return ContactResponse{
		ID:        c.ID,
		Kind:      string(c.Kind),
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		TaxNumber: c.TaxNumber,
		Address: AddressDTO{
			Line1:      c.Address.Line1,
			City:       c.Address.City,
			PostalCode: c.Address.PostalCode,
			Country:    c.Address.Country,
		},
		Archived:  c.Archived,
		Sync:      toSyncStatus(c.Sync),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// =============================================================================
// Invoice DTOs
// =============================================================================

// InvoiceLineDTO is one invoice line
type InvoiceLineDTO struct {
	Description string          `json:"description" binding:"required,max=4000"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	AccountCode string          `json:"account_code" binding:"max=10"`
	TaxType     string          `json:"tax_type" binding:"max=50"`
	LineAmount  decimal.Decimal `json:"line_amount"`
}

// CreateInvoiceRequest creates a draft invoice
// @Description Request body for creating an invoice
type CreateInvoiceRequest struct {
	Type        string           `json:"type" binding:"required,oneof=ACCREC ACCPAY"`
	ContactID   uuid.UUID        `json:"contact_id" binding:"required"`
	Number      string           `json:"number" binding:"max=255"`
	Reference   string           `json:"reference" binding:"max=255"`
	ProjectCode string           `json:"project_code" binding:"max=50"`
	IssueDate   *time.Time       `json:"issue_date"`
	DueDate     *time.Time       `json:"due_date"`
	Currency    string           `json:"currency" binding:"omitempty,len=3"`
	Lines       []InvoiceLineDTO `json:"lines" binding:"dive"`
	Authorise   bool             `json:"authorise"`
}

// UpdateInvoiceRequest updates an invoice; nil fields are left unchanged
// @Description Request body for a partial invoice update
type UpdateInvoiceRequest struct {
	ContactID   *uuid.UUID        `json:"contact_id"`
	Number      *string           `json:"number" binding:"omitempty,max=255"`
	Reference   *string           `json:"reference" binding:"omitempty,max=255"`
	ProjectCode *string           `json:"project_code" binding:"omitempty,max=50"`
	IssueDate   *time.Time        `json:"issue_date"`
	DueDate     *time.Time        `json:"due_date"`
	Currency    *string           `json:"currency" binding:"omitempty,len=3"`
	Lines       *[]InvoiceLineDTO `json:"lines"`
	Status      *string           `json:"status" binding:"omitempty,oneof=AUTHORISED VOIDED"`
}

// InvoiceListFilter selects invoices
type InvoiceListFilter struct {
	Page      int        `form:"page"`
	PageSize  int        `form:"page_size"`
	Search    string     `form:"search"`
	Type      string     `form:"type" binding:"omitempty,oneof=ACCREC ACCPAY"`
	Status    string     `form:"status"`
	ContactID *uuid.UUID `form:"contact_id"`
	SyncState string     `form:"sync_state"`
}

// InvoiceResponse is an invoice in API responses
// @Description Invoice with its lines and sync state
type InvoiceResponse struct {
	ID          uuid.UUID          `json:"id"`
	Type        string             `json:"type"`
	Number      string             `json:"number"`
	Reference   string             `json:"reference,omitempty"`
	ContactID   uuid.UUID          `json:"contact_id"`
	ProjectCode string             `json:"project_code,omitempty"`
	IssueDate   string             `json:"issue_date"`
	DueDate     string             `json:"due_date,omitempty"`
	Currency    string             `json:"currency"`
	Status      string             `json:"status"`
	Lines       []InvoiceLineDTO   `json:"lines"`
	SubTotal    decimal.Decimal    `json:"sub_total"`
	TotalTax    decimal.Decimal    `json:"total_tax"`
	Total       decimal.Decimal    `json:"total"`
	AmountPaid  decimal.Decimal    `json:"amount_paid"`
	AmountDue   decimal.Decimal    `json:"amount_due"`
	Sync        SyncStatusResponse `json:"sync"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ToInvoiceResponse converts a domain invoice
func ToInvoiceResponse(inv *accounting.Invoice) InvoiceResponse {
	lines := make([]InvoiceLineDTO, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, InvoiceLineDTO{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			AccountCode: l.AccountCode,
			TaxType:     l.TaxType,
			LineAmount:  l.LineAmount,
		})
	}
	return InvoiceResponse{
		ID:          inv.ID,
		Type:        string(inv.Type),
		Number:      inv.Number,
		Reference:   inv.Reference,
		ContactID:   inv.ContactID,
		ProjectCode: inv.ProjectCode,
		IssueDate:   ledgersync.CanonicalDate(inv.IssueDate),
		DueDate:     ledgersync.CanonicalDate(inv.DueDate),
		Currency:    inv.Currency,
		Status:      string(inv.Status),
		Lines:       lines,
		SubTotal:    inv.SubTotal,
		TotalTax:    inv.TotalTax,
		Total:       inv.Total,
		AmountPaid:  inv.AmountPaid,
		AmountDue:   inv.AmountDue,
		Sync:        toSyncStatus(inv.Sync),
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
}

// =============================================================================
// Payment DTOs
// =============================================================================

// RecordPaymentRequest records a payment against an invoice
// @Description Request body for recording a payment
type RecordPaymentRequest struct {
	InvoiceID   uuid.UUID       `json:"invoice_id" binding:"required"`
	Date        time.Time       `json:"date" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" binding:"max=255"`
	AccountCode string          `json:"account_code" binding:"max=10"`
}

// PaymentListFilter selects payments
type PaymentListFilter struct {
	Page      int        `form:"page"`
	PageSize  int        `form:"page_size"`
	InvoiceID *uuid.UUID `form:"invoice_id"`
	Status    string     `form:"status" binding:"omitempty,oneof=AUTHORISED DELETED"`
}

// PaymentResponse is a payment in API responses
// @Description Payment with its sync state
type PaymentResponse struct {
	ID          uuid.UUID          `json:"id"`
	InvoiceID   uuid.UUID          `json:"invoice_id"`
	Date        string             `json:"date"`
	Amount      decimal.Decimal    `json:"amount"`
	Reference   string             `json:"reference,omitempty"`
	AccountCode string             `json:"account_code,omitempty"`
	Status      string             `json:"status"`
	Sync        SyncStatusResponse `json:"sync"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ToPaymentResponse converts a domain payment
func ToPaymentResponse(p *accounting.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          p.ID,
		InvoiceID:   p.InvoiceID,
		Date:        ledgersync.CanonicalDate(p.Date),
		Amount:      p.Amount,
		Reference:   p.Reference,
		AccountCode: p.AccountCode,
		Status:      string(p.Status),
		Sync:        toSyncStatus(p.Sync),
		CreatedAt:   p.CreatedAt,
	}
}
