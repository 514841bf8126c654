package models

import (
	"time"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContactModel is the persistence model for the Contact aggregate
type ContactModel struct {
	TenantAggregateModel
	SyncColumns
	Kind       accounting.ContactKind `gorm:"type:varchar(20);not null"`
	Name       string                 `gorm:"type:varchar(255);not null;index"`
	Email      string                 `gorm:"type:varchar(255);index"`
	Phone      string                 `gorm:"type:varchar(50)"`
	TaxNumber  string                 `gorm:"type:varchar(50)"`
	AddrLine1  string                 `gorm:"type:varchar(255);column:address_line1"`
	City       string                 `gorm:"type:varchar(255)"`
	PostalCode string                 `gorm:"type:varchar(50)"`
	Country    string                 `gorm:"type:varchar(100)"`
	Archived   bool                   `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (ContactModel) TableName() string {
	return "contacts"
}

// ToDomain converts the persistence model to a domain Contact
func (m *ContactModel) ToDomain() *accounting.Contact {
	c := &accounting.Contact{
		Kind:      m.Kind,
		Name:      m.Name,
		Email:     m.Email,
		Phone:     m.Phone,
		TaxNumber: m.TaxNumber,
		Address: accounting.Address{
			Line1:      m.AddrLine1,
			City:       m.City,
			PostalCode: m.PostalCode,
			Country:    m.Country,
		},
		Archived: m.Archived,
		Sync:     m.ToSyncInfo(),
	}
	m.PopulateTenantAggregateRoot(&c.TenantAggregateRoot)
	return c
}

// FromDomain populates the persistence model from a domain Contact
func (m *ContactModel) FromDomain(c *accounting.Contact) {
	m.FromDomainTenantAggregateRoot(c.TenantAggregateRoot)
	m.FromSyncInfo(c.Sync)
	m.Kind = c.Kind
	m.Name = c.Name
	m.Email = c.Email
	m.Phone = c.Phone
	m.TaxNumber = c.TaxNumber
	m.AddrLine1 = c.Address.Line1
	m.City = c.Address.City
	m.PostalCode = c.Address.PostalCode
	m.Country = c.Address.Country
	m.Archived = c.Archived
}

// ContactModelFromDomain creates a new persistence model from a domain Contact
func ContactModelFromDomain(c *accounting.Contact) *ContactModel {
	m := &ContactModel{}
	m.FromDomain(c)
	return m
}

// InvoiceModel is the persistence model for the Invoice aggregate root
type InvoiceModel struct {
	TenantAggregateModel
	SyncColumns
	Type        accounting.InvoiceType   `gorm:"type:varchar(10);not null;index"`
	Number      string                   `gorm:"type:varchar(50);index"`
	Reference   string                   `gorm:"type:varchar(255)"`
	ContactID   uuid.UUID                `gorm:"type:uuid;not null;index"`
	ProjectCode string                   `gorm:"type:varchar(50);index"`
	IssueDate   time.Time                `gorm:"type:date;not null"`
	DueDate     time.Time                `gorm:"type:date;not null"`
	Currency    string                   `gorm:"type:varchar(3);not null"`
	Status      accounting.InvoiceStatus `gorm:"type:varchar(20);not null;index"`
	SubTotal    decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	TotalTax    decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Total       decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	AmountPaid  decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	AmountDue   decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Lines       []InvoiceLineModel       `gorm:"foreignKey:InvoiceID;references:ID"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *accounting.Invoice {
	inv := &accounting.Invoice{
		Type:        m.Type,
		Number:      m.Number,
		Reference:   m.Reference,
		ContactID:   m.ContactID,
		ProjectCode: m.ProjectCode,
		IssueDate:   m.IssueDate,
		DueDate:     m.DueDate,
		Currency:    m.Currency,
		Status:      m.Status,
		SubTotal:    m.SubTotal,
		TotalTax:    m.TotalTax,
		Total:       m.Total,
		AmountPaid:  m.AmountPaid,
		AmountDue:   m.AmountDue,
		Sync:        m.ToSyncInfo(),
		Lines:       make([]accounting.InvoiceLine, 0, len(m.Lines)),
	}
	m.PopulateTenantAggregateRoot(&inv.TenantAggregateRoot)
	for i := range m.Lines {
		inv.Lines = append(inv.Lines, m.Lines[i].ToDomain())
	}
	return inv
}

// FromDomain populates the persistence model from a domain Invoice
func (m *InvoiceModel) FromDomain(inv *accounting.Invoice) {
	m.FromDomainTenantAggregateRoot(inv.TenantAggregateRoot)
	m.FromSyncInfo(inv.Sync)
	m.Type = inv.Type
	m.Number = inv.Number
	m.Reference = inv.Reference
	m.ContactID = inv.ContactID
	m.ProjectCode = inv.ProjectCode
	m.IssueDate = dateOnly(inv.IssueDate)
	m.DueDate = dateOnly(inv.DueDate)
	m.Currency = inv.Currency
	m.Status = inv.Status
	m.SubTotal = inv.SubTotal
	m.TotalTax = inv.TotalTax
	m.Total = inv.Total
	m.AmountPaid = inv.AmountPaid
	m.AmountDue = inv.AmountDue
	m.Lines = make([]InvoiceLineModel, len(inv.Lines))
	for i := range inv.Lines {
		m.Lines[i] = InvoiceLineModelFromDomain(inv.ID, &inv.Lines[i])
	}
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice
func InvoiceModelFromDomain(inv *accounting.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// InvoiceLineModel is one line item of an invoice
type InvoiceLineModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExternalID  string          `gorm:"type:varchar(64)"`
	LineNo      int             `gorm:"not null"`
	Description string          `gorm:"type:text;not null"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	AccountCode string          `gorm:"type:varchar(20)"`
	TaxType     string          `gorm:"type:varchar(30)"`
	LineAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null"`
}

// TableName returns the table name for GORM
func (InvoiceLineModel) TableName() string {
	return "invoice_lines"
}

// ToDomain converts the persistence model to a domain InvoiceLine
func (m *InvoiceLineModel) ToDomain() accounting.InvoiceLine {
	return accounting.InvoiceLine{
		ID:          m.ID,
		ExternalID:  m.ExternalID,
		LineNo:      m.LineNo,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitAmount:  m.UnitAmount,
		AccountCode: m.AccountCode,
		TaxType:     m.TaxType,
		LineAmount:  m.LineAmount,
	}
}

// InvoiceLineModelFromDomain creates a line model owned by invoiceID
func InvoiceLineModelFromDomain(invoiceID uuid.UUID, l *accounting.InvoiceLine) InvoiceLineModel {
	return InvoiceLineModel{
		ID:          l.ID,
		InvoiceID:   invoiceID,
		ExternalID:  l.ExternalID,
		LineNo:      l.LineNo,
		Description: l.Description,
		Quantity:    l.Quantity,
		UnitAmount:  l.UnitAmount,
		AccountCode: l.AccountCode,
		TaxType:     l.TaxType,
		LineAmount:  l.LineAmount,
	}
}

// PaymentModel is the persistence model for the Payment aggregate
type PaymentModel struct {
	TenantAggregateModel
	SyncColumns
	InvoiceID   uuid.UUID                `gorm:"type:uuid;not null;index"`
	Date        time.Time                `gorm:"type:date;not null"`
	Amount      decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Reference   string                   `gorm:"type:varchar(255)"`
	AccountCode string                   `gorm:"type:varchar(20)"`
	Status      accounting.PaymentStatus `gorm:"type:varchar(20);not null;index"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() *accounting.Payment {
	p := &accounting.Payment{
		InvoiceID:   m.InvoiceID,
		Date:        m.Date,
		Amount:      m.Amount,
		Reference:   m.Reference,
		AccountCode: m.AccountCode,
		Status:      m.Status,
		Sync:        m.ToSyncInfo(),
	}
	m.PopulateTenantAggregateRoot(&p.TenantAggregateRoot)
	return p
}

// FromDomain populates the persistence model from a domain Payment
func (m *PaymentModel) FromDomain(p *accounting.Payment) {
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	m.FromSyncInfo(p.Sync)
	m.InvoiceID = p.InvoiceID
	m.Date = dateOnly(p.Date)
	m.Amount = p.Amount
	m.Reference = p.Reference
	m.AccountCode = p.AccountCode
	m.Status = p.Status
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment
func PaymentModelFromDomain(p *accounting.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

