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

// InvoiceType distinguishes sales invoices from supplier bills
type InvoiceType string

const (
	// InvoiceTypeReceivable is a sales invoice (accounts receivable)
	InvoiceTypeReceivable InvoiceType = "ACCREC"
	// InvoiceTypePayable is a supplier bill (accounts payable)
	InvoiceTypePayable InvoiceType = "ACCPAY"
)

// IsValid returns true if the type is valid
func (t InvoiceType) IsValid() bool {
	return t == InvoiceTypeReceivable || t == InvoiceTypePayable
}

// InvoiceStatus follows the ledger's invoice lifecycle
type InvoiceStatus string

const (
	InvoiceStatusDraft      InvoiceStatus = "DRAFT"
	InvoiceStatusSubmitted  InvoiceStatus = "SUBMITTED"
	InvoiceStatusAuthorised InvoiceStatus = "AUTHORISED"
	InvoiceStatusPaid       InvoiceStatus = "PAID"
	InvoiceStatusVoided     InvoiceStatus = "VOIDED"
	InvoiceStatusDeleted    InvoiceStatus = "DELETED"
)

// IsValid returns true if the status is valid
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSubmitted, InvoiceStatusAuthorised,
		InvoiceStatusPaid, InvoiceStatusVoided, InvoiceStatusDeleted:
		return true
	default:
		return false
	}
}

// IsEditable reports whether lines and dates may still change
func (s InvoiceStatus) IsEditable() bool {
	return s == InvoiceStatusDraft || s == InvoiceStatusSubmitted || s == InvoiceStatusAuthorised
}

// InvoiceLine is one line of an invoice
type InvoiceLine struct {
	ID          uuid.UUID
	ExternalID  string
	LineNo      int
	Description string
	Quantity    decimal.Decimal
	UnitAmount  decimal.Decimal
	AccountCode string
	TaxType     string
	LineAmount  decimal.Decimal
}

// LineInput is a line as entered by a user
type LineInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitAmount  decimal.Decimal
	AccountCode string
	TaxType     string
}

// InvoiceDetails is the editable header of an invoice
type InvoiceDetails struct {
	Number      string
	Reference   string
	ProjectCode string
	IssueDate   time.Time
	DueDate     time.Time
	Currency    string
}

// Invoice is a sales invoice or supplier bill
type Invoice struct {
	shared.TenantAggregateRoot
	Type        InvoiceType
	Number      string
	Reference   string
	ContactID   uuid.UUID
	ProjectCode string
	IssueDate   time.Time
	DueDate     time.Time
	Currency    string
	Status      InvoiceStatus
	Lines       []InvoiceLine
	SubTotal    decimal.Decimal
	TotalTax    decimal.Decimal
	Total       decimal.Decimal
	AmountPaid  decimal.Decimal
	AmountDue   decimal.Decimal
	Sync        ledgersync.SyncInfo
}

// NewInvoice creates a draft invoice for a contact of the same tenant
func NewInvoice(tenantID uuid.UUID, typ InvoiceType, contact *Contact, details InvoiceDetails) (*Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !typ.IsValid() {
		return nil, ErrInvalidInvoiceType
	}
	if contact == nil || !contact.BelongsTo(tenantID) {
		return nil, ErrTenantMismatch
	}
	details, err := normalizeInvoiceDetails(details)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Type:                typ,
		ContactID:           contact.ID,
		Status:              InvoiceStatusDraft,
		SubTotal:            decimal.Zero,
		TotalTax:            decimal.Zero,
		Total:               decimal.Zero,
		AmountPaid:          decimal.Zero,
		AmountDue:           decimal.Zero,
		Sync:                ledgersync.NewSyncInfo(),
	}
	inv.setDetails(details)
	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))
	return inv, nil
}

// NewInvoiceFromRemote creates a local invoice for a ledger invoice seen for
// the first time. contactID is the local contact the remote one is linked to.
func NewInvoiceFromRemote(tenantID, contactID uuid.UUID, ri *ledgersync.RemoteInvoice) (*Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	typ := InvoiceType(ri.Type)
	if !typ.IsValid() {
		return nil, ErrInvalidInvoiceType
	}
	status := InvoiceStatus(strings.ToUpper(ri.Status))
	if !status.IsValid() {
		return nil, ErrInvalidInvoiceStatus
	}
	inv := &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Type:                typ,
		Number:              ri.Number,
		Reference:           ri.Reference,
		ContactID:           contactID,
		IssueDate:           ri.IssueDate,
		DueDate:             ri.DueDate,
		Currency:            strings.ToUpper(ri.Currency),
		Status:              status,
		Sync:                ledgersync.NewSyncInfo(),
	}
	inv.ReplaceLinesFromRemote(ri)
	inv.Sync.Link(ri.ExternalID)
	inv.Sync.Apply(ri.Fields(), ri.UpdatedAt, false, false)
	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))
	return inv, nil
}

// Update replaces the invoice header
func (i *Invoice) Update(details InvoiceDetails) error {
	if !i.Status.IsEditable() {
		return ErrInvoiceNotEditable
	}
	details, err := normalizeInvoiceDetails(details)
	if err != nil {
		return err
	}
	before := i.localFields()
	i.setDetails(details)
	i.afterEdit(before)
	return nil
}

// SetContact moves the invoice to another contact of the same tenant
func (i *Invoice) SetContact(contact *Contact) error {
	if contact == nil || !contact.BelongsTo(i.TenantID) {
		return ErrTenantMismatch
	}
	if contact.ID == i.ContactID {
		return nil
	}
	i.ContactID = contact.ID
	i.Sync.MarkLocalChange()
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
	return nil
}

// SetLines replaces all lines and recalculates totals
func (i *Invoice) SetLines(inputs []LineInput) error {
	if !i.Status.IsEditable() {
		return ErrInvoiceNotEditable
	}
	lines := make([]InvoiceLine, 0, len(inputs))
	for n, in := range inputs {
		desc := strings.TrimSpace(in.Description)
		if desc == "" {
			return fmt.Errorf("%w: line %d has no description", ErrInvalidLine, n+1)
		}
		if in.Quantity.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative quantity", ErrInvalidLine, n+1)
		}
		lines = append(lines, InvoiceLine{
			ID:          uuid.New(),
			LineNo:      n + 1,
			Description: desc,
			Quantity:    in.Quantity,
			UnitAmount:  in.UnitAmount,
			AccountCode: strings.TrimSpace(in.AccountCode),
			TaxType:     strings.ToUpper(strings.TrimSpace(in.TaxType)),
		})
	}
	before := i.localFields()
	i.Lines = lines
	i.Recalculate()
	i.afterEdit(before)
	return nil
}

// Recalculate derives line amounts and totals. Tax is calculated by the
// ledger, so TotalTax keeps its last pulled value.
func (i *Invoice) Recalculate() {
	sub := decimal.Zero
	for n := range i.Lines {
		i.Lines[n].LineAmount = i.Lines[n].Quantity.Mul(i.Lines[n].UnitAmount).Round(2)
		sub = sub.Add(i.Lines[n].LineAmount)
	}
	i.SubTotal = sub
	i.Total = sub.Add(i.TotalTax)
	i.recalculateDue()
}

func (i *Invoice) recalculateDue() {
	due := i.Total.Sub(i.AmountPaid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	i.AmountDue = due
}

// Authorise approves the invoice for payment
func (i *Invoice) Authorise() error {
	if i.Status != InvoiceStatusDraft && i.Status != InvoiceStatusSubmitted {
		return ErrInvalidInvoiceStatus
	}
	return i.setStatusLocal(InvoiceStatusAuthorised)
}

// Void cancels an unpaid authorised invoice
func (i *Invoice) Void() error {
	if i.Status != InvoiceStatusAuthorised || i.AmountPaid.IsPositive() {
		return ErrInvalidInvoiceStatus
	}
	return i.setStatusLocal(InvoiceStatusVoided)
}

// IsLocalStatusTransition reports whether from -> to is a step taken in this
// system (approve or void) that a sync sends to the ledger
func IsLocalStatusTransition(from, to string) bool {
	switch InvoiceStatus(to) {
	case InvoiceStatusAuthorised:
		return from == string(InvoiceStatusDraft) || from == string(InvoiceStatusSubmitted)
	case InvoiceStatusVoided:
		return from == string(InvoiceStatusAuthorised)
	default:
		return false
	}
}

func (i *Invoice) setStatusLocal(s InvoiceStatus) error {
	i.Status = s
	i.Sync.MarkLocalChange()
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
	return nil
}

// ApplyPayment adds a payment to the amount paid
func (i *Invoice) ApplyPayment(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if i.Status != InvoiceStatusAuthorised {
		return ErrInvoiceNotPayable
	}
	if amount.GreaterThan(i.AmountDue) {
		return ErrOverpayment
	}
	i.AmountPaid = i.AmountPaid.Add(amount)
	i.recalculateDue()
	if i.AmountDue.IsZero() {
		i.Status = InvoiceStatusPaid
	}
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
	return nil
}

// ReversePayment removes a deleted payment from the amount paid
func (i *Invoice) ReversePayment(amount decimal.Decimal) {
	i.AmountPaid = i.AmountPaid.Sub(amount)
	if i.AmountPaid.IsNegative() {
		i.AmountPaid = decimal.Zero
	}
	i.recalculateDue()
	if i.Status == InvoiceStatusPaid && i.AmountDue.IsPositive() {
		i.Status = InvoiceStatusAuthorised
	}
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
}

// Label is a readable identifier
func (i *Invoice) Label() string {
	if i.Number != "" {
		return i.Number
	}
	return i.ID.String()
}

// SyncFields returns the canonical snapshot of the synced fields.
// contactExternalID is the ledger ID of the invoice's contact, if linked.
func (i *Invoice) SyncFields(contactExternalID string) ledgersync.FieldSet {
	fs := i.localFields()
	fs[ledgersync.FieldContact] = contactExternalID
	return fs
}

func (i *Invoice) localFields() ledgersync.FieldSet {
	return ledgersync.MustFieldSet(ledgersync.EntityTypeInvoice, map[string]string{
		ledgersync.FieldNumber:     i.Number,
		ledgersync.FieldReference:  i.Reference,
		ledgersync.FieldIssueDate:  ledgersync.CanonicalDate(i.IssueDate),
		ledgersync.FieldDueDate:    ledgersync.CanonicalDate(i.DueDate),
		ledgersync.FieldCurrency:   i.Currency,
		ledgersync.FieldLines:      ledgersync.DigestLines(i.LineItems()),
		ledgersync.FieldStatus:     string(i.Status),
		ledgersync.FieldTotal:      ledgersync.CanonicalDecimal(i.Total),
		ledgersync.FieldTotalTax:   ledgersync.CanonicalDecimal(i.TotalTax),
		ledgersync.FieldAmountPaid: ledgersync.CanonicalDecimal(i.AmountPaid),
		ledgersync.FieldAmountDue:  ledgersync.CanonicalDecimal(i.AmountDue),
	})
}

// SetField writes one canonical scalar field. The contact reference and the
// line digest cannot be set from a value; see SetContact and ReplaceLinesFromRemote.
func (i *Invoice) SetField(field, value string) error {
	switch field {
	case ledgersync.FieldNumber:
		i.Number = value
	case ledgersync.FieldReference:
		i.Reference = value
	case ledgersync.FieldIssueDate:
		d, err := parseDate(value)
		if err != nil {
			return err
		}
		i.IssueDate = d
	case ledgersync.FieldDueDate:
		d, err := parseDate(value)
		if err != nil {
			return err
		}
		i.DueDate = d
	case ledgersync.FieldCurrency:
		i.Currency = value
	case ledgersync.FieldStatus:
		s := InvoiceStatus(value)
		if !s.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidInvoiceStatus, value)
		}
		i.Status = s
	case ledgersync.FieldTotal, ledgersync.FieldTotalTax, ledgersync.FieldAmountPaid, ledgersync.FieldAmountDue:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ledgersync.ErrInvalidFieldValue, field, value)
		}
		switch field {
		case ledgersync.FieldTotal:
			i.Total = d
		case ledgersync.FieldTotalTax:
			i.TotalTax = d
		case ledgersync.FieldAmountPaid:
			i.AmountPaid = d
		default:
			i.AmountDue = d
		}
	case ledgersync.FieldContact, ledgersync.FieldLines:
		return fmt.Errorf("%w: invoice.%s", ledgersync.ErrFieldNotSettable, field)
	default:
		return fmt.Errorf("%w: invoice.%s", ledgersync.ErrUnknownField, field)
	}
	i.Touch()
	return nil
}

// ReplaceLinesFromRemote takes the ledger's lines and amounts as they are
func (i *Invoice) ReplaceLinesFromRemote(ri *ledgersync.RemoteInvoice) {
	lines := make([]InvoiceLine, 0, len(ri.Lines))
	for n, l := range ri.Lines {
		lines = append(lines, InvoiceLine{
			ID:          uuid.New(),
			ExternalID:  l.ExternalID,
			LineNo:      n + 1,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			AccountCode: l.AccountCode,
			TaxType:     l.TaxType,
			LineAmount:  l.LineAmount,
		})
	}
	i.Lines = lines
	i.SubTotal = ri.SubTotal
	i.TotalTax = ri.TotalTax
	i.Total = ri.Total
	i.AmountPaid = ri.AmountPaid
	i.AmountDue = ri.AmountDue
	i.Touch()
}

// LineItems returns the lines in ledger-neutral form
func (i *Invoice) LineItems() []ledgersync.LineItem {
	out := make([]ledgersync.LineItem, 0, len(i.Lines))
	for _, l := range i.Lines {
		out = append(out, ledgersync.LineItem{
			ExternalID:  l.ExternalID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			AccountCode: l.AccountCode,
			TaxType:     l.TaxType,
			LineAmount:  l.LineAmount,
		})
	}
	return out
}

// ToRemote builds the ledger representation of the invoice
func (i *Invoice) ToRemote(contactExternalID string) *ledgersync.RemoteInvoice {
	return &ledgersync.RemoteInvoice{
		ExternalID:        i.Sync.ExternalID,
		Type:              string(i.Type),
		Number:            i.Number,
		Reference:         i.Reference,
		ContactExternalID: contactExternalID,
		IssueDate:         i.IssueDate,
		DueDate:           i.DueDate,
		Currency:          i.Currency,
		Status:            string(i.Status),
		Lines:             i.LineItems(),
		SubTotal:          i.SubTotal,
		TotalTax:          i.TotalTax,
		Total:             i.Total,
		AmountPaid:        i.AmountPaid,
		AmountDue:         i.AmountDue,
	}
}

func (i *Invoice) setDetails(d InvoiceDetails) {
	i.Number = d.Number
	i.Reference = d.Reference
	i.ProjectCode = d.ProjectCode
	i.IssueDate = d.IssueDate
	i.DueDate = d.DueDate
	i.Currency = d.Currency
}

func (i *Invoice) afterEdit(before ledgersync.FieldSet) {
	if !sameFields(before, i.localFields()) {
		i.Sync.MarkLocalChange()
	}
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
}

func normalizeInvoiceDetails(d InvoiceDetails) (InvoiceDetails, error) {
	d.Number = strings.TrimSpace(d.Number)
	d.Reference = strings.TrimSpace(d.Reference)
	d.ProjectCode = strings.TrimSpace(d.ProjectCode)
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	if d.Currency != "" && len(d.Currency) != 3 {
		return d, ErrInvalidCurrency
	}
	if d.IssueDate.IsZero() {
		d.IssueDate = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if !d.DueDate.IsZero() && d.DueDate.Before(d.IssueDate) {
		return d, ErrInvalidDates
	}
	if len(d.Number) > 255 || len(d.Reference) > 255 {
		return d, ErrFieldTooLong
	}
	return d, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(ledgersync.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ledgersync.ErrInvalidFieldValue, value)
	}
	return t, nil
}
