package xero

import (
	"strings"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// ---------------------------------------------------------------------------
// Wire to domain
// ---------------------------------------------------------------------------

func (c *contact) toDomain() *ledgersync.RemoteContact {
	rc := &ledgersync.RemoteContact{
		ExternalID: c.ContactID,
		Name:       c.Name,
		Email:      c.EmailAddress,
		TaxNumber:  c.TaxNumber,
		IsCustomer: c.IsCustomer,
		IsSupplier: c.IsSupplier,
		Archived:   c.ContactStatus == contactArchived,
		UpdatedAt:  c.UpdatedDateUTC.Time,
	}
	for _, p := range c.Phones {
		if p.PhoneType == phoneTypeDefault {
			rc.Phone = joinNonEmpty(p.PhoneCountryCode, p.PhoneAreaCode, p.PhoneNumber)
			break
		}
	}
	if a := pickAddress(c.Addresses); a != nil {
		rc.AddressLine1 = a.AddressLine1
		rc.City = a.City
		rc.PostalCode = a.PostalCode
		rc.Country = a.Country
	}
	return rc
}

// pickAddress prefers the street address, falling back to the postal one
func pickAddress(addrs []address) *address {
	var fallback *address
	for i := range addrs {
		a := &addrs[i]
		if a.AddressLine1 == "" && a.City == "" && a.PostalCode == "" && a.Country == "" {
			continue
		}
		if a.AddressType == addressTypeStreet {
			return a
		}
		if fallback == nil && a.AddressType == addressTypePOBox {
			fallback = a
		}
	}
	return fallback
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func (i *invoice) toDomain() *ledgersync.RemoteInvoice {
	ri := &ledgersync.RemoteInvoice{
		ExternalID:        i.InvoiceID,
		Type:              i.Type,
		Number:            i.InvoiceNumber,
		Reference:         i.Reference,
		ContactExternalID: i.Contact.ContactID,
		ContactName:       i.Contact.Name,
		IssueDate:         pickDate(i.DateString, i.Date),
		DueDate:           pickDate(i.DueDateString, i.DueDate),
		Currency:          i.CurrencyCode,
		Status:            i.Status,
		SubTotal:          i.SubTotal,
		TotalTax:          i.TotalTax,
		Total:             i.Total,
		AmountPaid:        i.AmountPaid,
		AmountDue:         i.AmountDue,
		UpdatedAt:         i.UpdatedDateUTC.Time,
	}
	ri.Lines = make([]ledgersync.LineItem, 0, len(i.LineItems))
	for _, l := range i.LineItems {
		ri.Lines = append(ri.Lines, ledgersync.LineItem{
			ExternalID:  l.LineItemID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			AccountCode: l.AccountCode,
			TaxType:     l.TaxType,
			LineAmount:  l.LineAmount,
		})
	}
	return ri
}

func (p *payment) toDomain() *ledgersync.RemotePayment {
	return &ledgersync.RemotePayment{
		ExternalID:        p.PaymentID,
		InvoiceExternalID: p.Invoice.InvoiceID,
		InvoiceNumber:     p.Invoice.InvoiceNumber,
		Date:              p.Date.Time,
		Amount:            p.Amount,
		Reference:         p.Reference,
		AccountCode:       p.Account.Code,
		Status:            p.Status,
		UpdatedAt:         p.UpdatedDateUTC.Time,
	}
}

func (c *connection) toDomain() ledgersync.LedgerConnection {
	return ledgersync.LedgerConnection{
		ConnectionID: c.ID,
		TenantID:     c.TenantID,
		TenantName:   c.TenantName,
		TenantType:   c.TenantType,
	}
}

// ---------------------------------------------------------------------------
// Domain to write payloads
//
// Updates carry only the requested fields so that ledger-owned values the
// caller did not intend to touch are left alone.
// ---------------------------------------------------------------------------

type payload map[string]any

// wants reports whether field belongs in the payload. Creates send everything.
func wants(fields []string, create bool) func(string) bool {
	if create {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return func(f string) bool {
		_, ok := set[f]
		return ok
	}
}

func contactPayload(c *ledgersync.RemoteContact, fields []string) payload {
	create := c.ExternalID == ""
	want := wants(fields, create)
	p := payload{}
	if !create {
		p["ContactID"] = c.ExternalID
	}
	if want(ledgersync.FieldName) {
		p["Name"] = c.Name
	}
	if want(ledgersync.FieldEmail) {
		p["EmailAddress"] = c.Email
	}
	if want(ledgersync.FieldTaxNumber) {
		p["TaxNumber"] = c.TaxNumber
	}
	if want(ledgersync.FieldPhone) {
		p["Phones"] = []phone{{PhoneType: phoneTypeDefault, PhoneNumber: c.Phone}}
	}
	if want(ledgersync.FieldAddressLine1) || want(ledgersync.FieldCity) ||
		want(ledgersync.FieldPostalCode) || want(ledgersync.FieldCountry) {
		// Xero replaces an address as a whole, so any part sends all of it
		p["Addresses"] = []address{{
			AddressType:  addressTypeStreet,
			AddressLine1: c.AddressLine1,
			City:         c.City,
			PostalCode:   c.PostalCode,
			Country:      c.Country,
		}}
	}
	if want(ledgersync.FieldArchived) {
		status := contactActive
		if c.Archived {
			status = contactArchived
		}
		p["ContactStatus"] = status
	}
	return p
}

func invoicePayload(inv *ledgersync.RemoteInvoice, fields []string) payload {
	create := inv.ExternalID == ""
	want := wants(fields, create)
	p := payload{}
	if create {
		p["Type"] = inv.Type
	} else {
		p["InvoiceID"] = inv.ExternalID
	}
	if want(ledgersync.FieldContact) {
		p["Contact"] = contactRef{ContactID: inv.ContactExternalID}
	}
	if want(ledgersync.FieldNumber) && inv.Number != "" {
		p["InvoiceNumber"] = inv.Number
	}
	if want(ledgersync.FieldReference) {
		p["Reference"] = inv.Reference
	}
	if want(ledgersync.FieldIssueDate) && !inv.IssueDate.IsZero() {
		p["Date"] = inv.IssueDate.Format(dateLayout)
	}
	if want(ledgersync.FieldDueDate) && !inv.DueDate.IsZero() {
		p["DueDate"] = inv.DueDate.Format(dateLayout)
	}
	if want(ledgersync.FieldCurrency) && inv.Currency != "" {
		p["CurrencyCode"] = inv.Currency
	}
	if want(ledgersync.FieldStatus) && inv.Status != "" {
		p["Status"] = inv.Status
	}
	if want(ledgersync.FieldLines) {
		lines := make([]payload, 0, len(inv.Lines))
		for _, l := range inv.Lines {
			lp := payload{
				"Description": l.Description,
				"Quantity":    amount(l.Quantity),
				"UnitAmount":  amount(l.UnitAmount),
			}
			if l.ExternalID != "" {
				lp["LineItemID"] = l.ExternalID
			}
			if l.AccountCode != "" {
				lp["AccountCode"] = l.AccountCode
			}
			if l.TaxType != "" {
				lp["TaxType"] = l.TaxType
			}
			lines = append(lines, lp)
		}
		p["LineItems"] = lines
	}
	return p
}

func paymentPayload(rp *ledgersync.RemotePayment) payload {
	p := payload{
		"Invoice": invoiceRef{InvoiceID: rp.InvoiceExternalID},
		"Account": accountRef{Code: rp.AccountCode},
		"Date":    rp.Date.Format(dateLayout),
		"Amount":  amount(rp.Amount),
	}
	if rp.Reference != "" {
		p["Reference"] = rp.Reference
	}
	return p
}
