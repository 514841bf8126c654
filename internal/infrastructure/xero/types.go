package xero

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Dates
// ---------------------------------------------------------------------------

// dotNetDate matches the MS-JSON form Xero uses, e.g. /Date(1518685950940+0000)/
var dotNetDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// isoLayouts are the plain layouts Xero uses in *DateString fields
var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339Nano,
	"2006-01-02",
}

// Time decodes either date form Xero emits. The zero value marshals as null.
type Time struct {
	time.Time
}

// ParseTime parses a Xero date string
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if m := dotNetDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("xero: bad date %q: %w", s, err)
		}
		// the millisecond value is already UTC; the offset is informational
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("xero: unrecognised date %q", s)
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON writes the day-precision form Xero accepts on writes
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(dateLayout))
}

const dateLayout = "2006-01-02"

// pickDate prefers the DateString form, which carries the organisation's day
func pickDate(dateString string, date Time) time.Time {
	if dateString != "" {
		if t, err := ParseTime(dateString); err == nil {
			return t
		}
	}
	return date.Time
}

// amount renders a decimal as a bare JSON number
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

type contactsEnvelope struct {
	Contacts []contact `json:"Contacts"`
}

type contact struct {
	ContactID      string    `json:"ContactID,omitempty"`
	Name           string    `json:"Name,omitempty"`
	EmailAddress   string    `json:"EmailAddress,omitempty"`
	TaxNumber      string    `json:"TaxNumber,omitempty"`
	ContactStatus  string    `json:"ContactStatus,omitempty"`
	IsCustomer     bool      `json:"IsCustomer"`
	IsSupplier     bool      `json:"IsSupplier"`
	Phones         []phone   `json:"Phones,omitempty"`
	Addresses      []address `json:"Addresses,omitempty"`
	UpdatedDateUTC Time      `json:"UpdatedDateUTC"`
}

type phone struct {
	PhoneType        string `json:"PhoneType"`
	PhoneNumber      string `json:"PhoneNumber,omitempty"`
	PhoneAreaCode    string `json:"PhoneAreaCode,omitempty"`
	PhoneCountryCode string `json:"PhoneCountryCode,omitempty"`
}

type address struct {
	AddressType  string `json:"AddressType"`
	AddressLine1 string `json:"AddressLine1,omitempty"`
	City         string `json:"City,omitempty"`
	PostalCode   string `json:"PostalCode,omitempty"`
	Country      string `json:"Country,omitempty"`
}

const (
	phoneTypeDefault  = "DEFAULT"
	addressTypeStreet = "STREET"
	addressTypePOBox  = "POBOX"
	contactArchived   = "ARCHIVED"
	contactActive     = "ACTIVE"
	paymentDeleted    = "DELETED"
	tenantTypeOrg     = "ORGANISATION"
)

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

type invoicesEnvelope struct {
	Invoices []invoice `json:"Invoices"`
}

type invoice struct {
	InvoiceID      string          `json:"InvoiceID,omitempty"`
	Type           string          `json:"Type,omitempty"`
	InvoiceNumber  string          `json:"InvoiceNumber,omitempty"`
	Reference      string          `json:"Reference,omitempty"`
	Contact        contactRef      `json:"Contact"`
	Date           Time            `json:"Date"`
	DateString     string          `json:"DateString,omitempty"`
	DueDate        Time            `json:"DueDate"`
	DueDateString  string          `json:"DueDateString,omitempty"`
	CurrencyCode   string          `json:"CurrencyCode,omitempty"`
	Status         string          `json:"Status,omitempty"`
	LineItems      []lineItem      `json:"LineItems"`
	SubTotal       decimal.Decimal `json:"SubTotal"`
	TotalTax       decimal.Decimal `json:"TotalTax"`
	Total          decimal.Decimal `json:"Total"`
	AmountPaid     decimal.Decimal `json:"AmountPaid"`
	AmountDue      decimal.Decimal `json:"AmountDue"`
	UpdatedDateUTC Time            `json:"UpdatedDateUTC"`
}

type contactRef struct {
	ContactID string `json:"ContactID"`
	Name      string `json:"Name,omitempty"`
}

type lineItem struct {
	LineItemID  string          `json:"LineItemID,omitempty"`
	Description string          `json:"Description"`
	Quantity    decimal.Decimal `json:"Quantity"`
	UnitAmount  decimal.Decimal `json:"UnitAmount"`
	AccountCode string          `json:"AccountCode,omitempty"`
	TaxType     string          `json:"TaxType,omitempty"`
	LineAmount  decimal.Decimal `json:"LineAmount"`
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

type paymentsEnvelope struct {
	Payments []payment `json:"Payments"`
}

type payment struct {
	PaymentID      string          `json:"PaymentID,omitempty"`
	Invoice        invoiceRef      `json:"Invoice"`
	Account        accountRef      `json:"Account"`
	Date           Time            `json:"Date"`
	Amount         decimal.Decimal `json:"Amount"`
	Reference      string          `json:"Reference,omitempty"`
	Status         string          `json:"Status,omitempty"`
	UpdatedDateUTC Time            `json:"UpdatedDateUTC"`
}

type invoiceRef struct {
	InvoiceID     string `json:"InvoiceID"`
	InvoiceNumber string `json:"InvoiceNumber,omitempty"`
}

type accountRef struct {
	Code string `json:"Code,omitempty"`
}

// ---------------------------------------------------------------------------
// Connections and errors
// ---------------------------------------------------------------------------

type connection struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	TenantType string `json:"tenantType"`
	TenantName string `json:"tenantName"`
}

// apiError is the body of a 400 response
type apiError struct {
	ErrorNumber int    `json:"ErrorNumber"`
	Type        string `json:"Type"`
	Message     string `json:"Message"`
	Elements    []struct {
		ValidationErrors []struct {
			Message string `json:"Message"`
		} `json:"ValidationErrors"`
	} `json:"Elements"`
}

func (e *apiError) messages() []string {
	var out []string
	for _, el := range e.Elements {
		for _, v := range el.ValidationErrors {
			if v.Message != "" {
				out = append(out, v.Message)
			}
		}
	}
	if len(out) == 0 && e.Message != "" {
		out = append(out, e.Message)
	}
	return out
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// WebhookPayload is the body Xero posts to the webhook endpoint
type WebhookPayload struct {
	Events             []WebhookPayloadEvent `json:"events"`
	FirstEventSequence int64                 `json:"firstEventSequence"`
	LastEventSequence  int64                 `json:"lastEventSequence"`
	Entropy            string                `json:"entropy"`
}

// WebhookPayloadEvent is one entry of WebhookPayload
type WebhookPayloadEvent struct {
	ResourceURL   string `json:"resourceUrl"`
	ResourceID    string `json:"resourceId"`
	EventDateUTC  string `json:"eventDateUtc"`
	EventType     string `json:"eventType"`
	EventCategory string `json:"eventCategory"`
	TenantID      string `json:"tenantId"`
	TenantType    string `json:"tenantType"`
}
