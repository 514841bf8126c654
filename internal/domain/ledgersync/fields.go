package ledgersync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Field names shared by local records, remote records and conflicts.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldTaxNumber    = "tax_number"
	FieldAddressLine1 = "address_line1"
	FieldCity         = "city"
	FieldPostalCode   = "postal_code"
	FieldCountry      = "country"
	FieldArchived     = "archived"

	FieldContact    = "contact"
	FieldNumber     = "number"
	FieldReference  = "reference"
	FieldIssueDate  = "issue_date"
	FieldDueDate    = "due_date"
	FieldCurrency   = "currency"
	FieldLines      = "lines"
	FieldStatus     = "status"
	FieldTotal      = "total"
	FieldTotalTax   = "total_tax"
	FieldAmountPaid = "amount_paid"
	FieldAmountDue  = "amount_due"

	FieldAmount = "amount"
	FieldDate   = "date"
)

// DateLayout is the canonical day-precision date format
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// FieldKind controls how a value is canonicalized before comparison
// ---------------------------------------------------------------------------

// FieldKind controls how a value is canonicalized before comparison
type FieldKind string

const (
	// KindText is NFC-normalized, trimmed, with inner whitespace collapsed
	KindText FieldKind = "TEXT"
	// KindEmail is KindText, case-folded
	KindEmail FieldKind = "EMAIL"
	// KindDecimal is a fixed two-place decimal
	KindDecimal FieldKind = "DECIMAL"
	// KindDate is YYYY-MM-DD
	KindDate FieldKind = "DATE"
	// KindEnum is upper-cased text
	KindEnum FieldKind = "ENUM"
	// KindRef is the external ID of a related record
	KindRef FieldKind = "REF"
	// KindDigest is a hash over a canonical list (invoice lines)
	KindDigest FieldKind = "DIGEST"
)

var foldCaser = cases.Fold()

// Canonicalize returns the canonical form of raw for the kind
func (k FieldKind) Canonicalize(raw string) (string, error) {
	switch k {
	case KindText:
		return canonicalText(raw), nil
	case KindEmail:
		return foldCaser.String(canonicalText(raw)), nil
	case KindEnum:
		return strings.ToUpper(canonicalText(raw)), nil
	case KindRef, KindDigest:
		return strings.TrimSpace(raw), nil
	case KindDecimal:
		s := strings.TrimSpace(raw)
		if s == "" {
			return CanonicalDecimal(decimal.Zero), nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not a decimal", ErrInvalidFieldValue, raw)
		}
		return CanonicalDecimal(d), nil
	case KindDate:
		s := strings.TrimSpace(raw)
		if s == "" {
			return "", nil
		}
		if len(s) >= len(DateLayout) {
			if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
				return t.Format(DateLayout), nil
			}
		}
		return "", fmt.Errorf("%w: %q is not a date", ErrInvalidFieldValue, raw)
	default:
		return "", fmt.Errorf("%w: unknown kind %s", ErrInvalidFieldValue, k)
	}
}

func canonicalText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// CanonicalDecimal renders d with two decimal places
func CanonicalDecimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// CanonicalDate renders t as YYYY-MM-DD, or "" for the zero time
func CanonicalDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// CanonicalBool renders b as TRUE/FALSE
func CanonicalBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ---------------------------------------------------------------------------
// FieldSpec and per-entity field lists
// ---------------------------------------------------------------------------

// FieldSpec describes one synced field
type FieldSpec struct {
	Name string
	Kind FieldKind
}

var entityFields = map[EntityType][]FieldSpec{
	EntityTypeContact: {
		{FieldName, KindText},
		{FieldEmail, KindEmail},
		{FieldPhone, KindText},
		{FieldTaxNumber, KindText},
		{FieldAddressLine1, KindText},
		{FieldCity, KindText},
		{FieldPostalCode, KindText},
		{FieldCountry, KindText},
		{FieldArchived, KindEnum},
	},
	EntityTypeInvoice: {
		{FieldContact, KindRef},
		{FieldNumber, KindText},
		{FieldReference, KindText},
		{FieldIssueDate, KindDate},
		{FieldDueDate, KindDate},
		{FieldCurrency, KindEnum},
		{FieldLines, KindDigest},
		{FieldStatus, KindEnum},
		{FieldTotal, KindDecimal},
		{FieldTotalTax, KindDecimal},
		{FieldAmountPaid, KindDecimal},
		{FieldAmountDue, KindDecimal},
	},
	EntityTypePayment: {
		{FieldAmount, KindDecimal},
		{FieldDate, KindDate},
		{FieldReference, KindText},
		{FieldStatus, KindEnum},
	},
}

// FieldsOf returns the synced fields of an entity type in stable order
func FieldsOf(t EntityType) []FieldSpec {
	return entityFields[t]
}

// LookupField returns the spec of a field, or ErrUnknownField
func LookupField(t EntityType, name string) (FieldSpec, error) {
	for _, f := range entityFields[t] {
		if f.Name == name {
			return f, nil
		}
	}
	return FieldSpec{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, strings.ToLower(string(t)), name)
}

// ---------------------------------------------------------------------------
// FieldSet is a canonical snapshot of a record's synced fields
// ---------------------------------------------------------------------------

// FieldSet maps field name to canonical value
type FieldSet map[string]string

// Clone returns a copy of the set
func (s FieldSet) Clone() FieldSet {
	if s == nil {
		return nil
	}
	out := make(FieldSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Has reports whether the field is present
func (s FieldSet) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// Keys returns the field names sorted
func (s FieldSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewFieldSet canonicalizes raw values against the entity's field specs.
// Fields not listed for the entity are rejected.
func NewFieldSet(t EntityType, raw map[string]string) (FieldSet, error) {
	out := make(FieldSet, len(raw))
	for name, value := range raw {
		spec, err := LookupField(t, name)
		if err != nil {
			return nil, err
		}
		c, err := spec.Kind.Canonicalize(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}

// MustFieldSet is NewFieldSet for values already known to be valid
func MustFieldSet(t EntityType, raw map[string]string) FieldSet {
	fs, err := NewFieldSet(t, raw)
	if err != nil {
		panic(err)
	}
	return fs
}

// ---------------------------------------------------------------------------
// Line items
// ---------------------------------------------------------------------------

// LineItem is the ledger-neutral shape of an invoice line
type LineItem struct {
	ExternalID  string
	Description string
	Quantity    decimal.Decimal
	UnitAmount  decimal.Decimal
	AccountCode string
	TaxType     string
	LineAmount  decimal.Decimal
}

// DigestLines hashes the parts of each line that the local side controls.
// Line amounts and tax are derived, so they are excluded.
func DigestLines(lines []LineItem) string {
	if len(lines) == 0 {
		return ""
	}
	h := sha256.New()
	for _, l := range lines {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s\n",
			canonicalText(l.Description),
			l.Quantity.StringFixed(4),
			l.UnitAmount.StringFixed(2),
			strings.ToUpper(strings.TrimSpace(l.AccountCode)),
			strings.ToUpper(strings.TrimSpace(l.TaxType)),
		)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
