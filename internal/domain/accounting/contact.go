package accounting

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ContactKind tells whether a contact is billed, pays us, or both
type ContactKind string

const (
	ContactKindCustomer ContactKind = "CUSTOMER"
	ContactKindSupplier ContactKind = "SUPPLIER"
	ContactKindBoth     ContactKind = "BOTH"
)

// IsValid returns true if the kind is valid
func (k ContactKind) IsValid() bool {
	return k == ContactKindCustomer || k == ContactKindSupplier || k == ContactKindBoth
}

// Address is a postal address
type Address struct {
	Line1      string
	City       string
	PostalCode string
	Country    string
}

// ContactDetails is the editable part of a contact
type ContactDetails struct {
	Name      string
	Email     string
	Phone     string
	TaxNumber string
	Address   Address
}

// Contact is a customer or supplier of the business
type Contact struct {
	shared.TenantAggregateRoot
	Kind      ContactKind
	Name      string
	Email     string
	Phone     string
	TaxNumber string
	Address   Address
	Archived  bool
	Sync      ledgersync.SyncInfo
}

// NewContact creates a contact that has not been synced yet
func NewContact(tenantID uuid.UUID, kind ContactKind, details ContactDetails) (*Contact, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !kind.IsValid() {
		return nil, ErrInvalidContactKind
	}
	details, err := normalizeContactDetails(details)
	if err != nil {
		return nil, err
	}
	c := &Contact{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Kind:                kind,
		Sync:                ledgersync.NewSyncInfo(),
	}
	c.setDetails(details)
	c.AddDomainEvent(NewContactCreatedEvent(c))
	return c, nil
}

// NewContactFromRemote creates a local contact for a ledger contact seen for
// the first time. The record is linked and its base is the remote snapshot.
func NewContactFromRemote(tenantID uuid.UUID, rc *ledgersync.RemoteContact) (*Contact, error) {
	kind := ContactKindCustomer
	switch {
	case rc.IsCustomer && rc.IsSupplier:
		kind = ContactKindBoth
	case rc.IsSupplier:
		kind = ContactKindSupplier
	}
	c, err := NewContact(tenantID, kind, ContactDetails{
		Name:      rc.Name,
		Email:     rc.Email,
		Phone:     rc.Phone,
		TaxNumber: rc.TaxNumber,
		Address:   Address{Line1: rc.AddressLine1, City: rc.City, PostalCode: rc.PostalCode, Country: rc.Country},
	})
	if err != nil {
		return nil, err
	}
	c.Archived = rc.Archived
	c.Sync.Link(rc.ExternalID)
	c.Sync.Apply(rc.Fields(), rc.UpdatedAt, false, false)
	return c, nil
}

// Update replaces the contact's details
func (c *Contact) Update(details ContactDetails) error {
	details, err := normalizeContactDetails(details)
	if err != nil {
		return err
	}
	before := c.SyncFields()
	c.setDetails(details)
	c.afterEdit(before)
	return nil
}

// SetArchived archives or restores the contact
func (c *Contact) SetArchived(archived bool) {
	before := c.SyncFields()
	c.Archived = archived
	c.afterEdit(before)
}

// Label is a readable identifier for logs and conflict lists
func (c *Contact) Label() string {
	return c.Name
}

// SyncFields returns the canonical snapshot of the synced fields
func (c *Contact) SyncFields() ledgersync.FieldSet {
	return ledgersync.MustFieldSet(ledgersync.EntityTypeContact, map[string]string{
		ledgersync.FieldName:         c.Name,
		ledgersync.FieldEmail:        c.Email,
		ledgersync.FieldPhone:        c.Phone,
		ledgersync.FieldTaxNumber:    c.TaxNumber,
		ledgersync.FieldAddressLine1: c.Address.Line1,
		ledgersync.FieldCity:         c.Address.City,
		ledgersync.FieldPostalCode:   c.Address.PostalCode,
		ledgersync.FieldCountry:      c.Address.Country,
		ledgersync.FieldArchived:     ledgersync.CanonicalBool(c.Archived),
	})
}

// SetField writes one canonical field value coming from the ledger or a
// conflict resolution. It does not mark the record for push.
func (c *Contact) SetField(field, value string) error {
	switch field {
	case ledgersync.FieldName:
		if value == "" {
			return ErrInvalidContactName
		}
		c.Name = value
	case ledgersync.FieldEmail:
		c.Email = value
	case ledgersync.FieldPhone:
		c.Phone = value
	case ledgersync.FieldTaxNumber:
		c.TaxNumber = value
	case ledgersync.FieldAddressLine1:
		c.Address.Line1 = value
	case ledgersync.FieldCity:
		c.Address.City = value
	case ledgersync.FieldPostalCode:
		c.Address.PostalCode = value
	case ledgersync.FieldCountry:
		c.Address.Country = value
	case ledgersync.FieldArchived:
		c.Archived = value == ledgersync.CanonicalBool(true)
	default:
		return fmt.Errorf("%w: contact.%s", ledgersync.ErrUnknownField, field)
	}
	c.Touch()
	return nil
}

// ToRemote builds the ledger representation of the contact
func (c *Contact) ToRemote() *ledgersync.RemoteContact {
	return &ledgersync.RemoteContact{
		ExternalID:   c.Sync.ExternalID,
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		TaxNumber:    c.TaxNumber,
		AddressLine1: c.Address.Line1,
		City:         c.Address.City,
		PostalCode:   c.Address.PostalCode,
		Country:      c.Address.Country,
		IsCustomer:   c.Kind == ContactKindCustomer || c.Kind == ContactKindBoth,
		IsSupplier:   c.Kind == ContactKindSupplier || c.Kind == ContactKindBoth,
		Archived:     c.Archived,
	}
}

func (c *Contact) setDetails(d ContactDetails) {
	c.Name = d.Name
	c.Email = d.Email
	c.Phone = d.Phone
	c.TaxNumber = d.TaxNumber
	c.Address = d.Address
}

func (c *Contact) afterEdit(before ledgersync.FieldSet) {
	if !sameFields(before, c.SyncFields()) {
		c.Sync.MarkLocalChange()
	}
	c.UpdatedAt = time.Now()
	c.IncrementVersion()
}

func normalizeContactDetails(d ContactDetails) (ContactDetails, error) {
	d.Name = strings.Join(strings.Fields(d.Name), " ")
	d.Email = strings.TrimSpace(d.Email)
	d.Phone = strings.TrimSpace(d.Phone)
	d.TaxNumber = strings.TrimSpace(d.TaxNumber)
	d.Address.Line1 = strings.TrimSpace(d.Address.Line1)
	d.Address.City = strings.TrimSpace(d.Address.City)
	d.Address.PostalCode = strings.TrimSpace(d.Address.PostalCode)
	d.Address.Country = strings.TrimSpace(d.Address.Country)

	if d.Name == "" {
		return d, ErrInvalidContactName
	}
	// the ledger rejects contact names over 255 characters
	if len(d.Name) > 255 {
		return d, fmt.Errorf("%w: name", ErrFieldTooLong)
	}
	if d.Email != "" {
		if _, err := mail.ParseAddress(d.Email); err != nil {
			return d, ErrInvalidEmail
		}
	}
	if len(d.Phone) > 50 || len(d.TaxNumber) > 50 || len(d.Address.PostalCode) > 50 {
		return d, ErrFieldTooLong
	}
	return d, nil
}

func sameFields(a, b ledgersync.FieldSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
