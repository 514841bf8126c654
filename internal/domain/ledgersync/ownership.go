package ledgersync

import (
	"fmt"
	"sort"
	"strings"
)

// Owner decides which side wins when a field changed
type Owner string

const (
	// OwnerLocal means the app is authoritative; the field is pushed, never pulled
	OwnerLocal Owner = "LOCAL"
	// OwnerRemote means the ledger is authoritative; the field is pulled, never pushed
	OwnerRemote Owner = "REMOTE"
	// OwnerShared means either side may change it; concurrent changes conflict
	OwnerShared Owner = "SHARED"
)

// IsValid returns true if the owner is valid
func (o Owner) IsValid() bool {
	switch o {
	case OwnerLocal, OwnerRemote, OwnerShared:
		return true
	default:
		return false
	}
}

// OwnershipRules maps each synced field of each entity type to its owner
type OwnershipRules struct {
	rules map[EntityType]map[string]Owner
}

// DefaultOwnershipRules returns the built-in field ownership
func DefaultOwnershipRules() *OwnershipRules {
	r := &OwnershipRules{rules: map[EntityType]map[string]Owner{
		EntityTypeContact: {
			FieldName:         OwnerShared,
			FieldEmail:        OwnerShared,
			FieldPhone:        OwnerShared,
			FieldTaxNumber:    OwnerShared,
			FieldAddressLine1: OwnerShared,
			FieldCity:         OwnerShared,
			FieldPostalCode:   OwnerShared,
			FieldCountry:      OwnerShared,
			FieldArchived:     OwnerRemote,
		},
		EntityTypeInvoice: {
			FieldContact:    OwnerShared,
			FieldNumber:     OwnerShared,
			FieldReference:  OwnerShared,
			FieldIssueDate:  OwnerShared,
			FieldDueDate:    OwnerShared,
			FieldCurrency:   OwnerLocal,
			FieldLines:      OwnerLocal,
			FieldStatus:     OwnerRemote,
			FieldTotal:      OwnerRemote,
			FieldTotalTax:   OwnerRemote,
			FieldAmountPaid: OwnerRemote,
			FieldAmountDue:  OwnerRemote,
		},
		EntityTypePayment: {
			FieldAmount:    OwnerLocal,
			FieldDate:      OwnerLocal,
			FieldReference: OwnerLocal,
			FieldStatus:    OwnerRemote,
		},
	}}
	return r
}

// NewOwnershipRules returns the defaults with overrides applied.
// Override keys are "entity.field" (e.g. "invoice.due_date"), values LOCAL/REMOTE/SHARED.
func NewOwnershipRules(overrides map[string]string) (*OwnershipRules, error) {
	r := DefaultOwnershipRules()
	for key, value := range overrides {
		entityPart, field, ok := strings.Cut(strings.TrimSpace(key), ".")
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOwnershipKV, key)
		}
		entity, err := ParseEntityType(entityPart)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidOwnershipKV, key, err)
		}
		if _, err := LookupField(entity, field); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidOwnershipKV, key, err)
		}
		owner := Owner(strings.ToUpper(strings.TrimSpace(value)))
		if !owner.IsValid() {
			return nil, fmt.Errorf("%w: %q=%q", ErrInvalidOwner, key, value)
		}
		r.rules[entity][field] = owner
	}
	return r, nil
}

// OwnerOf returns the owner of a field; unknown fields are SHARED
func (r *OwnershipRules) OwnerOf(t EntityType, field string) Owner {
	if o, ok := r.rules[t][field]; ok {
		return o
	}
	return OwnerShared
}

// FieldOwnership is one row of the effective rule table
type FieldOwnership struct {
	EntityType EntityType `json:"entity_type"`
	Field      string     `json:"field"`
	Kind       FieldKind  `json:"kind"`
	Owner      Owner      `json:"owner"`
}

// Table lists the effective rules in entity then field order
func (r *OwnershipRules) Table() []FieldOwnership {
	out := make([]FieldOwnership, 0, 32)
	for _, t := range AllEntityTypes() {
		for _, f := range FieldsOf(t) {
			out = append(out, FieldOwnership{EntityType: t, Field: f.Name, Kind: f.Kind, Owner: r.OwnerOf(t, f.Name)})
		}
	}
	return out
}

// FieldsOwnedBy returns the fields of t owned by o, sorted
func (r *OwnershipRules) FieldsOwnedBy(t EntityType, o Owner) []string {
	var out []string
	for field, owner := range r.rules[t] {
		if owner == o {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}
