package ledgersync

import "strings"

// ---------------------------------------------------------------------------
// EntityType identifies the kind of record being synchronized
// ---------------------------------------------------------------------------

// EntityType identifies the kind of record being synchronized
type EntityType string

const (
	EntityTypeContact EntityType = "CONTACT"
	EntityTypeInvoice EntityType = "INVOICE"
	EntityTypePayment EntityType = "PAYMENT"
)

// AllEntityTypes returns entity types in dependency order: invoices reference
// contacts and payments reference invoices.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityTypeContact, EntityTypeInvoice, EntityTypePayment}
}

// IsValid returns true if the entity type is known
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeContact, EntityTypeInvoice, EntityTypePayment:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType accepts singular or plural, any case ("contacts", "Invoice")
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "S")
	t := EntityType(s)
	if !t.IsValid() {
		return "", ErrInvalidEntityType
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Direction of a sync run
// ---------------------------------------------------------------------------

// Direction is the direction of a sync run
type Direction string

const (
	// DirectionPull copies ledger changes into local records
	DirectionPull Direction = "PULL"
	// DirectionPush sends local changes to the ledger
	DirectionPush Direction = "PUSH"
)

// IsValid returns true if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionPull || d == DirectionPush
}

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// ParseDirections parses "pull", "push" or "both"
func ParseDirections(s string) ([]Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PULL":
		return []Direction{DirectionPull}, nil
	case "PUSH":
		return []Direction{DirectionPush}, nil
	case "", "BOTH":
		return []Direction{DirectionPull, DirectionPush}, nil
	default:
		return nil, ErrInvalidDirection
	}
}

// ---------------------------------------------------------------------------
// Trigger records what started a sync run
// ---------------------------------------------------------------------------

// Trigger records what started a sync run
type Trigger string

const (
	TriggerManual    Trigger = "MANUAL"
	TriggerScheduled Trigger = "SCHEDULED"
	TriggerWebhook   Trigger = "WEBHOOK"
)

// IsValid returns true if the trigger is valid
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerWebhook:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// SyncState of a local record relative to the ledger
// ---------------------------------------------------------------------------

// SyncState of a local record relative to the ledger
type SyncState string

const (
	// SyncStateNeverSynced means the record has no ledger counterpart yet
	SyncStateNeverSynced SyncState = "NEVER_SYNCED"
	// SyncStateSynced means both sides agreed at the last sync
	SyncStateSynced SyncState = "SYNCED"
	// SyncStatePendingPush means local changes wait to be pushed
	SyncStatePendingPush SyncState = "PENDING_PUSH"
	// SyncStateConflict means at least one field has an open conflict
	SyncStateConflict SyncState = "CONFLICT"
	// SyncStateError means the last sync attempt for the record failed
	SyncStateError SyncState = "ERROR"
)

// IsValid returns true if the state is valid
func (s SyncState) IsValid() bool {
	switch s {
	case SyncStateNeverSynced, SyncStateSynced, SyncStatePendingPush, SyncStateConflict, SyncStateError:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncState
func (s SyncState) String() string {
	return string(s)
}
