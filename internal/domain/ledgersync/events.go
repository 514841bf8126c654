package ledgersync

import (
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event types published by the sync engine
const (
	EventTypeConflictDetected      = "ledgersync.ConflictDetected"
	EventTypeConflictResolved      = "ledgersync.ConflictResolved"
	EventTypeSyncRunCompleted      = "ledgersync.SyncRunCompleted"
	EventTypeConnectionEstablished = "ledgersync.ConnectionEstablished"
	EventTypeConnectionExpired     = "ledgersync.ConnectionExpired"
)

const (
	aggregateTypeConflict   = "Conflict"
	aggregateTypeSyncRun    = "SyncRun"
	aggregateTypeConnection = "Connection"
)

// ConflictDetectedEvent is published when a conflict is opened
type ConflictDetectedEvent struct {
	shared.BaseDomainEvent
	EntityType EntityType `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	Field      string     `json:"field"`
}

// NewConflictDetectedEvent creates the event from a conflict
func NewConflictDetectedEvent(c *Conflict) *ConflictDetectedEvent {
	return &ConflictDetectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConflictDetected, aggregateTypeConflict, c.ID, c.TenantID),
		EntityType:      c.EntityType,
		EntityID:        c.EntityID,
		Field:           c.Field,
	}
}

// ConflictResolvedEvent is published when a conflict is resolved or ignored
type ConflictResolvedEvent struct {
	shared.BaseDomainEvent
	EntityType EntityType     `json:"entity_type"`
	Field      string         `json:"field"`
	Status     ConflictStatus `json:"status"`
	Resolution Resolution     `json:"resolution,omitempty"`
}

// NewConflictResolvedEvent creates the event from a settled conflict
func NewConflictResolvedEvent(c *Conflict) *ConflictResolvedEvent {
	return &ConflictResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConflictResolved, aggregateTypeConflict, c.ID, c.TenantID),
		EntityType:      c.EntityType,
		Field:           c.Field,
		Status:          c.Status,
		Resolution:      c.Resolution,
	}
}

// SyncRunCompletedEvent is published when a run finishes
type SyncRunCompletedEvent struct {
	shared.BaseDomainEvent
	Run SyncRun `json:"run"`
}

// NewSyncRunCompletedEvent creates the event from a finished run
func NewSyncRunCompletedEvent(r *SyncRun) *SyncRunCompletedEvent {
	return &SyncRunCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncRunCompleted, aggregateTypeSyncRun, r.ID, r.TenantID),
		Run:             *r,
	}
}

// ConnectionEvent is published when a connection is established or expires
type ConnectionEvent struct {
	shared.BaseDomainEvent
	LedgerTenantID   string `json:"ledger_tenant_id"`
	LedgerTenantName string `json:"ledger_tenant_name"`
	Reason           string `json:"reason,omitempty"`
}

// NewConnectionEstablishedEvent creates the event for a new or renewed connection
func NewConnectionEstablishedEvent(c *Connection) *ConnectionEvent {
	return &ConnectionEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeConnectionEstablished, aggregateTypeConnection, c.ID, c.TenantID),
		LedgerTenantID:   c.LedgerTenantID,
		LedgerTenantName: c.LedgerTenantName,
	}
}

// NewConnectionExpiredEvent creates the event for a connection whose grant was rejected
func NewConnectionExpiredEvent(c *Connection) *ConnectionEvent {
	return &ConnectionEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeConnectionExpired, aggregateTypeConnection, c.ID, c.TenantID),
		LedgerTenantID:   c.LedgerTenantID,
		LedgerTenantName: c.LedgerTenantName,
		Reason:           c.StatusReason,
	}
}
