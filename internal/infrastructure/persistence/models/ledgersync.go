package models

import (
	"encoding/json"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/google/uuid"
)

// ConnectionModel is the persistence model for a ledger connection.
// Token columns hold ciphertext only.
type ConnectionModel struct {
	ID                    uuid.UUID                   `gorm:"type:uuid;primary_key"`
	TenantID              uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex"`
	LedgerTenantID        string                      `gorm:"type:varchar(64);not null;index"`
	LedgerTenantName      string                      `gorm:"type:varchar(255)"`
	LedgerTenantType      string                      `gorm:"type:varchar(30)"`
	LedgerConnectionID    string                      `gorm:"type:varchar(64)"`
	AccessTokenEncrypted  string                      `gorm:"type:text"`
	RefreshTokenEncrypted string                      `gorm:"type:text"`
	TokenExpiresAt        time.Time                   `gorm:"not null"`
	ScopesJSON            string                      `gorm:"type:jsonb;column:scopes"`
	Status                ledgersync.ConnectionStatus `gorm:"type:varchar(20);not null;index"`
	StatusReason          string                      `gorm:"type:text"`
	ConnectedBy           uuid.UUID                   `gorm:"type:uuid"`
	ConnectedAt           time.Time                   `gorm:"not null"`
	LastRefreshedAt       *time.Time
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "ledger_connections"
}

// ToDomain converts the persistence model to a domain Connection
func (m *ConnectionModel) ToDomain() *ledgersync.Connection {
	return &ledgersync.Connection{
		ID:                    m.ID,
		TenantID:              m.TenantID,
		LedgerTenantID:        m.LedgerTenantID,
		LedgerTenantName:      m.LedgerTenantName,
		LedgerTenantType:      m.LedgerTenantType,
		LedgerConnectionID:    m.LedgerConnectionID,
		AccessTokenEncrypted:  m.AccessTokenEncrypted,
		RefreshTokenEncrypted: m.RefreshTokenEncrypted,
		TokenExpiresAt:        m.TokenExpiresAt,
		Scopes:                unmarshalStrings(m.ScopesJSON),
		Status:                m.Status,
		StatusReason:          m.StatusReason,
		ConnectedBy:           m.ConnectedBy,
		ConnectedAt:           m.ConnectedAt,
		LastRefreshedAt:       m.LastRefreshedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// ConnectionModelFromDomain creates a persistence model from a domain Connection
func ConnectionModelFromDomain(c *ledgersync.Connection) *ConnectionModel {
	return &ConnectionModel{
		ID:                    c.ID,
		TenantID:              c.TenantID,
		LedgerTenantID:        c.LedgerTenantID,
		LedgerTenantName:      c.LedgerTenantName,
		LedgerTenantType:      c.LedgerTenantType,
		LedgerConnectionID:    c.LedgerConnectionID,
		AccessTokenEncrypted:  c.AccessTokenEncrypted,
		RefreshTokenEncrypted: c.RefreshTokenEncrypted,
		TokenExpiresAt:        c.TokenExpiresAt,
		ScopesJSON:            marshalStrings(c.Scopes),
		Status:                c.Status,
		StatusReason:          c.StatusReason,
		ConnectedBy:           c.ConnectedBy,
		ConnectedAt:           c.ConnectedAt,
		LastRefreshedAt:       c.LastRefreshedAt,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

// ConflictModel is the persistence model for a field conflict
type ConflictModel struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primary_key"`
	TenantID       uuid.UUID                 `gorm:"type:uuid;not null;index:idx_conflict_tenant_status,priority:1"`
	EntityType     ledgersync.EntityType     `gorm:"type:varchar(20);not null;index:idx_conflict_entity,priority:1"`
	EntityID       uuid.UUID                 `gorm:"type:uuid;not null;index:idx_conflict_entity,priority:2"`
	ExternalID     string                    `gorm:"type:varchar(64)"`
	Label          string                    `gorm:"type:varchar(255)"`
	Field          string                    `gorm:"type:varchar(50);not null"`
	LocalValue     string                    `gorm:"type:text"`
	RemoteValue    string                    `gorm:"type:text"`
	BaseValue      string                    `gorm:"type:text"`
	Status         ledgersync.ConflictStatus `gorm:"type:varchar(20);not null;index:idx_conflict_tenant_status,priority:2"`
	Resolution     ledgersync.Resolution     `gorm:"type:varchar(20)"`
	ManualValue    string                    `gorm:"type:text"`
	DetectionCount int                       `gorm:"not null;default:1"`
	DetectedAt     time.Time                 `gorm:"not null"`
	LastDetectedAt time.Time                 `gorm:"not null"`
	ResolvedAt     *time.Time
	ResolvedBy     *uuid.UUID `gorm:"type:uuid"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConflictModel) TableName() string {
	return "sync_conflicts"
}

// ToDomain converts the persistence model to a domain Conflict
func (m *ConflictModel) ToDomain() *ledgersync.Conflict {
	return &ledgersync.Conflict{
		ID:             m.ID,
		TenantID:       m.TenantID,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		ExternalID:     m.ExternalID,
		Label:          m.Label,
		Field:          m.Field,
		LocalValue:     m.LocalValue,
		RemoteValue:    m.RemoteValue,
		BaseValue:      m.BaseValue,
		Status:         m.Status,
		Resolution:     m.Resolution,
		ManualValue:    m.ManualValue,
		DetectionCount: m.DetectionCount,
		DetectedAt:     m.DetectedAt,
		LastDetectedAt: m.LastDetectedAt,
		ResolvedAt:     m.ResolvedAt,
		ResolvedBy:     m.ResolvedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ConflictModelFromDomain creates a persistence model from a domain Conflict
func ConflictModelFromDomain(c *ledgersync.Conflict) *ConflictModel {
	return &ConflictModel{
		ID:             c.ID,
		TenantID:       c.TenantID,
		EntityType:     c.EntityType,
		EntityID:       c.EntityID,
		ExternalID:     c.ExternalID,
		Label:          c.Label,
		Field:          c.Field,
		LocalValue:     c.LocalValue,
		RemoteValue:    c.RemoteValue,
		BaseValue:      c.BaseValue,
		Status:         c.Status,
		Resolution:     c.Resolution,
		ManualValue:    c.ManualValue,
		DetectionCount: c.DetectionCount,
		DetectedAt:     c.DetectedAt,
		LastDetectedAt: c.LastDetectedAt,
		ResolvedAt:     c.ResolvedAt,
		ResolvedBy:     c.ResolvedBy,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// SyncRunModel is the persistence model for a sync run audit record
type SyncRunModel struct {
	ID              uuid.UUID             `gorm:"type:uuid;primary_key"`
	TenantID        uuid.UUID             `gorm:"type:uuid;not null;index:idx_sync_run_tenant_started,priority:1"`
	EntityType      ledgersync.EntityType `gorm:"type:varchar(20);not null"`
	Direction       ledgersync.Direction  `gorm:"type:varchar(10);not null"`
	Trigger         ledgersync.Trigger    `gorm:"type:varchar(20);not null"`
	DryRun          bool                  `gorm:"not null;default:false"`
	Status          ledgersync.RunStatus  `gorm:"type:varchar(20);not null;index"`
	CreatedCount    int                   `gorm:"column:created_count;not null;default:0"`
	UpdatedCount    int                   `gorm:"column:updated_count;not null;default:0"`
	SkippedCount    int                   `gorm:"column:skipped_count;not null;default:0"`
	ConflictCount   int                   `gorm:"column:conflict_count;not null;default:0"`
	FailedCount     int                   `gorm:"column:failed_count;not null;default:0"`
	FailedItemsJSON string                `gorm:"type:jsonb;column:failed_items"`
	Error           string                `gorm:"type:text"`
	StartedAt       time.Time             `gorm:"not null;index:idx_sync_run_tenant_started,priority:2"`
	FinishedAt      *time.Time
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain SyncRun
func (m *SyncRunModel) ToDomain() *ledgersync.SyncRun {
	run := &ledgersync.SyncRun{
		ID:         m.ID,
		TenantID:   m.TenantID,
		EntityType: m.EntityType,
		Direction:  m.Direction,
		Trigger:    m.Trigger,
		DryRun:     m.DryRun,
		Status:     m.Status,
		Created:    m.CreatedCount,
		Updated:    m.UpdatedCount,
		Skipped:    m.SkippedCount,
		Conflicts:  m.ConflictCount,
		Failed:     m.FailedCount,
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
	if m.FailedItemsJSON != "" {
		var items []ledgersync.SyncFailure
		if err := json.Unmarshal([]byte(m.FailedItemsJSON), &items); err == nil {
			run.FailedItems = items
		}
	}
	return run
}

// SyncRunModelFromDomain creates a persistence model from a domain SyncRun
func SyncRunModelFromDomain(r *ledgersync.SyncRun) *SyncRunModel {
	m := &SyncRunModel{
		ID:            r.ID,
		TenantID:      r.TenantID,
		EntityType:    r.EntityType,
		Direction:     r.Direction,
		Trigger:       r.Trigger,
		DryRun:        r.DryRun,
		Status:        r.Status,
		CreatedCount:  r.Created,
		UpdatedCount:  r.Updated,
		SkippedCount:  r.Skipped,
		ConflictCount: r.Conflicts,
		FailedCount:   r.Failed,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if len(r.FailedItems) > 0 {
		if b, err := json.Marshal(r.FailedItems); err == nil {
			m.FailedItemsJSON = string(b)
		}
	}
	return m
}

// SyncCursorModel stores the pull watermark per tenant and entity type
type SyncCursorModel struct {
	TenantID      uuid.UUID             `gorm:"type:uuid;primaryKey"`
	EntityType    ledgersync.EntityType `gorm:"type:varchar(20);primaryKey"`
	ModifiedSince time.Time             `gorm:"not null"`
	UpdatedAt     time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCursorModel) TableName() string {
	return "sync_cursors"
}

// ToDomain converts the persistence model to a domain SyncCursor
func (m *SyncCursorModel) ToDomain() *ledgersync.SyncCursor {
	return &ledgersync.SyncCursor{
		TenantID:      m.TenantID,
		EntityType:    m.EntityType,
		ModifiedSince: m.ModifiedSince,
		UpdatedAt:     m.UpdatedAt,
	}
}

// SyncCursorModelFromDomain creates a persistence model from a domain SyncCursor
func SyncCursorModelFromDomain(c *ledgersync.SyncCursor) *SyncCursorModel {
	return &SyncCursorModel{
		TenantID:      c.TenantID,
		EntityType:    c.EntityType,
		ModifiedSince: c.ModifiedSince,
		UpdatedAt:     c.UpdatedAt,
	}
}

// All returns every model managed by migrations, for test schemas
func All() []any {
	return []any{
		&ContactModel{},
		&InvoiceModel{},
		&InvoiceLineModel{},
		&PaymentModel{},
		&ConnectionModel{},
		&ConflictModel{},
		&SyncRunModel{},
		&SyncCursorModel{},
	}
}
