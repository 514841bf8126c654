package models

import (
	"encoding/json"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// SyncColumns persists ledgersync.SyncInfo. It is embedded by every model that
// is synchronized with the ledger, so all of them share column names.
type SyncColumns struct {
	ExternalID      string               `gorm:"type:varchar(64);index"`
	SyncState       ledgersync.SyncState `gorm:"type:varchar(20);not null;default:'NEVER_SYNCED';index"`
	LastSyncedAt    *time.Time
	RemoteUpdatedAt *time.Time
	LocalModifiedAt time.Time `gorm:"not null"`
	SyncBaseJSON    string    `gorm:"type:jsonb;column:sync_base"`
	SuppressedJSON  string    `gorm:"type:jsonb;column:sync_suppressed"`
	SyncError       string    `gorm:"type:text"`
}

// FromSyncInfo populates the columns from domain sync bookkeeping
func (c *SyncColumns) FromSyncInfo(s ledgersync.SyncInfo) {
	c.ExternalID = s.ExternalID
	c.SyncState = s.State
	c.LastSyncedAt = s.LastSyncedAt
	c.RemoteUpdatedAt = s.RemoteUpdatedAt
	c.LocalModifiedAt = s.LocalModifiedAt
	c.SyncBaseJSON = marshalStringMap(s.Base)
	c.SuppressedJSON = marshalStringMap(s.Suppressed)
	c.SyncError = s.LastError
}

// ToSyncInfo converts the columns to domain sync bookkeeping
func (c *SyncColumns) ToSyncInfo() ledgersync.SyncInfo {
	info := ledgersync.SyncInfo{
		ExternalID:      c.ExternalID,
		State:           c.SyncState,
		LastSyncedAt:    c.LastSyncedAt,
		RemoteUpdatedAt: c.RemoteUpdatedAt,
		LocalModifiedAt: c.LocalModifiedAt,
		LastError:       c.SyncError,
	}
	if base := unmarshalStringMap(c.SyncBaseJSON); len(base) > 0 {
		info.Base = ledgersync.FieldSet(base)
	}
	if sup := unmarshalStringMap(c.SuppressedJSON); len(sup) > 0 {
		info.Suppressed = ledgersync.Suppressions(sup)
	}
	return info
}

func marshalStringMap[M ~map[string]string](m M) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// unmarshalStringMap tolerates empty or corrupt columns; a lost base only
// means the next diff treats the record as a first link.
func unmarshalStringMap(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	b, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// dateOnly keeps the calendar date in its own zone and pins it to UTC midnight
func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
