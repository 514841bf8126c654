package ledgersync

import "time"

// SyncInfo is the sync bookkeeping carried by every synchronized local record
type SyncInfo struct {
	// ExternalID is the ledger's identifier; empty until linked
	ExternalID string
	// State is the record's sync state
	State SyncState
	// LastSyncedAt is when both sides last agreed
	LastSyncedAt *time.Time
	// RemoteUpdatedAt is the ledger's modification time seen at the last sync
	RemoteUpdatedAt *time.Time
	// LocalModifiedAt is when a synced field last changed locally
	LocalModifiedAt time.Time
	// Base is the field snapshot both sides agreed on; the three-way diff's ancestor
	Base FieldSet
	// Suppressed holds ignored conflict pairs per field
	Suppressed Suppressions
	// LastError describes the last failed sync attempt
	LastError string
}

// NewSyncInfo returns bookkeeping for a record created locally
func NewSyncInfo() SyncInfo {
	return SyncInfo{State: SyncStateNeverSynced, LocalModifiedAt: time.Now()}
}

// IsLinked reports whether the record has a ledger counterpart
func (s *SyncInfo) IsLinked() bool {
	return s.ExternalID != ""
}

// HasBase reports whether a base snapshot exists
func (s *SyncInfo) HasBase() bool {
	return len(s.Base) > 0
}

// MarkLocalChange records a local edit of a synced field
func (s *SyncInfo) MarkLocalChange() {
	s.LocalModifiedAt = time.Now()
	switch s.State {
	case SyncStateSynced, SyncStateError:
		if s.IsLinked() {
			s.State = SyncStatePendingPush
		} else {
			s.State = SyncStateNeverSynced
		}
	}
}

// Link attaches the ledger identifier
func (s *SyncInfo) Link(externalID string) {
	s.ExternalID = externalID
}

// Apply stores the outcome of a diff: the next base, the state and timestamps.
// hasConflicts and pendingPush come from the plan that was applied.
func (s *SyncInfo) Apply(base FieldSet, remoteUpdatedAt time.Time, hasConflicts, pendingPush bool) {
	now := time.Now()
	s.Base = base
	if !remoteUpdatedAt.IsZero() {
		ru := remoteUpdatedAt
		s.RemoteUpdatedAt = &ru
	}
	s.LastError = ""
	switch {
	case hasConflicts:
		s.State = SyncStateConflict
	case pendingPush:
		s.State = SyncStatePendingPush
	default:
		s.State = SyncStateSynced
		s.LastSyncedAt = &now
	}
	s.pruneSuppressions(base)
}

// MarkPendingPush flags the record for the next push
func (s *SyncInfo) MarkPendingPush() {
	if s.IsLinked() {
		s.State = SyncStatePendingPush
	} else {
		s.State = SyncStateNeverSynced
	}
}

// MarkError records a failed sync attempt
func (s *SyncInfo) MarkError(msg string) {
	s.State = SyncStateError
	s.LastError = msg
}

// SetBaseField overrides one field of the base snapshot
func (s *SyncInfo) SetBaseField(field, value string) {
	if s.Base == nil {
		s.Base = FieldSet{}
	}
	s.Base[field] = value
}

// Suppress ignores the conflict (local, remote) for field until either changes
func (s *SyncInfo) Suppress(field, local, remote string) {
	if s.Suppressed == nil {
		s.Suppressed = Suppressions{}
	}
	s.Suppressed[field] = SuppressionKey(local, remote)
}

// pruneSuppressions drops suppressions whose field has no base any more
func (s *SyncInfo) pruneSuppressions(base FieldSet) {
	for field := range s.Suppressed {
		if _, ok := base[field]; !ok {
			delete(s.Suppressed, field)
		}
	}
}
