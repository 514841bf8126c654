package ledgersync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sync Run
// ---------------------------------------------------------------------------

// RunStatus is the outcome of a sync run
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusFailed  RunStatus = "FAILED"
)

// SyncFailure represents one record that could not be synchronized
type SyncFailure struct {
	// ItemID identifies the record (local ID or external ID)
	ItemID string `json:"item_id"`
	// Label is a readable identifier such as the contact name
	Label string `json:"label,omitempty"`
	// ErrorCode is a stable code from ErrorCode
	ErrorCode string `json:"error_code"`
	// ErrorMessage is the error text
	ErrorMessage string `json:"error_message"`
}

// SyncRun is the audit record of one entity type synced in one direction
type SyncRun struct {
	// ID is the unique identifier of the run
	ID uuid.UUID
	// TenantID is the tenant the run belongs to
	TenantID uuid.UUID
	// EntityType is what was synced
	EntityType EntityType
	// Direction is pull or push
	Direction Direction
	// Trigger is what started the run
	Trigger Trigger
	// DryRun marks reconciliation previews that wrote nothing
	DryRun bool
	// Status is the outcome
	Status RunStatus
	// Created counts records created on the receiving side
	Created int
	// Updated counts records updated on the receiving side
	Updated int
	// Skipped counts records that needed no change
	Skipped int
	// Conflicts counts conflicts opened or refreshed
	Conflicts int
	// Failed counts records that failed
	Failed int
	// FailedItems holds failure details, capped at MaxFailedItems
	FailedItems []SyncFailure
	// Error is a run-level error that aborted the run
	Error string
	// StartedAt is when the run began
	StartedAt time.Time
	// FinishedAt is when the run finished
	FinishedAt *time.Time
}

// MaxFailedItems caps the failure details stored on a run
const MaxFailedItems = 200

// NewSyncRun starts a run
func NewSyncRun(tenantID uuid.UUID, t EntityType, dir Direction, trigger Trigger, dryRun bool) (*SyncRun, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !t.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if !dir.IsValid() {
		return nil, ErrInvalidDirection
	}
	if !trigger.IsValid() {
		return nil, ErrInvalidTrigger
	}
	return &SyncRun{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityType: t,
		Direction:  dir,
		Trigger:    trigger,
		DryRun:     dryRun,
		Status:     RunStatusRunning,
		StartedAt:  time.Now(),
	}, nil
}

// RecordCreated counts a created record
func (r *SyncRun) RecordCreated() { r.Created++ }

// RecordUpdated counts an updated record
func (r *SyncRun) RecordUpdated() { r.Updated++ }

// RecordSkipped counts an unchanged record
func (r *SyncRun) RecordSkipped() { r.Skipped++ }

// RecordConflicts counts conflicts opened on a record
func (r *SyncRun) RecordConflicts(n int) { r.Conflicts += n }

// RecordFailure counts a failed record and keeps its details
func (r *SyncRun) RecordFailure(itemID, label string, err error) {
	r.Failed++
	if len(r.FailedItems) >= MaxFailedItems {
		return
	}
	r.FailedItems = append(r.FailedItems, SyncFailure{
		ItemID:       itemID,
		Label:        label,
		ErrorCode:    ErrorCode(err),
		ErrorMessage: err.Error(),
	})
}

// Succeeded is the number of records handled without failure
func (r *SyncRun) Succeeded() int {
	return r.Created + r.Updated + r.Skipped + r.Conflicts
}

// Finish closes the run. A run-level error makes it FAILED; otherwise it is
// SUCCESS without failures, PARTIAL when some records succeeded and FAILED
// when none did.
func (r *SyncRun) Finish(runErr error) error {
	if r.FinishedAt != nil {
		return ErrSyncRunFinished
	}
	now := time.Now()
	r.FinishedAt = &now
	switch {
	case runErr != nil:
		r.Error = runErr.Error()
		r.Status = RunStatusFailed
	case r.Failed == 0:
		r.Status = RunStatusSuccess
	case r.Succeeded() > 0:
		r.Status = RunStatusPartial
	default:
		r.Status = RunStatusFailed
	}
	return nil
}

// Duration is the run's wall time so far
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SyncRunFilter selects runs for listing
type SyncRunFilter struct {
	EntityType EntityType
	Direction  Direction
	Status     RunStatus
	Page       int
	PageSize   int
}

// SyncRunRepository persists sync runs
type SyncRunRepository interface {
	Save(ctx context.Context, run *SyncRun) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*SyncRun, error)
	List(ctx context.Context, tenantID uuid.UUID, filter SyncRunFilter) ([]SyncRun, int64, error)
	// LatestByEntity returns the newest finished non-dry run per (entity type, direction)
	LatestByEntity(ctx context.Context, tenantID uuid.UUID) ([]SyncRun, error)
}

// ---------------------------------------------------------------------------
// Sync Cursor
// ---------------------------------------------------------------------------

// SyncCursor is the pull high-watermark for one entity type of one tenant
type SyncCursor struct {
	TenantID   uuid.UUID
	EntityType EntityType
	// ModifiedSince is the newest remote modification time already pulled
	ModifiedSince time.Time
	UpdatedAt     time.Time
}

// Advance moves the watermark forward; it never moves backwards
func (c *SyncCursor) Advance(seen time.Time) bool {
	if seen.After(c.ModifiedSince) {
		c.ModifiedSince = seen
		c.UpdatedAt = time.Now()
		return true
	}
	return false
}

// SyncCursorRepository persists cursors
type SyncCursorRepository interface {
	// Get returns the cursor or a zero cursor when none exists
	Get(ctx context.Context, tenantID uuid.UUID, t EntityType) (*SyncCursor, error)
	Save(ctx context.Context, c *SyncCursor) error
}
