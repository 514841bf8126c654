package ledgersync

import (
	"time"

	"github.com/google/uuid"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// =============================================================================
// Connection DTOs
// =============================================================================

// AuthorizationResponse carries the URL the user is sent to
// @Description Authorization URL for the Xero consent screen
type AuthorizationResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ConnectionStatusResponse describes a tenant's ledger connection
// @Description Ledger connection with recent runs and open conflicts
type ConnectionStatusResponse struct {
	Connected        bool             `json:"connected"`
	Status           string           `json:"status"`
	StatusReason     string           `json:"status_reason,omitempty"`
	OrganisationID   string           `json:"organisation_id,omitempty"`
	OrganisationName string           `json:"organisation_name,omitempty"`
	TokenExpiresAt   *time.Time       `json:"token_expires_at,omitempty"`
	ConnectedAt      *time.Time       `json:"connected_at,omitempty"`
	LastRefreshedAt  *time.Time       `json:"last_refreshed_at,omitempty"`
	LastRuns         []SyncRunSummary `json:"last_runs"`
	OpenConflicts    int64            `json:"open_conflicts"`
	Scopes           []string         `json:"scopes,omitempty"`
}

// StatusNotConnected is reported when a tenant never connected
const StatusNotConnected = "NOT_CONNECTED"

// =============================================================================
// Sync run DTOs
// =============================================================================

// SyncRunSummary is the short form of a run used in status views
type SyncRunSummary struct {
	ID         uuid.UUID  `json:"id"`
	EntityType string     `json:"entity_type"`
	Direction  string     `json:"direction"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Conflicts  int        `json:"conflicts"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SyncRunResponse is a run with its failed items
// @Description One sync run with its counters and failed items
type SyncRunResponse struct {
	SyncRunSummary
	DryRun      bool                     `json:"dry_run"`
	Error       string                   `json:"error,omitempty"`
	DurationMS  int64                    `json:"duration_ms"`
	FailedItems []ledgersync.SyncFailure `json:"failed_items,omitempty"`
}

// ToSyncRunSummary converts a domain run
func ToSyncRunSummary(r *ledgersync.SyncRun) SyncRunSummary {
	return SyncRunSummary{
		ID:         r.ID,
		EntityType: string(r.EntityType),
		Direction:  string(r.Direction),
		Trigger:    string(r.Trigger),
		Status:     string(r.Status),
		Created:    r.Created,
		Updated:    r.Updated,
		Skipped:    r.Skipped,
		Conflicts:  r.Conflicts,
		Failed:     r.Failed,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// ToSyncRunResponse converts a domain run
func ToSyncRunResponse(r *ledgersync.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		SyncRunSummary: ToSyncRunSummary(r),
		DryRun:         r.DryRun,
		Error:          r.Error,
		DurationMS:     r.Duration().Milliseconds(),
		FailedItems:    r.FailedItems,
	}
}

// SyncRunListFilter selects runs
type SyncRunListFilter struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	EntityType string `form:"entity_type"`
	Direction  string `form:"direction"`
	Status     string `form:"status"`
}

// =============================================================================
// Conflict DTOs
// =============================================================================

// ConflictResponse is a conflict in API responses
// @Description Field conflict between local and ledger values
type ConflictResponse struct {
	ID             uuid.UUID  `json:"id"`
	EntityType     string     `json:"entity_type"`
	EntityID       uuid.UUID  `json:"entity_id"`
	ExternalID     string     `json:"external_id"`
	Label          string     `json:"label"`
	Field          string     `json:"field"`
	LocalValue     string     `json:"local_value"`
	RemoteValue    string     `json:"remote_value"`
	BaseValue      string     `json:"base_value"`
	Status         string     `json:"status"`
	Resolution     string     `json:"resolution,omitempty"`
	ManualValue    string     `json:"manual_value,omitempty"`
	DetectionCount int        `json:"detection_count"`
	DetectedAt     time.Time  `json:"detected_at"`
	LastDetectedAt time.Time  `json:"last_detected_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
}

// ToConflictResponse converts a domain conflict
func ToConflictResponse(c *ledgersync.Conflict) ConflictResponse {
	return ConflictResponse{
		ID:             c.ID,
		EntityType:     string(c.EntityType),
		EntityID:       c.EntityID,
		ExternalID:     c.ExternalID,
		Label:          c.Label,
		Field:          c.Field,
		LocalValue:     c.LocalValue,
		RemoteValue:    c.RemoteValue,
		BaseValue:      c.BaseValue,
		Status:         string(c.Status),
		Resolution:     string(c.Resolution),
		ManualValue:    c.ManualValue,
		DetectionCount: c.DetectionCount,
		DetectedAt:     c.DetectedAt,
		LastDetectedAt: c.LastDetectedAt,
		ResolvedAt:     c.ResolvedAt,
		ResolvedBy:     c.ResolvedBy,
	}
}

// ConflictListFilter selects conflicts
type ConflictListFilter struct {
	Page       int        `form:"page"`
	PageSize   int        `form:"page_size"`
	Status     string     `form:"status"`
	EntityType string     `form:"entity_type"`
	EntityID   *uuid.UUID `form:"entity_id"`
}

// ResolveConflictRequest settles one conflict
// @Description Request body for resolving a conflict
type ResolveConflictRequest struct {
	Resolution  string `json:"resolution" binding:"required,oneof=KEEP_LOCAL KEEP_REMOTE MANUAL"`
	ManualValue string `json:"value"`
	PushNow     bool   `json:"push_now"`
}

// BulkResolveRequest settles many conflicts the same way
// @Description Request body for resolving many conflicts
type BulkResolveRequest struct {
	IDs        []uuid.UUID `json:"ids" binding:"required,min=1,max=200"`
	Resolution string      `json:"resolution" binding:"required,oneof=KEEP_LOCAL KEEP_REMOTE"`
}

// BulkResolveResult is the outcome for one id of a bulk resolution
type BulkResolveResult struct {
	ID       uuid.UUID         `json:"id"`
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Conflict *ConflictResponse `json:"conflict,omitempty"`
}

// ResolveResponse is the outcome of a single resolution
// @Description Outcome of a conflict resolution
type ResolveResponse struct {
	Conflict    ConflictResponse `json:"conflict"`
	RecordState string           `json:"record_state"`
	Pushed      bool             `json:"pushed"`
	PushError   string           `json:"push_error,omitempty"`
}

// =============================================================================
// Sync requests
// =============================================================================

// SyncRequestDTO is the body of a manual sync request
// @Description Request body for a manual sync
type SyncRequestDTO struct {
	EntityType string `json:"entity_type" binding:"omitempty,oneof=contacts invoices payments all CONTACT INVOICE PAYMENT"`
	Direction  string `json:"direction" binding:"omitempty,sync_direction"`
	Force      bool   `json:"force"`
	Async      bool   `json:"async"`
}

// ReconcileRequest asks for a dry run
// @Description Request body for a dry run
type ReconcileRequest struct {
	EntityTypes []string `json:"entity_types" binding:"omitempty,max=3,dive,entity_type"`
	Archive     bool     `json:"archive"`
}

// ReconcileResponse wraps the report with the dry runs that produced it
// @Description Reconciliation report of a dry run
type ReconcileResponse struct {
	Report             *ledgersync.ReconciliationReport `json:"report"`
	ProjectedConflicts int                              `json:"projected_conflicts"`
	RunIDs             []uuid.UUID                      `json:"run_ids"`
}
