package ledgersync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReconciliationReport is the result of a dry run: what a full sync would do,
// computed without writing anything on either side.
type ReconciliationReport struct {
	ID          uuid.UUID                    `json:"id"`
	TenantID    uuid.UUID                    `json:"tenant_id"`
	GeneratedAt time.Time                    `json:"generated_at"`
	EntityTypes []EntityType                 `json:"entity_types"`
	Summary     map[EntityType]ActionSummary `json:"summary"`
	Plans       []*RecordPlan                `json:"plans"`
	// ArchiveURL is a download link when the report was archived
	ArchiveURL string `json:"archive_url,omitempty"`
}

// ActionSummary counts record plans per action
type ActionSummary map[RecordAction]int

// NewReconciliationReport starts an empty report
func NewReconciliationReport(tenantID uuid.UUID, types []EntityType) *ReconciliationReport {
	summary := make(map[EntityType]ActionSummary, len(types))
	for _, t := range types {
		summary[t] = ActionSummary{}
	}
	return &ReconciliationReport{
		ID:          uuid.New(),
		TenantID:    tenantID,
		GeneratedAt: time.Now(),
		EntityTypes: types,
		Summary:     summary,
	}
}

// Add records a plan. NOOP plans are counted but not listed.
func (r *ReconciliationReport) Add(p *RecordPlan) {
	if r.Summary[p.EntityType] == nil {
		r.Summary[p.EntityType] = ActionSummary{}
	}
	r.Summary[p.EntityType][p.Action]++
	if p.Action != RecordNoop {
		r.Plans = append(r.Plans, p)
	}
}

// Count returns how many plans of t had the action
func (r *ReconciliationReport) Count(t EntityType, a RecordAction) int {
	return r.Summary[t][a]
}

// ProjectedConflicts is the number of field conflicts a sync would open
func (r *ReconciliationReport) ProjectedConflicts() int {
	n := 0
	for _, p := range r.Plans {
		n += len(p.Conflicts())
	}
	return n
}

// ReportArchive stores reconciliation reports outside the database
type ReportArchive interface {
	// Store saves the report and returns a time-limited download URL
	Store(ctx context.Context, report *ReconciliationReport) (string, error)
}
