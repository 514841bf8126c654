package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
)

// GormSyncRunRepository implements ledgersync.SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Save creates or updates a sync run
func (r *GormSyncRunRepository) Save(ctx context.Context, run *ledgersync.SyncRun) error {
	return r.db.WithContext(ctx).Save(models.SyncRunModelFromDomain(run)).Error
}

// FindByID finds a run of the tenant
func (r *GormSyncRunRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ledgersync.SyncRun, error) {
	var m models.SyncRunModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgersync.ErrSyncRunNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// List returns a page of runs, newest first
func (r *GormSyncRunRepository) List(ctx context.Context, tenantID uuid.UUID, filter ledgersync.SyncRunFilter) ([]ledgersync.SyncRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).Where("tenant_id = ?", tenantID)
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := shared.Filter{Page: filter.Page, PageSize: filter.PageSize}
	page.Normalize(maxPageSize)

	var rows []models.SyncRunModel
	if err := query.Order("started_at DESC").Offset(page.Offset()).Limit(page.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return runsToDomain(rows), total, nil
}

// LatestByEntity returns the newest finished, non-dry run per entity type and direction
func (r *GormSyncRunRepository) LatestByEntity(ctx context.Context, tenantID uuid.UUID) ([]ledgersync.SyncRun, error) {
	var rows []models.SyncRunModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND dry_run = ? AND finished_at IS NOT NULL", tenantID, false).
		Where(`started_at = (SELECT MAX(s2.started_at) FROM sync_runs s2
			WHERE s2.tenant_id = sync_runs.tenant_id
			AND s2.entity_type = sync_runs.entity_type
			AND s2.direction = sync_runs.direction
			AND s2.dry_run = ? AND s2.finished_at IS NOT NULL)`, false).
		Order("entity_type ASC, direction ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return runsToDomain(rows), nil
}

func runsToDomain(rows []models.SyncRunModel) []ledgersync.SyncRun {
	out := make([]ledgersync.SyncRun, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

// GormSyncCursorRepository implements ledgersync.SyncCursorRepository using GORM
type GormSyncCursorRepository struct {
	db *gorm.DB
}

// NewGormSyncCursorRepository creates a new GormSyncCursorRepository
func NewGormSyncCursorRepository(db *gorm.DB) *GormSyncCursorRepository {
	return &GormSyncCursorRepository{db: db}
}

// Get returns the cursor, or a zero cursor when none was stored
func (r *GormSyncCursorRepository) Get(ctx context.Context, tenantID uuid.UUID, t ledgersync.EntityType) (*ledgersync.SyncCursor, error) {
	var m models.SyncCursorModel
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND entity_type = ?", tenantID, t).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ledgersync.SyncCursor{TenantID: tenantID, EntityType: t}, nil
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// Save upserts the cursor
func (r *GormSyncCursorRepository) Save(ctx context.Context, c *ledgersync.SyncCursor) error {
	m := models.SyncCursorModelFromDomain(c)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"modified_since", "updated_at"}),
	}).Create(m).Error
}

var (
	_ ledgersync.SyncRunRepository    = (*GormSyncRunRepository)(nil)
	_ ledgersync.SyncCursorRepository = (*GormSyncCursorRepository)(nil)
)
