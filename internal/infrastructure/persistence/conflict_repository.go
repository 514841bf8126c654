package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
)

// GormConflictRepository implements ledgersync.ConflictRepository using GORM
type GormConflictRepository struct {
	db *gorm.DB
}

// NewGormConflictRepository creates a new GormConflictRepository
func NewGormConflictRepository(db *gorm.DB) *GormConflictRepository {
	return &GormConflictRepository{db: db}
}

// Save creates or updates a conflict
func (r *GormConflictRepository) Save(ctx context.Context, c *ledgersync.Conflict) error {
	return r.db.WithContext(ctx).Save(models.ConflictModelFromDomain(c)).Error
}

// FindByID finds a conflict of the tenant
func (r *GormConflictRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ledgersync.Conflict, error) {
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id))
}

// FindOpen returns the open conflict on one field of one record
func (r *GormConflictRepository) FindOpen(ctx context.Context, tenantID uuid.UUID, t ledgersync.EntityType, entityID uuid.UUID, field string) (*ledgersync.Conflict, error) {
	return r.first(r.db.WithContext(ctx).Where(
		"tenant_id = ? AND entity_type = ? AND entity_id = ? AND field = ? AND status = ?",
		tenantID, t, entityID, field, ledgersync.ConflictOpen,
	))
}

// FindOpenByEntity returns all open conflicts of one record
func (r *GormConflictRepository) FindOpenByEntity(ctx context.Context, tenantID uuid.UUID, t ledgersync.EntityType, entityID uuid.UUID) ([]ledgersync.Conflict, error) {
	var rows []models.ConflictModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND entity_id = ? AND status = ?", tenantID, t, entityID, ledgersync.ConflictOpen).
		Order("field ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return conflictsToDomain(rows), nil
}

// List returns a page of conflicts, most recently detected first
func (r *GormConflictRepository) List(ctx context.Context, tenantID uuid.UUID, filter ledgersync.ConflictFilter) ([]ledgersync.Conflict, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ConflictModel{}).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := shared.Filter{Page: filter.Page, PageSize: filter.PageSize}
	page.Normalize(maxPageSize)

	var rows []models.ConflictModel
	if err := query.Order("last_detected_at DESC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return conflictsToDomain(rows), total, nil
}

// CountOpen counts the tenant's open conflicts
func (r *GormConflictRepository) CountOpen(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ConflictModel{}).
		Where("tenant_id = ? AND status = ?", tenantID, ledgersync.ConflictOpen).
		Count(&n).Error
	return n, err
}

func (r *GormConflictRepository) first(query *gorm.DB) (*ledgersync.Conflict, error) {
	var m models.ConflictModel
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgersync.ErrConflictNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

func conflictsToDomain(rows []models.ConflictModel) []ledgersync.Conflict {
	out := make([]ledgersync.Conflict, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ ledgersync.ConflictRepository = (*GormConflictRepository)(nil)
