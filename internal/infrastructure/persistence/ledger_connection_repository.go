package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
)

// GormConnectionRepository implements ledgersync.ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// Save creates or updates a connection
func (r *GormConnectionRepository) Save(ctx context.Context, c *ledgersync.Connection) error {
	return r.db.WithContext(ctx).Save(models.ConnectionModelFromDomain(c)).Error
}

// FindByTenant returns the tenant's connection whatever its status
func (r *GormConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*ledgersync.Connection, error) {
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ?", tenantID))
}

// FindByLedgerTenant returns the active connection for a ledger organisation.
// Webhooks identify the organisation only.
func (r *GormConnectionRepository) FindByLedgerTenant(ctx context.Context, ledgerTenantID string) (*ledgersync.Connection, error) {
	return r.first(r.db.WithContext(ctx).
		Where("ledger_tenant_id = ? AND status = ?", ledgerTenantID, ledgersync.ConnectionActive).
		Order("connected_at DESC"))
}

// FindActive returns every active connection
func (r *GormConnectionRepository) FindActive(ctx context.Context) ([]ledgersync.Connection, error) {
	var rows []models.ConnectionModel
	if err := r.db.WithContext(ctx).Where("status = ?", ledgersync.ConnectionActive).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ledgersync.Connection, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

func (r *GormConnectionRepository) first(query *gorm.DB) (*ledgersync.Connection, error) {
	var m models.ConnectionModel
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgersync.ErrConnectionNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

var _ ledgersync.ConnectionRepository = (*GormConnectionRepository)(nil)
