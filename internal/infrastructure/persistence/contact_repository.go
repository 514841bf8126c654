package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
)

// pendingPushStates are the sync states a push run picks up
var pendingPushStates = []ledgersync.SyncState{
	ledgersync.SyncStateNeverSynced,
	ledgersync.SyncStatePendingPush,
	ledgersync.SyncStateError,
}

// GormContactRepository implements accounting.ContactRepository using GORM
type GormContactRepository struct {
	db *gorm.DB
}

// NewGormContactRepository creates a new GormContactRepository
func NewGormContactRepository(db *gorm.DB) *GormContactRepository {
	return &GormContactRepository{db: db}
}

// Save creates or updates a contact
func (r *GormContactRepository) Save(ctx context.Context, c *accounting.Contact) error {
	return r.db.WithContext(ctx).Save(models.ContactModelFromDomain(c)).Error
}

// FindByIDForTenant finds a contact by ID within a tenant
func (r *GormContactRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*accounting.Contact, error) {
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id))
}

// FindByExternalID finds the contact linked to a ledger contact
func (r *GormContactRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*accounting.Contact, error) {
	if externalID == "" {
		return nil, accounting.ErrContactNotFound
	}
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND external_id = ?", tenantID, externalID))
}

// FindMatch finds an unlinked contact with the same name, then the same email
func (r *GormContactRepository) FindMatch(ctx context.Context, tenantID uuid.UUID, name, email string) (*accounting.Contact, error) {
	unlinked := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Where("tenant_id = ?", tenantID).
			Where("(external_id IS NULL OR external_id = '')").
			Order("created_at ASC")
	}

	if name = strings.TrimSpace(name); name != "" {
		c, err := r.first(unlinked().Where("LOWER(name) = ?", strings.ToLower(name)))
		if err == nil || !errors.Is(err, accounting.ErrContactNotFound) {
			return c, err
		}
	}
	if email = strings.TrimSpace(email); email != "" {
		return r.first(unlinked().Where("LOWER(email) = ?", strings.ToLower(email)))
	}
	return nil, accounting.ErrContactNotFound
}

// List returns a page of contacts and the total matching the filter
func (r *GormContactRepository) List(ctx context.Context, tenantID uuid.UUID, filter accounting.ContactFilter) ([]accounting.Contact, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ContactModel{}).Where("tenant_id = ?", tenantID)
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Archived != nil {
		query = query.Where("archived = ?", *filter.Archived)
	}
	if filter.SyncState != "" {
		query = query.Where("sync_state = ?", filter.SyncState)
	}
	if filter.Search != "" {
		pattern := likePattern(filter.Search)
		query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	// Session makes the filtered query reusable for both count and page
	query = query.Session(&gorm.Session{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ContactModel
	if err := applyPaging(query, filter.Filter, ContactSortFields, "name").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return contactsToDomain(rows), total, nil
}

// FindPendingPush returns contacts with local changes not yet in the ledger,
// oldest change first.
func (r *GormContactRepository) FindPendingPush(ctx context.Context, tenantID uuid.UUID, limit int) ([]accounting.Contact, error) {
	var rows []models.ContactModel
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sync_state IN ?", tenantID, pendingPushStates).
		Order("local_modified_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return contactsToDomain(rows), nil
}

// ListAll returns every contact of the tenant
func (r *GormContactRepository) ListAll(ctx context.Context, tenantID uuid.UUID) ([]accounting.Contact, error) {
	var rows []models.ContactModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return contactsToDomain(rows), nil
}

func (r *GormContactRepository) first(query *gorm.DB) (*accounting.Contact, error) {
	var m models.ContactModel
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrContactNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

func contactsToDomain(rows []models.ContactModel) []accounting.Contact {
	out := make([]accounting.Contact, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ accounting.ContactRepository = (*GormContactRepository)(nil)
