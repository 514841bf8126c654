package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
)

// GormInvoiceRepository implements accounting.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// Save creates or updates an invoice and replaces its lines
func (r *GormInvoiceRepository) Save(ctx context.Context, inv *accounting.Invoice) error {
	m := models.InvoiceModelFromDomain(inv)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(m).Error; err != nil {
			return err
		}

		// Drop lines that are no longer on the invoice
		lineIDs := make([]uuid.UUID, len(m.Lines))
		for i := range m.Lines {
			lineIDs[i] = m.Lines[i].ID
		}
		del := tx.Where("invoice_id = ?", m.ID)
		if len(lineIDs) > 0 {
			del = del.Where("id NOT IN ?", lineIDs)
		}
		if err := del.Delete(&models.InvoiceLineModel{}).Error; err != nil {
			return err
		}

		for i := range m.Lines {
			if err := tx.Save(&m.Lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByIDForTenant finds an invoice by ID within a tenant
func (r *GormInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*accounting.Invoice, error) {
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id))
}

// FindByExternalID finds the invoice linked to a ledger invoice
func (r *GormInvoiceRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*accounting.Invoice, error) {
	if externalID == "" {
		return nil, accounting.ErrInvoiceNotFound
	}
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND external_id = ?", tenantID, externalID))
}

// FindByNumber finds an unlinked invoice of the given type by number
func (r *GormInvoiceRepository) FindByNumber(ctx context.Context, tenantID uuid.UUID, typ accounting.InvoiceType, number string) (*accounting.Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, accounting.ErrInvoiceNotFound
	}
	return r.first(r.db.WithContext(ctx).
		Where("tenant_id = ? AND type = ? AND number = ?", tenantID, typ, number).
		Where("(external_id IS NULL OR external_id = '')"))
}

// List returns a page of invoices and the total matching the filter
func (r *GormInvoiceRepository) List(ctx context.Context, tenantID uuid.UUID, filter accounting.InvoiceFilter) ([]accounting.Invoice, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).Where("tenant_id = ?", tenantID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ContactID != nil {
		query = query.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.SyncState != "" {
		query = query.Where("sync_state = ?", filter.SyncState)
	}
	if filter.Search != "" {
		pattern := likePattern(filter.Search)
		query = query.Where(`(LOWER(number) LIKE ? ESCAPE '\' OR LOWER(reference) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.InvoiceModel
	if err := applyPaging(query, filter.Filter, InvoiceSortFields, "issue_date").
		Preload("Lines", orderLines).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return invoicesToDomain(rows), total, nil
}

// FindPendingPush returns invoices with local changes not yet in the ledger
func (r *GormInvoiceRepository) FindPendingPush(ctx context.Context, tenantID uuid.UUID, limit int) ([]accounting.Invoice, error) {
	query := r.db.WithContext(ctx).
		Preload("Lines", orderLines).
		Where("tenant_id = ? AND sync_state IN ?", tenantID, pendingPushStates).
		Order("local_modified_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.InvoiceModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return invoicesToDomain(rows), nil
}

// ListAll returns every invoice of the tenant with lines
func (r *GormInvoiceRepository) ListAll(ctx context.Context, tenantID uuid.UUID) ([]accounting.Invoice, error) {
	var rows []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Preload("Lines", orderLines).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return invoicesToDomain(rows), nil
}

func (r *GormInvoiceRepository) first(query *gorm.DB) (*accounting.Invoice, error) {
	var m models.InvoiceModel
	if err := query.Preload("Lines", orderLines).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrInvoiceNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

func orderLines(db *gorm.DB) *gorm.DB {
	return db.Order("line_no ASC")
}

func invoicesToDomain(rows []models.InvoiceModel) []accounting.Invoice {
	out := make([]accounting.Invoice, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ accounting.InvoiceRepository = (*GormInvoiceRepository)(nil)
