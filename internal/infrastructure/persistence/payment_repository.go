package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
)

// GormPaymentRepository implements accounting.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// Save creates or updates a payment
func (r *GormPaymentRepository) Save(ctx context.Context, p *accounting.Payment) error {
	return r.db.WithContext(ctx).Save(models.PaymentModelFromDomain(p)).Error
}

// FindByIDForTenant finds a payment by ID within a tenant
func (r *GormPaymentRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*accounting.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id))
}

// FindByExternalID finds the payment linked to a ledger payment
func (r *GormPaymentRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*accounting.Payment, error) {
	if externalID == "" {
		return nil, accounting.ErrPaymentNotFound
	}
	return r.first(r.db.WithContext(ctx).Where("tenant_id = ? AND external_id = ?", tenantID, externalID))
}

// FindMatch finds an unlinked, live payment on the invoice with the same day and amount.
// The day is matched as a range so the comparison does not depend on how the
// driver encodes dates.
func (r *GormPaymentRepository) FindMatch(ctx context.Context, tenantID, invoiceID uuid.UUID, date time.Time, amount decimal.Decimal) (*accounting.Payment, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return r.first(r.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ? AND status = ?", tenantID, invoiceID, accounting.PaymentStatusAuthorised).
		Where("(external_id IS NULL OR external_id = '')").
		Where("date >= ? AND date < ?", day, day.AddDate(0, 0, 1)).
		Where("amount = ?", amount.Round(2)).
		Order("created_at ASC"))
}

// List returns a page of payments and the total matching the filter
func (r *GormPaymentRepository) List(ctx context.Context, tenantID uuid.UUID, filter accounting.PaymentFilter) ([]accounting.Payment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PaymentModel{}).Where("tenant_id = ?", tenantID)
	if filter.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *filter.InvoiceID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.PaymentModel
	if err := applyPaging(query, filter.Filter, PaymentSortFields, "date").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return paymentsToDomain(rows), total, nil
}

// FindPendingPush returns payments not yet created in, or deleted from, the ledger
func (r *GormPaymentRepository) FindPendingPush(ctx context.Context, tenantID uuid.UUID, limit int) ([]accounting.Payment, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sync_state IN ?", tenantID, pendingPushStates).
		Order("local_modified_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.PaymentModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return paymentsToDomain(rows), nil
}

// ListAll returns every payment of the tenant
func (r *GormPaymentRepository) ListAll(ctx context.Context, tenantID uuid.UUID) ([]accounting.Payment, error) {
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return paymentsToDomain(rows), nil
}

func (r *GormPaymentRepository) first(query *gorm.DB) (*accounting.Payment, error) {
	var m models.PaymentModel
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrPaymentNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

func paymentsToDomain(rows []models.PaymentModel) []accounting.Payment {
	out := make([]accounting.Payment, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ accounting.PaymentRepository = (*GormPaymentRepository)(nil)
