package persistence

import (
	"context"

	"gorm.io/gorm"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn within a database transaction. An error from fn rolls it back.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appsync.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) Contacts() accounting.ContactRepository {
	return NewGormContactRepository(r.tx)
}

func (r *gormTransactionalRepositories) Invoices() accounting.InvoiceRepository {
	return NewGormInvoiceRepository(r.tx)
}

func (r *gormTransactionalRepositories) Payments() accounting.PaymentRepository {
	return NewGormPaymentRepository(r.tx)
}

func (r *gormTransactionalRepositories) Conflicts() ledgersync.ConflictRepository {
	return NewGormConflictRepository(r.tx)
}

var (
	_ appsync.TransactionScope = (*GormTransactionScope)(nil)
	_ appsync.Repositories     = (*gormTransactionalRepositories)(nil)
)
