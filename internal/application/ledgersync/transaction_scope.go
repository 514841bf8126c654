package ledgersync

import (
	"context"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
)

// TransactionScope runs a unit of work in one database transaction.
// Applying a pulled record touches the record, its conflicts and sometimes a
// related record, which must commit or roll back together.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}

// Repositories are the repositories bound to the current transaction
type Repositories interface {
	Contacts() accounting.ContactRepository
	Invoices() accounting.InvoiceRepository
	Payments() accounting.PaymentRepository
	Conflicts() ledgersync.ConflictRepository
}
