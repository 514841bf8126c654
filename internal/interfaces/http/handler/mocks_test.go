package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	acctapp "github.com/buildops/backend/internal/application/accounting"
	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/buildops/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// setJWTContext simulates an authenticated request
func setJWTContext(c *gin.Context, tenantID, userID uuid.UUID) {
	c.Set(middleware.JWTTenantIDKey, tenantID.String())
	c.Set(middleware.JWTUserIDKey, userID.String())
}

// MockConnectionManager implements ConnectionManager
type MockConnectionManager struct {
	mock.Mock
}

func (m *MockConnectionManager) BeginAuthorization(ctx context.Context, tenantID, userID uuid.UUID) (*appsync.AuthorizationResponse, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.AuthorizationResponse), args.Error(1)
}

func (m *MockConnectionManager) CompleteAuthorization(ctx context.Context, state, code string) (*ledgersync.Connection, error) {
	args := m.Called(ctx, state, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgersync.Connection), args.Error(1)
}

func (m *MockConnectionManager) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func (m *MockConnectionManager) Status(ctx context.Context, tenantID uuid.UUID) (*appsync.ConnectionStatusResponse, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.ConnectionStatusResponse), args.Error(1)
}

// MockSyncRunner implements SyncRunner
type MockSyncRunner struct {
	mock.Mock
}

func (m *MockSyncRunner) Sync(ctx context.Context, req ledgersync.SyncRequest) ([]*ledgersync.SyncRun, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledgersync.SyncRun), args.Error(1)
}

func (m *MockSyncRunner) SyncAll(ctx context.Context, tenantID uuid.UUID, trigger ledgersync.Trigger, force bool) ([]*ledgersync.SyncRun, error) {
	args := m.Called(ctx, tenantID, trigger, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledgersync.SyncRun), args.Error(1)
}

func (m *MockSyncRunner) DryRun(ctx context.Context, tenantID uuid.UUID, entityTypes []ledgersync.EntityType, archive bool) (*appsync.ReconcileResponse, error) {
	args := m.Called(ctx, tenantID, entityTypes, archive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.ReconcileResponse), args.Error(1)
}

func (m *MockSyncRunner) ListRuns(ctx context.Context, tenantID uuid.UUID, filter appsync.SyncRunListFilter) (*shared.Paginated[appsync.SyncRunResponse], error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shared.Paginated[appsync.SyncRunResponse]), args.Error(1)
}

func (m *MockSyncRunner) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*appsync.SyncRunResponse, error) {
	args := m.Called(ctx, tenantID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.SyncRunResponse), args.Error(1)
}

// MockConflictResolver implements ConflictResolver
type MockConflictResolver struct {
	mock.Mock
}

func (m *MockConflictResolver) OwnershipRules() []ledgersync.FieldOwnership {
	return m.Called().Get(0).([]ledgersync.FieldOwnership)
}

func (m *MockConflictResolver) List(ctx context.Context, tenantID uuid.UUID, filter appsync.ConflictListFilter) (*shared.Paginated[appsync.ConflictResponse], error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shared.Paginated[appsync.ConflictResponse]), args.Error(1)
}

func (m *MockConflictResolver) Get(ctx context.Context, tenantID, id uuid.UUID) (*appsync.ConflictResponse, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.ConflictResponse), args.Error(1)
}

func (m *MockConflictResolver) Resolve(ctx context.Context, tenantID, id uuid.UUID, req appsync.ResolveConflictRequest, userID uuid.UUID) (*appsync.ResolveResponse, error) {
	args := m.Called(ctx, tenantID, id, req, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.ResolveResponse), args.Error(1)
}

func (m *MockConflictResolver) Ignore(ctx context.Context, tenantID, id, userID uuid.UUID) (*appsync.ResolveResponse, error) {
	args := m.Called(ctx, tenantID, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.ResolveResponse), args.Error(1)
}

func (m *MockConflictResolver) BulkResolve(ctx context.Context, tenantID uuid.UUID, req appsync.BulkResolveRequest, userID uuid.UUID) ([]appsync.BulkResolveResult, error) {
	args := m.Called(ctx, tenantID, req, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]appsync.BulkResolveResult), args.Error(1)
}

// MockWebhookReceiver implements WebhookReceiver
type MockWebhookReceiver struct {
	mock.Mock
}

func (m *MockWebhookReceiver) Handle(ctx context.Context, body []byte, signature string) (*appsync.WebhookResult, error) {
	args := m.Called(ctx, body, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.WebhookResult), args.Error(1)
}

// MockJobSubmitter implements ledgersync.JobSubmitter
type MockJobSubmitter struct {
	mock.Mock
}

func (m *MockJobSubmitter) SubmitSync(ctx context.Context, req ledgersync.SyncRequest) error {
	return m.Called(ctx, req).Error(0)
}

// MockAccountingService implements AccountingService
type MockAccountingService struct {
	mock.Mock
}

func (m *MockAccountingService) CreateContact(ctx context.Context, tenantID uuid.UUID, req acctapp.CreateContactRequest) (*acctapp.ContactResponse, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.ContactResponse), args.Error(1)
}

func (m *MockAccountingService) UpdateContact(ctx context.Context, tenantID, id uuid.UUID, req acctapp.UpdateContactRequest) (*acctapp.ContactResponse, error) {
	args := m.Called(ctx, tenantID, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.ContactResponse), args.Error(1)
}

func (m *MockAccountingService) GetContact(ctx context.Context, tenantID, id uuid.UUID) (*acctapp.ContactResponse, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.ContactResponse), args.Error(1)
}

func (m *MockAccountingService) ListContacts(ctx context.Context, tenantID uuid.UUID, filter acctapp.ContactListFilter) (shared.Paginated[acctapp.ContactResponse], error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(shared.Paginated[acctapp.ContactResponse]), args.Error(1)
}

func (m *MockAccountingService) CreateInvoice(ctx context.Context, tenantID uuid.UUID, req acctapp.CreateInvoiceRequest) (*acctapp.InvoiceResponse, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.InvoiceResponse), args.Error(1)
}

func (m *MockAccountingService) UpdateInvoice(ctx context.Context, tenantID, id uuid.UUID, req acctapp.UpdateInvoiceRequest) (*acctapp.InvoiceResponse, error) {
	args := m.Called(ctx, tenantID, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.InvoiceResponse), args.Error(1)
}

func (m *MockAccountingService) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*acctapp.InvoiceResponse, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.InvoiceResponse), args.Error(1)
}

func (m *MockAccountingService) ListInvoices(ctx context.Context, tenantID uuid.UUID, filter acctapp.InvoiceListFilter) (shared.Paginated[acctapp.InvoiceResponse], error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(shared.Paginated[acctapp.InvoiceResponse]), args.Error(1)
}

func (m *MockAccountingService) RecordPayment(ctx context.Context, tenantID uuid.UUID, req acctapp.RecordPaymentRequest) (*acctapp.PaymentResponse, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*acctapp.PaymentResponse), args.Error(1)
}

func (m *MockAccountingService) DeletePayment(ctx context.Context, tenantID, id uuid.UUID) error {
	return m.Called(ctx, tenantID, id).Error(0)
}

func (m *MockAccountingService) ListPayments(ctx context.Context, tenantID uuid.UUID, filter acctapp.PaymentListFilter) (shared.Paginated[acctapp.PaymentResponse], error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(shared.Paginated[acctapp.PaymentResponse]), args.Error(1)
}
