package ledgersync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/cache"
	"github.com/buildops/backend/internal/infrastructure/persistence"
)

type webhookFixture struct {
	svc      *appsync.WebhookService
	decoder  *MockWebhookDecoder
	jobs     *MockJobSubmitter
	tenantID uuid.UUID
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	db := openTestDB(t)
	connections := persistence.NewGormConnectionRepository(db)
	tenantID := uuid.New()
	conn, err := ledgersync.NewConnection(tenantID, uuid.New(),
		ledgersync.LedgerConnection{ConnectionID: "conn-1", TenantID: "org-1", TenantName: "Demo Co", TenantType: "ORGANISATION"},
		"enc:a", "enc:r", time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, connections.Save(context.Background(), conn))

	dedupe := cache.NewMemoryStore()
	t.Cleanup(func() { _ = dedupe.Close() })

	f := &webhookFixture{
		decoder:  new(MockWebhookDecoder),
		jobs:     new(MockJobSubmitter),
		tenantID: tenantID,
	}
	f.svc = appsync.NewWebhookService(f.decoder, connections, dedupe, f.jobs, appsync.Options{}, zaptest.NewLogger(t))
	return f
}

func webhookEvent(ledgerTenant string, category ledgersync.EntityType, resource string) ledgersync.WebhookEvent {
	return ledgersync.WebhookEvent{
		ResourceID:     resource,
		EventCategory:  category,
		EventType:      "UPDATE",
		LedgerTenantID: ledgerTenant,
		EventDate:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookService_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"events":[]}`)
	f.decoder.On("Verify", body, "bad").Return(false)

	_, err := f.svc.Handle(context.Background(), body, "bad")
	assert.ErrorIs(t, err, ledgersync.ErrInvalidWebhookSignature)
	f.decoder.AssertNotCalled(t, "Decode", mock.Anything)
	f.jobs.AssertNotCalled(t, "SubmitSync", mock.Anything, mock.Anything)
}

func TestWebhookService_IntentToReceive(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"events":[],"firstEventSequence":0,"lastEventSequence":0}`)
	f.decoder.On("Verify", body, "sig").Return(true)
	f.decoder.On("Decode", body).Return(&ledgersync.WebhookBatch{}, nil)

	res, err := f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Zero(t, res.Received)
	f.jobs.AssertNotCalled(t, "SubmitSync", mock.Anything, mock.Anything)
}

func TestWebhookService_CoalescesEventsIntoPullJobs(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte("delivery-1")
	f.decoder.On("Verify", body, "sig").Return(true)
	f.decoder.On("Decode", body).Return(&ledgersync.WebhookBatch{Events: []ledgersync.WebhookEvent{
		webhookEvent("org-1", ledgersync.EntityTypeContact, "c-1"),
		webhookEvent("org-1", ledgersync.EntityTypeContact, "c-2"),
		webhookEvent("org-1", ledgersync.EntityTypeInvoice, "i-1"),
		webhookEvent("org-unknown", ledgersync.EntityTypeInvoice, "i-2"),
	}}, nil)

	var submitted []ledgersync.SyncRequest
	f.jobs.On("SubmitSync", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		submitted = append(submitted, args.Get(1).(ledgersync.SyncRequest))
	}).Return(nil)

	res, err := f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 1, res.Unmapped)
	assert.Equal(t, 2, res.Queued)

	require.Len(t, submitted, 2)
	assert.Equal(t, ledgersync.EntityTypeContact, submitted[0].EntityType)
	assert.Equal(t, ledgersync.EntityTypeInvoice, submitted[1].EntityType)
	for _, req := range submitted {
		assert.Equal(t, f.tenantID, req.TenantID)
		assert.Equal(t, ledgersync.TriggerWebhook, req.Trigger)
		assert.Equal(t, []ledgersync.Direction{ledgersync.DirectionPull}, req.Directions)
		assert.False(t, req.Force)
	}
}

func TestWebhookService_RedeliveryIsIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte("delivery-1")
	f.decoder.On("Verify", body, "sig").Return(true)
	f.decoder.On("Decode", body).Return(&ledgersync.WebhookBatch{Events: []ledgersync.WebhookEvent{
		webhookEvent("org-1", ledgersync.EntityTypePayment, "p-1"),
	}}, nil)
	f.jobs.On("SubmitSync", mock.Anything, mock.Anything).Return(nil).Once()

	first, err := f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Queued)

	second, err := f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Duplicates)
	assert.Zero(t, second.Queued)
	f.jobs.AssertNumberOfCalls(t, "SubmitSync", 1)
}

func TestWebhookService_SubmitFailureIsNotFatal(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte("delivery-2")
	f.decoder.On("Verify", body, "sig").Return(true)
	f.decoder.On("Decode", body).Return(&ledgersync.WebhookBatch{Events: []ledgersync.WebhookEvent{
		webhookEvent("org-1", ledgersync.EntityTypeContact, "c-9"),
	}}, nil)
	f.jobs.On("SubmitSync", mock.Anything, mock.Anything).Return(errors.New("queue full")).Once()

	res, err := f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Zero(t, res.Queued)

	// The event was not queued, so a later delivery of it still counts.
	f.jobs.On("SubmitSync", mock.Anything, mock.Anything).Return(nil).Once()
	res, err = f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Zero(t, res.Duplicates)
	assert.Equal(t, 1, res.Queued)
}

func TestWebhookService_FailedDeliveryIsHandledOnRetry(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte("delivery-3")
	f.decoder.On("Verify", body, "sig").Return(true)
	f.decoder.On("Decode", body).Return(&ledgersync.WebhookBatch{Events: []ledgersync.WebhookEvent{
		webhookEvent("org-1", ledgersync.EntityTypeInvoice, "i-1"),
		webhookEvent("org-1", ledgersync.EntityTypeInvoice, "i-2"),
	}}, nil)
	f.jobs.On("SubmitSync", mock.Anything, mock.Anything).Return(nil)

	// The connection lookup fails on a cancelled request.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Handle(cancelled, body, "sig")
	require.ErrorIs(t, err, context.Canceled)
	f.jobs.AssertNotCalled(t, "SubmitSync", mock.Anything, mock.Anything)

	res, err := f.svc.Handle(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.Equal(t, appsync.WebhookResult{Received: 2, Queued: 1}, *res)
}
