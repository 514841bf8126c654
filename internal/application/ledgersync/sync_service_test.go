package ledgersync_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
)

func TestSyncService_PullCreatesContactsAndAdvancesCursor(t *testing.T) {
	h := newHarness(t, 0)
	acme := h.ledger.AddContact(ledgersync.RemoteContact{Name: "Acme Builders", Email: "accounts@acme.test", IsCustomer: true})
	bravo := h.ledger.AddContact(ledgersync.RemoteContact{Name: "Bravo Supplies", IsSupplier: true})

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	require.Len(t, runs, 1)
	assert.Equal(t, ledgersync.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].Created)

	local := h.contactByExternalID(acme.ExternalID)
	assert.Equal(t, "Acme Builders", local.Name)
	assert.Equal(t, "accounts@acme.test", local.Email)
	assert.Equal(t, ledgersync.SyncStateSynced, local.Sync.State)
	assert.Equal(t, accounting.ContactKindSupplier, h.contactByExternalID(bravo.ExternalID).Kind)

	cursor, err := h.cursors.Get(h.ctx, h.tenantID, ledgersync.EntityTypeContact)
	require.NoError(t, err)
	assert.True(t, cursor.ModifiedSince.Equal(bravo.UpdatedAt), "cursor %s", cursor.ModifiedSince)

	// Nothing changed in the ledger since the cursor.
	runs = h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	require.Len(t, runs, 1)
	assert.Zero(t, runs[0].Created)
	assert.Zero(t, runs[0].Updated)
	assert.Zero(t, runs[0].Skipped)

	assert.Contains(t, h.events.Types(), ledgersync.EventTypeSyncRunCompleted)
}

func TestSyncService_PullLinksUnlinkedLocalContactByName(t *testing.T) {
	h := newHarness(t, 0)
	local := h.newContact("Acme Builders", "")
	remote := h.ledger.AddContact(ledgersync.RemoteContact{Name: "acme builders", Phone: "09 555 0100"})

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	require.Len(t, runs, 1)
	assert.Zero(t, runs[0].Created)
	assert.Equal(t, 1, runs[0].Updated)

	got := h.contact(local.ID)
	assert.Equal(t, remote.ExternalID, got.Sync.ExternalID)
	assert.Equal(t, "acme builders", got.Name, "a pull takes shared fields from the ledger on first link")
	assert.Equal(t, "09 555 0100", got.Phone)
	assert.Equal(t, ledgersync.SyncStateSynced, got.Sync.State)

	all, err := h.contacts.ListAll(h.ctx, h.tenantID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSyncService_PushCreatesRemoteContact(t *testing.T) {
	h := newHarness(t, 0)
	c := h.newContact("Charlie Electrical", "office@charlie.test")

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Created)

	got := h.contact(c.ID)
	require.True(t, got.Sync.IsLinked())
	assert.Equal(t, ledgersync.SyncStateSynced, got.Sync.State)
	assert.Equal(t, "office@charlie.test", h.ledger.Contact(got.Sync.ExternalID).Email)

	// A second push has nothing to send.
	runs = h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	assert.Zero(t, runs[0].Created)
	assert.Len(t, h.ledger.Writes(), 1)
}

func TestSyncService_PushLinksMatchingRemoteContactInsteadOfCreating(t *testing.T) {
	h := newHarness(t, 0)
	remote := h.ledger.AddContact(ledgersync.RemoteContact{Name: "Delta Roofing"})
	c := h.newContact("Delta Roofing", "")

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Zero(t, runs[0].Created)
	assert.Equal(t, 1, runs[0].Skipped)

	got := h.contact(c.ID)
	assert.Equal(t, remote.ExternalID, got.Sync.ExternalID)
	assert.Equal(t, ledgersync.SyncStateSynced, got.Sync.State)
	assert.Equal(t, 1, h.ledger.ContactCount())
	assert.Empty(t, h.ledger.Writes())
}

func TestSyncService_PushSkipsLinkedCandidateAndMatchesTheNext(t *testing.T) {
	h := newHarness(t, 0)
	first := h.ledger.AddContact(ledgersync.RemoteContact{Name: "November Builders"})
	h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	require.Equal(t, first.ExternalID, h.contactByExternalID(first.ExternalID).Sync.ExternalID)

	second := h.ledger.AddContact(ledgersync.RemoteContact{Name: "November Builders", Email: "yard@november.test"})
	c := h.newContact("November Builders", "")

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Zero(t, runs[0].Created)
	assert.Zero(t, runs[0].Failed)
	assert.Equal(t, second.ExternalID, h.contact(c.ID).Sync.ExternalID)
	assert.Equal(t, 2, h.ledger.ContactCount())
	for _, w := range h.ledger.Writes() {
		assert.NotContains(t, w, "CONTACT create")
	}
}

func TestSyncService_PullOpensConflictWhenBothSidesChanged(t *testing.T) {
	h := newHarness(t, 0)
	ext, localID := h.phoneConflict("Echo Plumbing")

	open := h.openConflicts()
	require.Len(t, open, 1)
	assert.Equal(t, ledgersync.FieldPhone, open[0].Field)
	assert.Equal(t, "111", open[0].BaseValue)
	assert.Equal(t, "222", open[0].LocalValue)
	assert.Equal(t, "333", open[0].RemoteValue)
	assert.Equal(t, ext, open[0].ExternalID)

	got := h.contact(localID)
	assert.Equal(t, ledgersync.SyncStateConflict, got.Sync.State)
	assert.Equal(t, "222", got.Phone, "a conflicting field keeps its local value")
	assert.Contains(t, h.events.Types(), ledgersync.EventTypeConflictDetected)

	// The same conflict seen again is refreshed, not duplicated.
	h.ledger.EditContact(ext, func(c *ledgersync.RemoteContact) { c.Phone = "334" })
	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	assert.Equal(t, 1, runs[0].Conflicts)
	open = h.openConflicts()
	require.Len(t, open, 1)
	assert.Equal(t, "334", open[0].RemoteValue)
	assert.Equal(t, 2, open[0].DetectionCount)
}

func TestSyncService_ConvergedConflictClosesItself(t *testing.T) {
	h := newHarness(t, 0)
	ext, localID := h.phoneConflict("Echo Plumbing")

	// Someone types the local value into the ledger.
	h.ledger.EditContact(ext, func(c *ledgersync.RemoteContact) { c.Phone = "222" })
	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	assert.Zero(t, runs[0].Conflicts)
	assert.Empty(t, h.openConflicts())
	assert.Equal(t, ledgersync.SyncStateSynced, h.contact(localID).Sync.State)
}

func TestSyncService_PullOfPaymentWithUnknownInvoiceFailsItem(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.AddPayment(ledgersync.RemotePayment{
		InvoiceExternalID: "invoice-missing",
		InvoiceNumber:     "INV-0001",
		Date:              time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		Amount:            decimal.NewFromInt(100),
		Status:            "AUTHORISED",
	})

	runs := h.syncEntity(ledgersync.EntityTypePayment, ledgersync.DirectionPull)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, ledgersync.RunStatusFailed, runs[0].Status)
	require.Len(t, runs[0].FailedItems, 1)
	assert.Equal(t, "DEPENDENCY_NOT_SYNCED", runs[0].FailedItems[0].ErrorCode)

	cursor, err := h.cursors.Get(h.ctx, h.tenantID, ledgersync.EntityTypePayment)
	require.NoError(t, err)
	assert.True(t, cursor.ModifiedSince.IsZero(), "a run with failures keeps the cursor")
}

func TestSyncService_PullInvoicePullsItsContactFirst(t *testing.T) {
	h := newHarness(t, 0)
	contact := h.ledger.AddContact(ledgersync.RemoteContact{Name: "Foxtrot Ltd", IsCustomer: true})
	remote := h.ledger.AddInvoice(ledgersync.RemoteInvoice{
		Type:              "ACCREC",
		Number:            "INV-0042",
		ContactExternalID: contact.ExternalID,
		IssueDate:         time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		DueDate:           time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC),
		Currency:          "NZD",
		Status:            "AUTHORISED",
		Lines: []ledgersync.LineItem{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitAmount:  decimal.NewFromInt(500),
			AccountCode: "200",
			LineAmount:  decimal.NewFromInt(500),
		}},
		SubTotal:  decimal.NewFromInt(500),
		Total:     decimal.NewFromInt(500),
		AmountDue: decimal.NewFromInt(500),
	})

	runs := h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPull)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Created, "the contact is created on the invoice's behalf, not counted")
	assert.Zero(t, runs[0].Failed)

	localContact := h.contactByExternalID(contact.ExternalID)
	inv, err := h.invoices.FindByExternalID(h.ctx, h.tenantID, remote.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, localContact.ID, inv.ContactID)
	assert.Equal(t, "INV-0042", inv.Number)
	assert.Equal(t, accounting.InvoiceStatusAuthorised, inv.Status)
	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(500)))
}

func TestSyncService_PushInvoicePushesItsContactFirst(t *testing.T) {
	h := newHarness(t, 0)
	c := h.newContact("Golf Partners", "")
	inv := h.newInvoice(c, "INV-0100")

	runs := h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Created)
	assert.Zero(t, runs[0].Failed)

	contact := h.contact(c.ID)
	require.True(t, contact.Sync.IsLinked())
	got, err := h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	require.True(t, got.Sync.IsLinked())
	assert.Equal(t, ledgersync.SyncStateSynced, got.Sync.State)
	assert.Equal(t, contact.Sync.ExternalID, h.ledger.Invoice(got.Sync.ExternalID).ContactExternalID)

	writes := h.ledger.Writes()
	require.Len(t, writes, 2)
	assert.Contains(t, writes[0], "CONTACT create")
	assert.Contains(t, writes[1], "INVOICE create")
}

func TestSyncService_LocalApprovalOfLinkedInvoiceReachesLedger(t *testing.T) {
	h := newHarness(t, 0)
	c := h.newContact("Lima Landscaping", "")
	inv := h.newInvoice(c, "INV-0200")
	h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPush)

	linked, err := h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	require.True(t, linked.Sync.IsLinked())
	require.Equal(t, "DRAFT", h.ledger.Invoice(linked.Sync.ExternalID).Status)

	require.NoError(t, linked.Authorise())
	require.NoError(t, h.invoices.Save(h.ctx, linked))
	require.Equal(t, ledgersync.SyncStatePendingPush, linked.Sync.State)

	runs := h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Updated)
	assert.Zero(t, runs[0].Failed)

	got, err := h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.InvoiceStatusAuthorised, got.Status)
	assert.Equal(t, ledgersync.SyncStateSynced, got.Sync.State)
	assert.Equal(t, "AUTHORISED", got.Sync.Base[ledgersync.FieldStatus])
	assert.Equal(t, "AUTHORISED", h.ledger.Invoice(got.Sync.ExternalID).Status)
	writes := h.ledger.Writes()
	assert.Contains(t, writes[len(writes)-1], ledgersync.FieldStatus)

	// A pull afterwards leaves the approval alone.
	h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPull)
	got, err = h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.InvoiceStatusAuthorised, got.Status)

	// Payments against the approved invoice can now be sent.
	p, err := accounting.NewPayment(got, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(100), "DD 200", "090")
	require.NoError(t, err)
	require.NoError(t, h.payments.Save(h.ctx, p))
	runs = h.syncEntity(ledgersync.EntityTypePayment, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Created)
	assert.Zero(t, runs[0].Failed)
}

func TestSyncService_LedgerStatusWinsOverUnsentLocalApproval(t *testing.T) {
	h := newHarness(t, 0)
	c := h.newContact("Mike Masonry", "")
	inv := h.newInvoice(c, "INV-0201")
	h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPush)

	linked, err := h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	require.NoError(t, linked.Authorise())
	require.NoError(t, h.invoices.Save(h.ctx, linked))
	h.ledger.EditInvoice(linked.Sync.ExternalID, func(r *ledgersync.RemoteInvoice) { r.Status = "DELETED" })

	h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPush)

	got, err := h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.InvoiceStatusDeleted, got.Status, "both sides moved: the ledger owns status")
	assert.Equal(t, "DELETED", h.ledger.Invoice(got.Sync.ExternalID).Status)
}

func TestSyncService_PushFailureMarksRecordError(t *testing.T) {
	h := newHarness(t, 0)
	c := h.newContact("Hotel Group", "")
	h.ledger.failSave["Hotel Group"] = fmt.Errorf("%w: name already used", ledgersync.ErrLedgerValidation)

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, ledgersync.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "LEDGER_VALIDATION", runs[0].FailedItems[0].ErrorCode)

	got := h.contact(c.ID)
	assert.Equal(t, ledgersync.SyncStateError, got.Sync.State)
	assert.Contains(t, got.Sync.LastError, "LEDGER_VALIDATION")
	assert.False(t, got.Sync.IsLinked())

	// Fixed on the ledger side, the next push picks the record up again.
	delete(h.ledger.failSave, "Hotel Group")
	runs = h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	assert.Equal(t, 1, runs[0].Created)
	assert.Equal(t, ledgersync.SyncStateSynced, h.contact(c.ID).Sync.State)
}

func TestSyncService_Throttle(t *testing.T) {
	h := newHarness(t, time.Minute)
	req := ledgersync.SyncRequest{
		TenantID:   h.tenantID,
		EntityType: ledgersync.EntityTypeContact,
		Directions: []ledgersync.Direction{ledgersync.DirectionPull},
		Trigger:    ledgersync.TriggerManual,
	}

	_, err := h.sync.Sync(h.ctx, req)
	require.NoError(t, err)

	_, err = h.sync.Sync(h.ctx, req)
	require.ErrorIs(t, err, ledgersync.ErrSyncThrottled)
	wait, ok := ledgersync.RetryAfter(err)
	assert.True(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	req.Force = true
	_, err = h.sync.Sync(h.ctx, req)
	assert.NoError(t, err)
}

func TestSyncService_ThrottledRequestDoesNotStartOtherSteps(t *testing.T) {
	h := newHarness(t, time.Minute)
	req := ledgersync.SyncRequest{
		TenantID:   h.tenantID,
		EntityType: ledgersync.EntityTypeContact,
		Directions: []ledgersync.Direction{ledgersync.DirectionPush},
		Trigger:    ledgersync.TriggerManual,
	}
	_, err := h.sync.Sync(h.ctx, req)
	require.NoError(t, err)

	// Pull would be allowed, push is not; the request is refused as a whole.
	req.Directions = []ledgersync.Direction{ledgersync.DirectionPull, ledgersync.DirectionPush}
	_, err = h.sync.Sync(h.ctx, req)
	require.ErrorIs(t, err, ledgersync.ErrSyncThrottled)

	req.Directions = []ledgersync.Direction{ledgersync.DirectionPull}
	runs, err := h.sync.Sync(h.ctx, req)
	require.NoError(t, err, "no pull ran yet")
	assert.Len(t, runs, 1)
}

func TestSyncService_RefusedRequestsDoNotStartTheInterval(t *testing.T) {
	h := newHarness(t, time.Minute)
	req := ledgersync.SyncRequest{
		TenantID:   h.tenantID,
		EntityType: ledgersync.EntityTypeContact,
		Directions: []ledgersync.Direction{ledgersync.DirectionPull},
		Trigger:    ledgersync.TriggerManual,
	}

	release, err := h.locker.Acquire(h.ctx, "ledgersync:"+h.tenantID.String(), time.Minute)
	require.NoError(t, err)
	_, err = h.sync.Sync(h.ctx, req)
	require.ErrorIs(t, err, ledgersync.ErrSyncInProgress)
	require.NoError(t, release(h.ctx))

	h.tokens.err = ledgersync.ErrNotConnected
	_, err = h.sync.Sync(h.ctx, req)
	require.ErrorIs(t, err, ledgersync.ErrNotConnected)
	h.tokens.err = nil

	_, err = h.sync.Sync(h.ctx, req)
	require.NoError(t, err)

	_, err = h.sync.Sync(h.ctx, req)
	assert.ErrorIs(t, err, ledgersync.ErrSyncThrottled, "the run that started counts")
}

func TestSyncService_RejectsConcurrentSyncForTenant(t *testing.T) {
	h := newHarness(t, 0)
	release, err := h.locker.Acquire(h.ctx, "ledgersync:"+h.tenantID.String(), time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(h.ctx) }()

	_, err = h.sync.Sync(h.ctx, ledgersync.SyncRequest{
		TenantID:   h.tenantID,
		EntityType: ledgersync.EntityTypeContact,
		Trigger:    ledgersync.TriggerManual,
	})
	assert.ErrorIs(t, err, ledgersync.ErrSyncInProgress)
}

func TestSyncService_NotConnected(t *testing.T) {
	h := newHarness(t, 0)
	h.tokens.err = ledgersync.ErrNotConnected

	_, err := h.sync.SyncAll(h.ctx, h.tenantID, ledgersync.TriggerManual, true)
	assert.ErrorIs(t, err, ledgersync.ErrNotConnected)
}

func TestSyncService_SyncRequestValidation(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.sync.Sync(h.ctx, ledgersync.SyncRequest{TenantID: h.tenantID, EntityType: "ACCOUNT", Trigger: ledgersync.TriggerManual})
	assert.ErrorIs(t, err, ledgersync.ErrInvalidEntityType)

	_, err = h.sync.Sync(h.ctx, ledgersync.SyncRequest{TenantID: h.tenantID, EntityType: ledgersync.EntityTypeContact, Trigger: "CRON"})
	assert.ErrorIs(t, err, ledgersync.ErrInvalidTrigger)
}

func TestSyncService_SyncAllRunsEveryEntityInOrder(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.AddContact(ledgersync.RemoteContact{Name: "India Interiors"})
	h.newContact("Juliet Joinery", "")

	runs, err := h.sync.SyncAll(h.ctx, h.tenantID, ledgersync.TriggerScheduled, false)
	require.NoError(t, err)
	require.Len(t, runs, 6)

	var order []string
	for _, r := range runs {
		order = append(order, string(r.EntityType)+":"+string(r.Direction))
		assert.Equal(t, ledgersync.TriggerScheduled, r.Trigger)
	}
	assert.Equal(t, []string{
		"CONTACT:PULL", "CONTACT:PUSH",
		"INVOICE:PULL", "INVOICE:PUSH",
		"PAYMENT:PULL", "PAYMENT:PUSH",
	}, order)
	assert.Equal(t, 1, runs[0].Created)
	assert.Equal(t, 1, runs[1].Created)
}

func TestSyncService_ListAndGetRuns(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.AddContact(ledgersync.RemoteContact{Name: "Kilo Kitchens"})
	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull, ledgersync.DirectionPush)
	require.Len(t, runs, 2)

	page, err := h.sync.ListRuns(h.ctx, h.tenantID, appsync.SyncRunListFilter{Direction: "pull"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "PULL", page.Items[0].Direction)

	got, err := h.sync.GetRun(h.ctx, h.tenantID, runs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "PUSH", got.Direction)

	_, err = h.sync.ListRuns(h.ctx, h.tenantID, appsync.SyncRunListFilter{EntityType: "ledger"})
	assert.ErrorIs(t, err, ledgersync.ErrInvalidEntityType)
}

// phoneConflict links a contact, then changes its phone differently on both
// sides and pulls. It returns the ledger id and the local id.
func (h *harness) phoneConflict(name string) (string, uuid.UUID) {
	h.t.Helper()
	remote := h.ledger.AddContact(ledgersync.RemoteContact{Name: name, Phone: "111"})
	h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	local := h.contactByExternalID(remote.ExternalID)

	h.editContactLocally(local.ID, func(d *accounting.ContactDetails) { d.Phone = "222" })
	h.ledger.EditContact(remote.ExternalID, func(c *ledgersync.RemoteContact) { c.Phone = "333" })

	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	require.Len(h.t, runs, 1)
	require.Equal(h.t, 1, runs[0].Conflicts)
	return remote.ExternalID, local.ID
}
