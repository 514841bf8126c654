package ledgersync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
)

func TestSyncService_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t, 0)
	linked := h.ledger.AddContact(ledgersync.RemoteContact{Name: "Golf Partners", Email: "ap@golf.test"})
	h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	local := h.contactByExternalID(linked.ExternalID)
	h.editContactLocally(local.ID, func(d *accounting.ContactDetails) { d.Email = "accounts@golf.test" })

	h.ledger.AddContact(ledgersync.RemoteContact{Name: "Hotel Group"})
	h.newContact("India Interiors", "")

	resp, err := h.sync.DryRun(h.ctx, h.tenantID, []ledgersync.EntityType{ledgersync.EntityTypeContact}, false)
	require.NoError(t, err)
	report := resp.Report
	assert.Equal(t, 1, report.Count(ledgersync.EntityTypeContact, ledgersync.RecordCreateLocal))
	assert.Equal(t, 1, report.Count(ledgersync.EntityTypeContact, ledgersync.RecordCreateRemote))
	assert.Equal(t, 1, report.Count(ledgersync.EntityTypeContact, ledgersync.RecordUpdateRemote))
	assert.Zero(t, resp.ProjectedConflicts)

	assert.Empty(t, h.ledger.Writes())
	assert.Equal(t, 2, h.ledger.ContactCount())
	all, err := h.contacts.ListAll(h.ctx, h.tenantID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "ap@golf.test", h.ledger.Contact(linked.ExternalID).Email)
	assert.Equal(t, ledgersync.SyncStatePendingPush, h.contact(local.ID).Sync.State)

	require.Len(t, resp.RunIDs, 1)
	run, err := h.sync.GetRun(h.ctx, h.tenantID, resp.RunIDs[0])
	require.NoError(t, err)
	assert.True(t, run.DryRun)
	assert.Equal(t, 2, run.Created)
	assert.Equal(t, 1, run.Updated)
}

func TestSyncService_DryRunNeverMatchesAnAlreadyLinkedRecord(t *testing.T) {
	h := newHarness(t, 0)
	remote := h.ledger.AddContact(ledgersync.RemoteContact{Name: "Oscar Outfitters"})
	h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPull)
	linked := h.contactByExternalID(remote.ExternalID)
	dup := h.newContact("Oscar Outfitters", "")

	resp, err := h.sync.DryRun(h.ctx, h.tenantID, []ledgersync.EntityType{ledgersync.EntityTypeContact}, false)
	require.NoError(t, err)

	plans := map[string]ledgersync.RecordAction{}
	for _, p := range resp.Report.Plans {
		plans[p.LocalID.String()] = p.Action
	}
	assert.Equal(t, ledgersync.RecordCreateRemote, plans[dup.ID.String()])
	assert.NotContains(t, plans, linked.ID.String(), "the linked contact is unchanged")
	assert.Zero(t, resp.Report.Count(ledgersync.EntityTypeContact, ledgersync.RecordCreateLocal))

	// The real push agrees.
	runs := h.syncEntity(ledgersync.EntityTypeContact, ledgersync.DirectionPush)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Created)
	assert.NotEqual(t, remote.ExternalID, h.contact(dup.ID).Sync.ExternalID)
}

func TestSyncService_DryRunProjectsLocalApproval(t *testing.T) {
	h := newHarness(t, 0)
	c := h.newContact("Papa Paving", "")
	inv := h.newInvoice(c, "INV-0300")
	h.syncEntity(ledgersync.EntityTypeInvoice, ledgersync.DirectionPush)

	linked, err := h.invoices.FindByIDForTenant(h.ctx, h.tenantID, inv.ID)
	require.NoError(t, err)
	require.NoError(t, linked.Authorise())
	require.NoError(t, h.invoices.Save(h.ctx, linked))

	resp, err := h.sync.DryRun(h.ctx, h.tenantID, []ledgersync.EntityType{ledgersync.EntityTypeInvoice}, false)
	require.NoError(t, err)
	require.Len(t, resp.Report.Plans, 1)
	plan := resp.Report.Plans[0]
	assert.Equal(t, inv.ID, plan.LocalID)
	assert.Contains(t, plan.FieldsWith(ledgersync.FieldPushLocal), ledgersync.FieldStatus)
	assert.NotContains(t, plan.FieldsWith(ledgersync.FieldTakeRemote), ledgersync.FieldStatus)
	assert.Equal(t, "DRAFT", h.ledger.Invoice(linked.Sync.ExternalID).Status)
	assert.Equal(t, accounting.InvoiceStatusAuthorised, linked.Status)
}
