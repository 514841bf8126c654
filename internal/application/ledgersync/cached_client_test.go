package ledgersync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/cache"
)

// countingLedger counts contact reads that reach the ledger
type countingLedger struct {
	*fakeLedger
	lists int
	gets  int
}

func (c *countingLedger) ListContacts(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteContact], error) {
	c.lists++
	return c.fakeLedger.ListContacts(ctx, t, q)
}

func (c *countingLedger) GetContact(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteContact, error) {
	c.gets++
	return c.fakeLedger.GetContact(ctx, t, externalID)
}

func newCachedClient(t *testing.T, now *time.Time) (*appsync.CachedLedgerClient, *countingLedger) {
	t.Helper()
	store := cache.NewMemoryStore(cache.WithJanitorInterval(0), cache.WithClock(func() time.Time { return *now }))
	t.Cleanup(func() { _ = store.Close() })
	inner := &countingLedger{fakeLedger: newFakeLedger()}
	return appsync.NewCachedLedgerClient(inner, store, time.Minute, zaptest.NewLogger(t)), inner
}

func TestCachedLedgerClient_ReusesReadsWithinTTL(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	client, inner := newCachedClient(t, &now)
	ctx := context.Background()
	lt := ledgersync.LedgerTenant{TenantID: "org-1", AccessToken: "token"}
	c := inner.AddContact(ledgersync.RemoteContact{Name: "Acme Builders"})

	for i := 0; i < 3; i++ {
		page, err := client.ListContacts(ctx, lt, ledgersync.ListQuery{Page: 1})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "Acme Builders", page.Items[0].Name)
	}
	assert.Equal(t, 1, inner.lists)

	got, err := client.GetContact(ctx, lt, c.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, c.ExternalID, got.ExternalID)
	_, err = client.GetContact(ctx, lt, c.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)

	now = now.Add(61 * time.Second)
	_, err = client.ListContacts(ctx, lt, ledgersync.ListQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lists, "expired entries are reloaded")
}

func TestCachedLedgerClient_WritesInvalidateEntityReads(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	client, inner := newCachedClient(t, &now)
	ctx := context.Background()
	lt := ledgersync.LedgerTenant{TenantID: "org-1", AccessToken: "token"}
	other := ledgersync.LedgerTenant{TenantID: "org-2", AccessToken: "token"}

	_, err := client.ListContacts(ctx, lt, ledgersync.ListQuery{Page: 1})
	require.NoError(t, err)
	_, err = client.ListContacts(ctx, other, ledgersync.ListQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lists)

	_, err = client.SaveContact(ctx, lt, &ledgersync.RemoteContact{Name: "Bravo Supplies"}, nil)
	require.NoError(t, err)

	page, err := client.ListContacts(ctx, lt, ledgersync.ListQuery{Page: 1})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 3, inner.lists)

	// Another organisation's reads survive.
	_, err = client.ListContacts(ctx, other, ledgersync.ListQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.lists)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "xero:org-1:contact:id:c-1", appsync.CacheKey("org-1", ledgersync.EntityTypeContact, "id:c-1"))
}
