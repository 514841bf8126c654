package ledgersync

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// DefaultCacheTTL is how long ledger reads are reused
const DefaultCacheTTL = 60 * time.Second

// CachedLedgerClient serves repeated ledger reads from a ResponseCache.
// Keys are xero:{ledger tenant}:{entity}:{query}. Any write through the client
// drops the cached reads of that entity type for the tenant.
type CachedLedgerClient struct {
	next   ledgersync.LedgerClient
	cache  ledgersync.ResponseCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLedgerClient wraps next. A nil cache disables caching.
func NewCachedLedgerClient(next ledgersync.LedgerClient, cache ledgersync.ResponseCache, ttl time.Duration, logger *zap.Logger) *CachedLedgerClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLedgerClient{next: next, cache: cache, ttl: ttl, logger: logger}
}

// CacheKey builds the key for one read
func CacheKey(ledgerTenantID string, t ledgersync.EntityType, query string) string {
	return entityPrefix(ledgerTenantID, t) + query
}

func entityPrefix(ledgerTenantID string, t ledgersync.EntityType) string {
	return "xero:" + ledgerTenantID + ":" + strings.ToLower(string(t)) + ":"
}

func listQueryKey(q ledgersync.ListQuery) string {
	since := "all"
	if !q.ModifiedSince.IsZero() {
		since = q.ModifiedSince.UTC().Format(time.RFC3339)
	}
	return "list:" + since + ":p" + strconv.Itoa(q.Page)
}

// Invalidate drops every cached read of t for the ledger tenant
func (c *CachedLedgerClient) Invalidate(ctx context.Context, ledgerTenantID string, t ledgersync.EntityType) {
	if c.cache == nil {
		return
	}
	if err := c.cache.DeletePrefix(ctx, entityPrefix(ledgerTenantID, t)); err != nil {
		c.logger.Warn("failed to invalidate ledger cache",
			zap.String("ledger_tenant_id", ledgerTenantID),
			zap.String("entity_type", string(t)),
			zap.Error(err),
		)
	}
}

// cached returns the cached value for key or loads, caches and returns it
func cached[T any](ctx context.Context, c *CachedLedgerClient, key string, load func() (T, error)) (T, error) {
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		} else if err != nil {
			c.logger.Debug("ledger cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if c.cache != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
				c.logger.Debug("ledger cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return v, nil
}

// ListContacts implements ledgersync.LedgerClient
func (c *CachedLedgerClient) ListContacts(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteContact], error) {
	key := CacheKey(t.TenantID, ledgersync.EntityTypeContact, listQueryKey(q))
	return cached(ctx, c, key, func() (*ledgersync.Page[*ledgersync.RemoteContact], error) {
		return c.next.ListContacts(ctx, t, q)
	})
}

// GetContact implements ledgersync.LedgerClient
func (c *CachedLedgerClient) GetContact(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteContact, error) {
	key := CacheKey(t.TenantID, ledgersync.EntityTypeContact, "id:"+externalID)
	return cached(ctx, c, key, func() (*ledgersync.RemoteContact, error) {
		return c.next.GetContact(ctx, t, externalID)
	})
}

// SaveContact implements ledgersync.LedgerClient
func (c *CachedLedgerClient) SaveContact(ctx context.Context, t ledgersync.LedgerTenant, rc *ledgersync.RemoteContact, fields []string) (*ledgersync.RemoteContact, error) {
	out, err := c.next.SaveContact(ctx, t, rc, fields)
	c.Invalidate(ctx, t.TenantID, ledgersync.EntityTypeContact)
	return out, err
}

// ListInvoices implements ledgersync.LedgerClient
func (c *CachedLedgerClient) ListInvoices(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteInvoice], error) {
	key := CacheKey(t.TenantID, ledgersync.EntityTypeInvoice, listQueryKey(q))
	return cached(ctx, c, key, func() (*ledgersync.Page[*ledgersync.RemoteInvoice], error) {
		return c.next.ListInvoices(ctx, t, q)
	})
}

// GetInvoice implements ledgersync.LedgerClient
func (c *CachedLedgerClient) GetInvoice(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteInvoice, error) {
	key := CacheKey(t.TenantID, ledgersync.EntityTypeInvoice, "id:"+externalID)
	return cached(ctx, c, key, func() (*ledgersync.RemoteInvoice, error) {
		return c.next.GetInvoice(ctx, t, externalID)
	})
}

// SaveInvoice implements ledgersync.LedgerClient
func (c *CachedLedgerClient) SaveInvoice(ctx context.Context, t ledgersync.LedgerTenant, inv *ledgersync.RemoteInvoice, fields []string) (*ledgersync.RemoteInvoice, error) {
	out, err := c.next.SaveInvoice(ctx, t, inv, fields)
	c.Invalidate(ctx, t.TenantID, ledgersync.EntityTypeInvoice)
	return out, err
}

// ListPayments implements ledgersync.LedgerClient
func (c *CachedLedgerClient) ListPayments(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemotePayment], error) {
	key := CacheKey(t.TenantID, ledgersync.EntityTypePayment, listQueryKey(q))
	return cached(ctx, c, key, func() (*ledgersync.Page[*ledgersync.RemotePayment], error) {
		return c.next.ListPayments(ctx, t, q)
	})
}

// GetPayment implements ledgersync.LedgerClient
func (c *CachedLedgerClient) GetPayment(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemotePayment, error) {
	key := CacheKey(t.TenantID, ledgersync.EntityTypePayment, "id:"+externalID)
	return cached(ctx, c, key, func() (*ledgersync.RemotePayment, error) {
		return c.next.GetPayment(ctx, t, externalID)
	})
}

// CreatePayment implements ledgersync.LedgerClient. A payment changes the
// invoice's paid amount, so cached invoices are dropped too.
func (c *CachedLedgerClient) CreatePayment(ctx context.Context, t ledgersync.LedgerTenant, p *ledgersync.RemotePayment) (*ledgersync.RemotePayment, error) {
	out, err := c.next.CreatePayment(ctx, t, p)
	c.Invalidate(ctx, t.TenantID, ledgersync.EntityTypePayment)
	c.Invalidate(ctx, t.TenantID, ledgersync.EntityTypeInvoice)
	return out, err
}

// DeletePayment implements ledgersync.LedgerClient
func (c *CachedLedgerClient) DeletePayment(ctx context.Context, t ledgersync.LedgerTenant, externalID string) error {
	err := c.next.DeletePayment(ctx, t, externalID)
	c.Invalidate(ctx, t.TenantID, ledgersync.EntityTypePayment)
	c.Invalidate(ctx, t.TenantID, ledgersync.EntityTypeInvoice)
	return err
}

// Connections is not cached; it runs once per authorization
func (c *CachedLedgerClient) Connections(ctx context.Context, accessToken string) ([]ledgersync.LedgerConnection, error) {
	return c.next.Connections(ctx, accessToken)
}

// RemoveConnection implements ledgersync.LedgerClient
func (c *CachedLedgerClient) RemoveConnection(ctx context.Context, accessToken, connectionID string) error {
	return c.next.RemoveConnection(ctx, accessToken, connectionID)
}

var _ ledgersync.LedgerClient = (*CachedLedgerClient)(nil)
