// Package xero adapts the Xero accounting API to the ledger ports used by the
// sync engine: the REST client, the OAuth provider and the webhook decoder.
package xero

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/config"
	"github.com/buildops/backend/internal/infrastructure/logger"
	"github.com/buildops/backend/internal/infrastructure/ratelimit"
	"github.com/buildops/backend/internal/infrastructure/telemetry"
)

const (
	// maxResponseSize limits the response body size to prevent memory exhaustion
	maxResponseSize = 10 * 1024 * 1024

	// PageSize is the number of records Xero returns per page
	PageSize = 100

	tenantHeader      = "xero-tenant-id"
	idempotencyHeader = "Idempotency-Key"
)

// Client implements ledgersync.LedgerClient against the Xero accounting API
type Client struct {
	cfg        config.XeroConfig
	httpClient *http.Client
	limiter    *ratelimit.KeyedLimiter
	logger     *zap.Logger

	// sleep waits between retries; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	recorder RequestRecorder
}

// RequestRecorder observes every HTTP exchange with Xero; status is 0 for transport errors
type RequestRecorder interface {
	RecordAPIRequest(ctx context.Context, method string, status int)
}

// WithRecorder sets the request recorder
func (c *Client) WithRecorder(r RequestRecorder) *Client {
	c.recorder = r
	return c
}

func (c *Client) record(ctx context.Context, method string, status int) {
	if c.recorder != nil {
		c.recorder.RecordAPIRequest(ctx, method, status)
	}
}

// NewClient creates a client. limiter paces calls per Xero tenant; nil builds
// one from the configured per-minute rate and burst.
func NewClient(cfg config.XeroConfig, limiter *ratelimit.KeyedLimiter, log *zap.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.NewKeyedLimiter(ratelimit.PerMinute(cfg.RateLimitPerMinute), cfg.RateLimitBurst, 30*time.Minute)
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     log,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// ListContacts returns one page of contacts modified since q.ModifiedSince
func (c *Client) ListContacts(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteContact], error) {
	var env contactsEnvelope
	if err := c.list(ctx, t, "/Contacts", q, &env); err != nil {
		return nil, err
	}
	page := &ledgersync.Page[*ledgersync.RemoteContact]{HasMore: len(env.Contacts) >= PageSize}
	for i := range env.Contacts {
		page.Items = append(page.Items, env.Contacts[i].toDomain())
	}
	return page, nil
}

// GetContact fetches one contact
func (c *Client) GetContact(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteContact, error) {
	var env contactsEnvelope
	if err := c.do(ctx, t, http.MethodGet, "/Contacts/"+url.PathEscape(externalID), nil, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Contacts) == 0 {
		return nil, ledgersync.ErrRemoteNotFound
	}
	return env.Contacts[0].toDomain(), nil
}

// SaveContact creates or partially updates a contact
func (c *Client) SaveContact(ctx context.Context, t ledgersync.LedgerTenant, rc *ledgersync.RemoteContact, fields []string) (*ledgersync.RemoteContact, error) {
	body := map[string]any{"Contacts": []payload{contactPayload(rc, fields)}}
	var env contactsEnvelope
	if err := c.do(ctx, t, http.MethodPost, "/Contacts", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Contacts) == 0 {
		return nil, fmt.Errorf("%w: empty contact response", ledgersync.ErrLedgerInvalidResponse)
	}
	return env.Contacts[0].toDomain(), nil
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

// ListInvoices returns one page of invoices and bills
func (c *Client) ListInvoices(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteInvoice], error) {
	var env invoicesEnvelope
	if err := c.list(ctx, t, "/Invoices", q, &env); err != nil {
		return nil, err
	}
	page := &ledgersync.Page[*ledgersync.RemoteInvoice]{HasMore: len(env.Invoices) >= PageSize}
	for i := range env.Invoices {
		page.Items = append(page.Items, env.Invoices[i].toDomain())
	}
	return page, nil
}

// GetInvoice fetches one invoice with its line items
func (c *Client) GetInvoice(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteInvoice, error) {
	var env invoicesEnvelope
	if err := c.do(ctx, t, http.MethodGet, "/Invoices/"+url.PathEscape(externalID), nil, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Invoices) == 0 {
		return nil, ledgersync.ErrRemoteNotFound
	}
	return env.Invoices[0].toDomain(), nil
}

// SaveInvoice creates or partially updates an invoice
func (c *Client) SaveInvoice(ctx context.Context, t ledgersync.LedgerTenant, inv *ledgersync.RemoteInvoice, fields []string) (*ledgersync.RemoteInvoice, error) {
	body := map[string]any{"Invoices": []payload{invoicePayload(inv, fields)}}
	var env invoicesEnvelope
	if err := c.do(ctx, t, http.MethodPost, "/Invoices", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Invoices) == 0 {
		return nil, fmt.Errorf("%w: empty invoice response", ledgersync.ErrLedgerInvalidResponse)
	}
	return env.Invoices[0].toDomain(), nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

// ListPayments returns one page of payments
func (c *Client) ListPayments(ctx context.Context, t ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemotePayment], error) {
	var env paymentsEnvelope
	if err := c.list(ctx, t, "/Payments", q, &env); err != nil {
		return nil, err
	}
	page := &ledgersync.Page[*ledgersync.RemotePayment]{HasMore: len(env.Payments) >= PageSize}
	for i := range env.Payments {
		page.Items = append(page.Items, env.Payments[i].toDomain())
	}
	return page, nil
}

// GetPayment fetches one payment
func (c *Client) GetPayment(ctx context.Context, t ledgersync.LedgerTenant, externalID string) (*ledgersync.RemotePayment, error) {
	var env paymentsEnvelope
	if err := c.do(ctx, t, http.MethodGet, "/Payments/"+url.PathEscape(externalID), nil, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Payments) == 0 {
		return nil, ledgersync.ErrRemoteNotFound
	}
	return env.Payments[0].toDomain(), nil
}

// CreatePayment applies a new payment to an invoice
func (c *Client) CreatePayment(ctx context.Context, t ledgersync.LedgerTenant, rp *ledgersync.RemotePayment) (*ledgersync.RemotePayment, error) {
	body := map[string]any{"Payments": []payload{paymentPayload(rp)}}
	var env paymentsEnvelope
	if err := c.do(ctx, t, http.MethodPut, "/Payments", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Payments) == 0 {
		return nil, fmt.Errorf("%w: empty payment response", ledgersync.ErrLedgerInvalidResponse)
	}
	return env.Payments[0].toDomain(), nil
}

// DeletePayment marks a payment deleted; Xero has no hard delete for payments
func (c *Client) DeletePayment(ctx context.Context, t ledgersync.LedgerTenant, externalID string) error {
	body := map[string]any{"Status": paymentDeleted}
	return c.do(ctx, t, http.MethodPost, "/Payments/"+url.PathEscape(externalID), nil, body, nil)
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// Connections lists the organisations the token is authorized for
func (c *Client) Connections(ctx context.Context, accessToken string) ([]ledgersync.LedgerConnection, error) {
	var conns []connection
	t := ledgersync.LedgerTenant{AccessToken: accessToken}
	if err := c.doURL(ctx, t, http.MethodGet, c.cfg.ConnectionsURL, nil, &conns); err != nil {
		return nil, err
	}
	out := make([]ledgersync.LedgerConnection, 0, len(conns))
	for i := range conns {
		out = append(out, conns[i].toDomain())
	}
	return out, nil
}

// RemoveConnection disconnects one organisation from the app
func (c *Client) RemoveConnection(ctx context.Context, accessToken, connectionID string) error {
	t := ledgersync.LedgerTenant{AccessToken: accessToken}
	u := strings.TrimRight(c.cfg.ConnectionsURL, "/") + "/" + url.PathEscape(connectionID)
	return c.doURL(ctx, t, http.MethodDelete, u, nil, nil)
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) list(ctx context.Context, t ledgersync.LedgerTenant, path string, q ledgersync.ListQuery, out any) error {
	page := q.Page
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("order", "UpdatedDateUTC ASC")

	var header http.Header
	if !q.ModifiedSince.IsZero() {
		header = http.Header{}
		header.Set("If-Modified-Since", q.ModifiedSince.UTC().Format(http.TimeFormat))
	}
	u := strings.TrimRight(c.cfg.APIBaseURL, "/") + path + "?" + query.Encode()
	return c.send(ctx, t, http.MethodGet, u, header, nil, out)
}

func (c *Client) do(ctx context.Context, t ledgersync.LedgerTenant, method, path string, header http.Header, body, out any) error {
	u := strings.TrimRight(c.cfg.APIBaseURL, "/") + path
	return c.send(ctx, t, method, u, header, body, out)
}

func (c *Client) doURL(ctx context.Context, t ledgersync.LedgerTenant, method, u string, body, out any) error {
	return c.send(ctx, t, method, u, nil, body, out)
}

// send performs the request with pacing and retries:
//   - every attempt waits on the tenant's token bucket
//   - 429 sleeps Retry-After (capped) up to MaxRetries times
//   - 5xx and transport errors back off exponentially up to MaxRetries times
//
// Writes carry an Idempotency-Key that is the same on every attempt, so a
// create retried after Xero committed it is not applied twice.
func (c *Client) send(ctx context.Context, t ledgersync.LedgerTenant, method, rawURL string, header http.Header, body, out any) error {
	var payloadBytes []byte
	if body != nil {
		var err error
		if payloadBytes, err = json.Marshal(body); err != nil {
			return fmt.Errorf("xero: failed to marshal request: %w", err)
		}
	}

	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	if payloadBytes != nil && method != http.MethodGet {
		header = header.Clone()
		if header == nil {
			header = http.Header{}
		}
		header.Set(idempotencyHeader, idempotencyKey(t.TenantID, method, path, ledgersync.WriteKey(ctx), payloadBytes))
	}
	ctx, span := telemetry.StartSpan(ctx, "xero "+method,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", method),
		telemetry.WithAttribute("http.path", path),
	)
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = c.maxRetryWait()

	limiterKey := t.TenantID
	if limiterKey == "" {
		limiterKey = "identity"
	}

	var rateLimited, transient int
	for {
		if err := c.limiter.Wait(ctx, limiterKey); err != nil {
			telemetry.RecordError(span, err)
			return err
		}

		status, respHeader, respBody, err := c.roundTrip(ctx, t, method, rawURL, header, payloadBytes)
		c.record(ctx, method, status)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if transient < c.cfg.MaxRetries {
				transient++
				if err := c.retryAfter(ctx, bo.NextBackOff(), "transport error", zap.Error(err)); err != nil {
					return err
				}
				continue
			}
			err = fmt.Errorf("%w: %v", ledgersync.ErrLedgerUnavailable, err)
			telemetry.RecordError(span, err)
			return err
		}
		telemetry.SetAttribute(span, "http.status_code", status)

		switch {
		case status == http.StatusTooManyRequests:
			wait := parseRetryAfter(respHeader.Get("Retry-After"))
			if rateLimited < c.cfg.MaxRetries {
				rateLimited++
				if err := c.retryAfter(ctx, min(wait, c.maxRetryWait()), "rate limited",
					zap.String("problem", respHeader.Get("X-Rate-Limit-Problem"))); err != nil {
					return err
				}
				continue
			}
			err := ledgersync.NewRateLimitedError(wait)
			telemetry.RecordError(span, err)
			return err

		case status >= http.StatusInternalServerError:
			if transient < c.cfg.MaxRetries {
				transient++
				if err := c.retryAfter(ctx, bo.NextBackOff(), "upstream error", zap.Int("status", status)); err != nil {
					return err
				}
				continue
			}
			err := fmt.Errorf("%w: HTTP %d", ledgersync.ErrLedgerUnavailable, status)
			telemetry.RecordError(span, err)
			return err

		case status >= http.StatusBadRequest:
			err := statusError(status, respBody)
			telemetry.RecordError(span, err)
			return err
		}

		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			telemetry.SetOK(span)
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			err = fmt.Errorf("%w: %v", ledgersync.ErrLedgerInvalidResponse, err)
			telemetry.RecordError(span, err)
			return err
		}
		telemetry.SetOK(span)
		return nil
	}
}

func (c *Client) roundTrip(ctx context.Context, t ledgersync.LedgerTenant, method, rawURL string, header http.Header, body []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("xero: failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+t.AccessToken)
	req.Header.Set("Accept", "application/json")
	if t.TenantID != "" {
		req.Header.Set(tenantHeader, t.TenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("xero: failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

// idempotencyKey hashes the write's target, the local change it carries and
// its body. Two different local records never share a key, and neither do
// two different bodies for the same record.
func idempotencyKey(tenantID, method, path, writeKey string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{tenantID, method, path, writeKey} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) retryAfter(ctx context.Context, d time.Duration, reason string, fields ...zap.Field) error {
	logger.WithLogger(ctx, c.logger).Warn("Retrying Xero request",
		append(fields, zap.String("reason", reason), zap.Duration("wait", d))...)
	return c.sleep(ctx, d)
}

func (c *Client) maxRetryWait() time.Duration {
	if c.cfg.MaxRetryWait > 0 {
		return c.cfg.MaxRetryWait
	}
	return time.Minute
}

// parseRetryAfter reads a delay in seconds, defaulting to one minute
func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return time.Minute
}

func statusError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP %d", ledgersync.ErrLedgerAuthFailed, status)
	case http.StatusNotFound:
		return ledgersync.ErrRemoteNotFound
	case http.StatusBadRequest:
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil {
			if msgs := apiErr.messages(); len(msgs) > 0 {
				return &ledgersync.ValidationError{Messages: msgs}
			}
		}
	}
	return fmt.Errorf("%w: HTTP %d", ledgersync.ErrLedgerRequestFailed, status)
}

var _ ledgersync.LedgerClient = (*Client)(nil)
