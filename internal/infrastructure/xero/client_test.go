package xero

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/config"
	"github.com/buildops/backend/internal/infrastructure/ratelimit"
)

var testTenant = ledgersync.LedgerTenant{TenantID: "org-1", AccessToken: "access-1"}

// newTestClient points a client at server with no pacing and instant retries
func newTestClient(t *testing.T, server *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	cfg := config.XeroConfig{
		APIBaseURL:     server.URL + "/api.xro/2.0",
		ConnectionsURL: server.URL + "/connections",
		MaxRetries:     2,
		MaxRetryWait:   10 * time.Second,
		Timeout:        5 * time.Second,
	}
	limiter := ratelimit.NewKeyedLimiter(rate.Inf, 1, 0)
	c := NewClient(cfg, limiter, zaptest.NewLogger(t))
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestClient_ListContacts(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api.xro/2.0/Contacts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "UpdatedDateUTC ASC", r.URL.Query().Get("order"))
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("xero-tenant-id"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, since.Format(http.TimeFormat), r.Header.Get("If-Modified-Since"))

		_, _ = io.WriteString(w, `{"Contacts":[{
			"ContactID":"c-1","Name":"Acme Ltd","EmailAddress":"ap@acme.test","ContactStatus":"ARCHIVED",
			"IsCustomer":true,
			"Phones":[{"PhoneType":"MOBILE","PhoneNumber":"999"},{"PhoneType":"DEFAULT","PhoneAreaCode":"09","PhoneNumber":"555 1234"}],
			"Addresses":[{"AddressType":"POBOX","AddressLine1":"PO Box 1","City":"Auckland"},
			             {"AddressType":"STREET","AddressLine1":"1 Queen St","City":"Auckland","PostalCode":"1010","Country":"NZ"}],
			"UpdatedDateUTC":"/Date(1767323045000+0000)/"}]}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	page, err := c.ListContacts(context.Background(), testTenant, ledgersync.ListQuery{ModifiedSince: since, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	got := page.Items[0]
	assert.Equal(t, "c-1", got.ExternalID)
	assert.Equal(t, "Acme Ltd", got.Name)
	assert.Equal(t, "09 555 1234", got.Phone)
	assert.Equal(t, "1 Queen St", got.AddressLine1)
	assert.Equal(t, "1010", got.PostalCode)
	assert.True(t, got.Archived)
	assert.True(t, got.IsCustomer)
	assert.Equal(t, time.UnixMilli(1767323045000).UTC(), got.UpdatedAt)
}

func TestClient_ListInvoices_FullPageHasMore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-Modified-Since"))
		invs := make([]map[string]any, PageSize)
		for i := range invs {
			invs[i] = map[string]any{
				"InvoiceID": "i", "Type": "ACCREC", "InvoiceNumber": "INV-1",
				"Contact":    map[string]any{"ContactID": "c-1"},
				"Date":       "/Date(1767225600000+0000)/",
				"DateString": "2026-01-01T00:00:00",
				"LineItems": []map[string]any{{
					"Description": "Labour", "Quantity": 2, "UnitAmount": 150.5, "AccountCode": "200",
					"TaxType": "OUTPUT2", "LineAmount": 301,
				}},
				"Total": 346.15, "AmountDue": 346.15,
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Invoices": invs})
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	page, err := c.ListInvoices(context.Background(), testTenant, ledgersync.ListQuery{})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, PageSize)

	inv := page.Items[0]
	assert.Equal(t, "c-1", inv.ContactExternalID)
	assert.Equal(t, "2026-01-01", inv.IssueDate.Format("2006-01-02"))
	require.Len(t, inv.Lines, 1)
	assert.True(t, decimal.RequireFromString("150.5").Equal(inv.Lines[0].UnitAmount))
	assert.True(t, decimal.RequireFromString("346.15").Equal(inv.Total))
}

func TestClient_SaveContact_PartialUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Contacts []map[string]any
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contacts, 1)
		sent := body.Contacts[0]
		assert.Equal(t, "c-1", sent["ContactID"])
		assert.Equal(t, "new@acme.test", sent["EmailAddress"])
		assert.NotContains(t, sent, "Name", "fields not requested must not be sent")
		assert.NotContains(t, sent, "Addresses")

		_, _ = io.WriteString(w, `{"Contacts":[{"ContactID":"c-1","Name":"Acme","EmailAddress":"new@acme.test"}]}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	rc := &ledgersync.RemoteContact{ExternalID: "c-1", Name: "Acme", Email: "new@acme.test"}
	got, err := c.SaveContact(context.Background(), testTenant, rc, []string{ledgersync.FieldEmail})
	require.NoError(t, err)
	assert.Equal(t, "new@acme.test", got.Email)
}

func TestClient_SaveInvoice_CreateSendsEverything(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Invoices []map[string]any
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sent := body.Invoices[0]
		assert.Equal(t, "ACCREC", sent["Type"])
		assert.NotContains(t, sent, "InvoiceID")
		assert.Equal(t, "2026-03-01", sent["Date"])
		assert.Equal(t, map[string]any{"ContactID": "c-9"}, sent["Contact"])
		lines := sent["LineItems"].([]any)
		require.Len(t, lines, 1)
		assert.Equal(t, 2.5, lines[0].(map[string]any)["Quantity"], "amounts are sent as numbers")

		_, _ = io.WriteString(w, `{"Invoices":[{"InvoiceID":"i-9","Type":"ACCREC","InvoiceNumber":"INV-0009","Contact":{"ContactID":"c-9"}}]}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	inv := &ledgersync.RemoteInvoice{
		Type:              "ACCREC",
		ContactExternalID: "c-9",
		IssueDate:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Lines: []ledgersync.LineItem{{
			Description: "Steel", Quantity: decimal.RequireFromString("2.5"), UnitAmount: decimal.NewFromInt(40),
		}},
	}
	got, err := c.SaveInvoice(context.Background(), testTenant, inv, nil)
	require.NoError(t, err)
	assert.Equal(t, "i-9", got.ExternalID)
	assert.Equal(t, "INV-0009", got.Number)
}

func TestClient_Payments(t *testing.T) {
	var deleted atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api.xro/2.0/Payments":
			var body struct{ Payments []map[string]any }
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]any{"InvoiceID": "i-1"}, body.Payments[0]["Invoice"])
			assert.Equal(t, 120.0, body.Payments[0]["Amount"])
			_, _ = io.WriteString(w, `{"Payments":[{"PaymentID":"p-1","Invoice":{"InvoiceID":"i-1","InvoiceNumber":"INV-1"},
				"Account":{"Code":"090"},"Date":"/Date(1772323200000+0000)/","Amount":120,"Status":"AUTHORISED"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api.xro/2.0/Payments/p-1":
			b, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"Status":"DELETED"}`, string(b))
			deleted.Store(true)
			_, _ = io.WriteString(w, `{"Payments":[{"PaymentID":"p-1","Status":"DELETED"}]}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	created, err := c.CreatePayment(context.Background(), testTenant, &ledgersync.RemotePayment{
		InvoiceExternalID: "i-1",
		AccountCode:       "090",
		Date:              time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:            decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	assert.Equal(t, "p-1", created.ExternalID)
	assert.Equal(t, "INV-1", created.InvoiceNumber)
	assert.Equal(t, "090", created.AccountCode)

	require.NoError(t, c.DeletePayment(context.Background(), testTenant, "p-1"))
	assert.True(t, deleted.Load())
}

func TestClient_RateLimitRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"Contacts":[{"ContactID":"c-1","Name":"A"}]}`)
	}))
	defer server.Close()

	c, slept := newTestClient(t, server)
	got, err := c.GetContact(context.Background(), testTenant, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second}, *slept)
}

func TestClient_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, slept := newTestClient(t, server)
	_, err := c.GetContact(context.Background(), testTenant, "c-1")
	require.ErrorIs(t, err, ledgersync.ErrLedgerRateLimited)

	retry, ok := ledgersync.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 120*time.Second, retry)
	// each wait is capped at MaxRetryWait
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, *slept)
}

func TestClient_ServerErrorBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, slept := newTestClient(t, server)
	_, err := c.GetInvoice(context.Background(), testTenant, "i-1")
	require.ErrorIs(t, err, ledgersync.ErrLedgerUnavailable)
	assert.True(t, ledgersync.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus MaxRetries")
	require.Len(t, *slept, 2)
	assert.Greater(t, (*slept)[1], (*slept)[0], "delay grows between attempts")
}

func TestClient_RetriedWriteKeepsIdempotencyKey(t *testing.T) {
	var (
		calls atomic.Int32
		mu    sync.Mutex
		keys  []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if r.Method == http.MethodPut && calls.Add(1) == 1 {
			// Committed, but the response is lost.
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"Payments":[{"PaymentID":"p-1","Status":"AUTHORISED"}]}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	rp := &ledgersync.RemotePayment{InvoiceExternalID: "i-1", AccountCode: "090",
		Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(120)}

	ctx := ledgersync.WithWriteKey(context.Background(), "PAYMENT:local-1:1")
	_, err := c.CreatePayment(ctx, testTenant, rp)
	require.NoError(t, err)

	_, err = c.CreatePayment(ledgersync.WithWriteKey(context.Background(), "PAYMENT:local-2:1"), testTenant, rp)
	require.NoError(t, err)

	_, err = c.GetPayment(context.Background(), testTenant, "p-1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 4)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1], "a retry resends the same key")
	assert.NotEqual(t, keys[1], keys[2], "another local payment with the same body gets its own key")
	assert.Empty(t, keys[3], "reads carry no key")
}

func TestIdempotencyKey(t *testing.T) {
	body := []byte(`{"Contacts":[{"Name":"Acme"}]}`)
	k := idempotencyKey("org-1", http.MethodPost, "/api.xro/2.0/Contacts", "CONTACT:c-1:3", body)
	assert.Len(t, k, 64)
	assert.Equal(t, k, idempotencyKey("org-1", http.MethodPost, "/api.xro/2.0/Contacts", "CONTACT:c-1:3", body))
	assert.NotEqual(t, k, idempotencyKey("org-2", http.MethodPost, "/api.xro/2.0/Contacts", "CONTACT:c-1:3", body))
	assert.NotEqual(t, k, idempotencyKey("org-1", http.MethodPost, "/api.xro/2.0/Contacts", "CONTACT:c-1:4", body))
	assert.NotEqual(t, k, idempotencyKey("org-1", http.MethodPost, "/api.xro/2.0/Contacts", "CONTACT:c-1:3", []byte(`{}`)))
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ledgersync.ErrLedgerAuthFailed},
		{"not found", http.StatusNotFound, "", ledgersync.ErrRemoteNotFound},
		{"forbidden", http.StatusForbidden, "", ledgersync.ErrLedgerRequestFailed},
		{"bad request without elements", http.StatusBadRequest, "not json", ledgersync.ErrLedgerRequestFailed},
		{"validation", http.StatusBadRequest, `{"ErrorNumber":10,"Type":"ValidationException","Message":"A validation exception occurred",
			"Elements":[{"ValidationErrors":[{"Message":"Email address must be valid."},{"Message":"Name is required."}]}]}`, ledgersync.ErrLedgerValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c, _ := newTestClient(t, server)
			_, err := c.SaveContact(context.Background(), testTenant, &ledgersync.RemoteContact{Name: "x"}, nil)
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("validation messages are kept", func(t *testing.T) {
		err := statusError(http.StatusBadRequest, []byte(`{"Elements":[{"ValidationErrors":[{"Message":"Bad date"}]}]}`))
		var ve *ledgersync.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, []string{"Bad date"}, ve.Messages)
	})
}

func TestClient_GetEmptyEnvelopeIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Payments":[]}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	_, err := c.GetPayment(context.Background(), testTenant, "p-x")
	assert.ErrorIs(t, err, ledgersync.ErrRemoteNotFound)
}

func TestClient_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Contacts":[`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	_, err := c.ListContacts(context.Background(), testTenant, ledgersync.ListQuery{})
	assert.ErrorIs(t, err, ledgersync.ErrLedgerInvalidResponse)
}

func TestClient_Connections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("xero-tenant-id"), "connections are not tenant scoped")
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/connections", r.URL.Path)
			_, _ = io.WriteString(w, `[{"id":"conn-1","tenantId":"org-1","tenantType":"ORGANISATION","tenantName":"Acme Builders"},
				{"id":"conn-2","tenantId":"prac-1","tenantType":"PRACTICE","tenantName":"Practice"}]`)
		case http.MethodDelete:
			assert.Equal(t, "/connections/conn-1", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	conns, err := c.Connections(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, ledgersync.LedgerConnection{
		ConnectionID: "conn-1", TenantID: "org-1", TenantName: "Acme Builders", TenantType: "ORGANISATION",
	}, conns[0])

	require.NoError(t, c.RemoveConnection(context.Background(), "tok", "conn-1"))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Minute, parseRetryAfter(""))
	assert.Equal(t, time.Minute, parseRetryAfter("soon"))
}
