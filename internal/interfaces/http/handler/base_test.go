package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/buildops/backend/internal/interfaces/http/dto"
	"github.com/buildops/backend/internal/interfaces/http/middleware"
)

// newTestRouter builds an engine whose requests are authenticated as tenantID/userID
func newTestRouter(tenantID, userID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		setJWTContext(c, tenantID, userID)
		c.Next()
	})
	return r
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"throttled", ledgersync.NewThrottledError(42 * time.Second), http.StatusTooManyRequests, dto.ErrCodeSyncThrottled, "42"},
		{"ledger rate limited", ledgersync.NewRateLimitedError(1500 * time.Millisecond), http.StatusTooManyRequests, dto.ErrCodeRateLimited, "2"},
		{"not connected", ledgersync.ErrNotConnected, http.StatusConflict, dto.ErrCodeLedgerNotConnected, ""},
		{"reconnect required", fmt.Errorf("refresh: %w", ledgersync.ErrReconnectRequired), http.StatusUnauthorized, dto.ErrCodeLedgerReconnect, ""},
		{"in progress", ledgersync.ErrSyncInProgress, http.StatusConflict, dto.ErrCodeSyncInProgress, ""},
		{"conflict not found", ledgersync.ErrConflictNotFound, http.StatusNotFound, dto.ErrCodeNotFound, ""},
		{"upstream unavailable", fmt.Errorf("%w: 503", ledgersync.ErrLedgerUnavailable), http.StatusBadGateway, dto.ErrCodeLedgerUnavailable, ""},
		{"conflict not open", ledgersync.ErrConflictNotOpen, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState, ""},
		{"manual value", ledgersync.ErrManualValueRequired, http.StatusBadRequest, dto.ErrCodeInvalidInput, ""},
		{"invoice not found", accounting.ErrInvoiceNotFound, http.StatusNotFound, dto.ErrCodeNotFound, ""},
		{"overpayment", accounting.ErrOverpayment, http.StatusUnprocessableEntity, dto.ErrCodeOverpayment, ""},
		{"bad email", accounting.ErrInvalidEmail, http.StatusBadRequest, dto.ErrCodeInvalidInput, ""},
		{"domain error", shared.NewDomainError("CONCURRENCY_CONFLICT", "stale"), http.StatusConflict, dto.ErrCodeConcurrencyConflict, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			r := newTestRouter(uuid.New(), uuid.New())
			r.GET("/x", func(c *gin.Context) { h.HandleError(c, tt.err) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestBaseHandler_HandleError_LedgerValidationDetails(t *testing.T) {
	h := &BaseHandler{}
	r := newTestRouter(uuid.New(), uuid.New())
	r.GET("/x", func(c *gin.Context) {
		h.HandleError(c, &ledgersync.ValidationError{Messages: []string{"Email address must be valid."}})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeLedgerValidation, resp.Error.Code)
	assert.Equal(t, []string{"Email address must be valid."}, resp.Error.Details)
}

func TestBaseHandler_RequireTenant(t *testing.T) {
	h := &BaseHandler{}
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if _, ok := h.requireTenant(c); ok {
			c.Status(http.StatusOK)
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
