package handler

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/buildops/backend/internal/interfaces/http/dto"
	"github.com/buildops/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// errTenantMissing is returned when the request carries no tenant claim
var errTenantMissing = errors.New("tenant ID not found in context")

func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getUserID extracts user ID from JWT claims
func getUserID(c *gin.Context) (uuid.UUID, error) {
	userIDStr := middleware.GetJWTUserID(c)
	if userIDStr == "" {
		return uuid.Nil, errors.New("user ID not found in context")
	}
	return uuid.Parse(userIDStr)
}

// getTenantID extracts tenant ID from JWT claims
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := middleware.GetJWTTenantID(c)
	if tenantIDStr == "" {
		return uuid.Nil, errTenantMissing
	}
	return uuid.Parse(tenantIDStr)
}

// requireTenant resolves the caller's tenant or writes a 401 and returns false
func (h *BaseHandler) requireTenant(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid tenant")
		return uuid.Nil, false
	}
	return tenantID, true
}

// pathID parses the :id path parameter or writes a 400 and returns false
func (h *BaseHandler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// errorMapping ties sentinels to response codes. Order matters: the first
// match wins.
var errorMapping = []struct {
	err     error
	code    string
	message string
}{
	{ledgersync.ErrSyncThrottled, dto.ErrCodeSyncThrottled, "Sync was requested too recently"},
	{ledgersync.ErrLedgerRateLimited, dto.ErrCodeRateLimited, "Xero rate limit reached"},
	{ledgersync.ErrNotConnected, dto.ErrCodeLedgerNotConnected, "Xero is not connected"},
	{ledgersync.ErrConnectionNotFound, dto.ErrCodeLedgerNotConnected, "Xero is not connected"},
	{ledgersync.ErrReconnectRequired, dto.ErrCodeLedgerReconnect, "Xero authorization expired, reconnect required"},
	{ledgersync.ErrSyncInProgress, dto.ErrCodeSyncInProgress, "A sync is already running"},
	{ledgersync.ErrLedgerUnavailable, dto.ErrCodeLedgerUnavailable, "Xero is temporarily unavailable"},
	{ledgersync.ErrLedgerRequestFailed, dto.ErrCodeLedgerUnavailable, "Xero request failed"},
	{ledgersync.ErrLedgerInvalidResponse, dto.ErrCodeLedgerUnavailable, "Xero returned an invalid response"},
	{ledgersync.ErrLedgerAuthFailed, dto.ErrCodeLedgerReconnect, "Xero rejected the credentials"},
	{ledgersync.ErrLedgerValidation, dto.ErrCodeLedgerValidation, ""},
	{ledgersync.ErrInvalidAuthState, dto.ErrCodeAuthState, "Authorization state is invalid or expired"},
	{ledgersync.ErrNoOrganisation, dto.ErrCodeInvalidState, "No organisation was granted"},
	{ledgersync.ErrConflictNotFound, dto.ErrCodeNotFound, "Conflict not found"},
	{ledgersync.ErrSyncRunNotFound, dto.ErrCodeNotFound, "Sync run not found"},
	{ledgersync.ErrConflictNotOpen, dto.ErrCodeInvalidState, "Conflict is not open"},
	{ledgersync.ErrInvalidEntityType, dto.ErrCodeInvalidInput, ""},
	{ledgersync.ErrInvalidDirection, dto.ErrCodeInvalidInput, ""},
	{ledgersync.ErrInvalidResolution, dto.ErrCodeInvalidInput, ""},
	{ledgersync.ErrManualValueRequired, dto.ErrCodeInvalidInput, ""},
	{ledgersync.ErrBulkManualNotAllowed, dto.ErrCodeInvalidInput, ""},
	{ledgersync.ErrInvalidFieldValue, dto.ErrCodeInvalidInput, ""},
	{ledgersync.ErrUnknownField, dto.ErrCodeInvalidInput, ""},
	{accounting.ErrContactNotFound, dto.ErrCodeNotFound, "Contact not found"},
	{accounting.ErrInvoiceNotFound, dto.ErrCodeNotFound, "Invoice not found"},
	{accounting.ErrPaymentNotFound, dto.ErrCodeNotFound, "Payment not found"},
	{accounting.ErrTenantMismatch, dto.ErrCodeNotFound, "Resource not found"},
	{accounting.ErrOverpayment, dto.ErrCodeOverpayment, ""},
	{accounting.ErrInvoiceNotEditable, dto.ErrCodeInvalidState, ""},
	{accounting.ErrInvoiceNotPayable, dto.ErrCodeInvalidState, ""},
	{accounting.ErrPaymentDeleted, dto.ErrCodeInvalidState, ""},
}

// accountingInputErrors are client mistakes on accounting records
var accountingInputErrors = []error{
	accounting.ErrInvalidContactName,
	accounting.ErrInvalidContactKind,
	accounting.ErrInvalidEmail,
	accounting.ErrFieldTooLong,
	accounting.ErrInvalidInvoiceType,
	accounting.ErrInvalidInvoiceStatus,
	accounting.ErrInvalidDates,
	accounting.ErrInvalidCurrency,
	accounting.ErrInvalidLine,
	accounting.ErrInvalidAmount,
	accounting.ErrInvalidPaymentDate,
}

// HandleError maps domain errors to HTTP responses. Sentinels from the sync
// engine and accounting domain are matched first, then shared.DomainError
// codes. Anything else is a 500 with a generic message.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	if d, ok := ledgersync.RetryAfter(err); ok {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			resp := dto.NewErrorResponseWithRequestID(m.code, msg, getRequestID(c))
			var verr *ledgersync.ValidationError
			if errors.As(err, &verr) {
				resp = resp.WithDetails(verr.Messages...)
			}
			c.JSON(dto.GetHTTPStatus(m.code), resp)
			return
		}
	}
	for _, target := range accountingInputErrors {
		if errors.Is(err, target) {
			h.ErrorWithCode(c, dto.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, dto.NormalizeErrorCode(domainErr.Code), domainErr.Message)
		return
	}

	h.InternalError(c, "An unexpected error occurred")
}

// bindJSON binds the request body, writing a validation error on failure
func (h *BaseHandler) bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// bindQuery binds query parameters, writing a validation error on failure
func (h *BaseHandler) bindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// bindOptionalJSON binds a body that may be absent entirely
func (h *BaseHandler) bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}
