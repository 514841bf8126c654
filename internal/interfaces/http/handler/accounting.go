package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	acctapp "github.com/buildops/backend/internal/application/accounting"
	"github.com/buildops/backend/internal/domain/shared"
)

// AccountingService is the local bookkeeping the sync engine mirrors
type AccountingService interface {
	CreateContact(ctx context.Context, tenantID uuid.UUID, req acctapp.CreateContactRequest) (*acctapp.ContactResponse, error)
	UpdateContact(ctx context.Context, tenantID, id uuid.UUID, req acctapp.UpdateContactRequest) (*acctapp.ContactResponse, error)
	GetContact(ctx context.Context, tenantID, id uuid.UUID) (*acctapp.ContactResponse, error)
	ListContacts(ctx context.Context, tenantID uuid.UUID, filter acctapp.ContactListFilter) (shared.Paginated[acctapp.ContactResponse], error)

	CreateInvoice(ctx context.Context, tenantID uuid.UUID, req acctapp.CreateInvoiceRequest) (*acctapp.InvoiceResponse, error)
	UpdateInvoice(ctx context.Context, tenantID, id uuid.UUID, req acctapp.UpdateInvoiceRequest) (*acctapp.InvoiceResponse, error)
	GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*acctapp.InvoiceResponse, error)
	ListInvoices(ctx context.Context, tenantID uuid.UUID, filter acctapp.InvoiceListFilter) (shared.Paginated[acctapp.InvoiceResponse], error)

	RecordPayment(ctx context.Context, tenantID uuid.UUID, req acctapp.RecordPaymentRequest) (*acctapp.PaymentResponse, error)
	DeletePayment(ctx context.Context, tenantID, id uuid.UUID) error
	ListPayments(ctx context.Context, tenantID uuid.UUID, filter acctapp.PaymentListFilter) (shared.Paginated[acctapp.PaymentResponse], error)
}

// AccountingHandler serves /accounting contacts, invoices and payments
type AccountingHandler struct {
	BaseHandler
	service AccountingService
}

// NewAccountingHandler creates an AccountingHandler
func NewAccountingHandler(service AccountingService) *AccountingHandler {
	return &AccountingHandler{service: service}
}

// CreateContact godoc
// @Summary      Create a contact
// @Description  Create a local contact; the next push sends it to the ledger
// @Tags         contacts
// @Accept       json
// @Produce      json
// @Param        request body acctapp.CreateContactRequest true "Contact creation request"
// @Success      201 {object} dto.Response{data=acctapp.ContactResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/contacts [post]
func (h *AccountingHandler) CreateContact(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var req acctapp.CreateContactRequest
	if !h.bindJSON(c, &req) {
		return
	}
	contact, err := h.service.CreateContact(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, contact)
}

// UpdateContact godoc
// @Summary      Update a contact
// @Description  Apply a partial update to a contact
// @Tags         contacts
// @Accept       json
// @Produce      json
// @Param        id path string true "Contact ID" format(uuid)
// @Param        request body acctapp.UpdateContactRequest true "Contact update request"
// @Success      200 {object} dto.Response{data=acctapp.ContactResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/contacts/{id} [put]
func (h *AccountingHandler) UpdateContact(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req acctapp.UpdateContactRequest
	if !h.bindJSON(c, &req) {
		return
	}
	contact, err := h.service.UpdateContact(c.Request.Context(), tenantID, id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, contact)
}

// GetContact godoc
// @Summary      Get a contact
// @Description  Retrieve one contact with its sync state
// @Tags         contacts
// @Accept       json
// @Produce      json
// @Param        id path string true "Contact ID" format(uuid)
// @Success      200 {object} dto.Response{data=acctapp.ContactResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/contacts/{id} [get]
func (h *AccountingHandler) GetContact(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	contact, err := h.service.GetContact(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, contact)
}

// ListContacts godoc
// @Summary      List contacts
// @Description  Retrieve a paginated list of contacts with optional filtering
// @Tags         contacts
// @Accept       json
// @Produce      json
// @Param        search query string false "Search term (name, email)"
// @Param        kind query string false "Contact kind" Enums(CUSTOMER, SUPPLIER, BOTH)
// @Param        archived query bool false "Archived contacts only"
// @Param        sync_state query string false "Sync state"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} dto.Response{data=[]acctapp.ContactResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/contacts [get]
func (h *AccountingHandler) ListContacts(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var filter acctapp.ContactListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	page, err := h.service.ListContacts(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// CreateInvoice godoc
// @Summary      Create an invoice
// @Description  Create a draft invoice, or an authorised one when asked
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        request body acctapp.CreateInvoiceRequest true "Invoice creation request"
// @Success      201 {object} dto.Response{data=acctapp.InvoiceResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/invoices [post]
func (h *AccountingHandler) CreateInvoice(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var req acctapp.CreateInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	inv, err := h.service.CreateInvoice(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, inv)
}

// UpdateInvoice godoc
// @Summary      Update an invoice
// @Description  Apply a partial update to an invoice, including approval or voiding
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body acctapp.UpdateInvoiceRequest true "Invoice update request"
// @Success      200 {object} dto.Response{data=acctapp.InvoiceResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/invoices/{id} [put]
func (h *AccountingHandler) UpdateInvoice(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req acctapp.UpdateInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	inv, err := h.service.UpdateInvoice(c.Request.Context(), tenantID, id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// GetInvoice godoc
// @Summary      Get an invoice
// @Description  Retrieve one invoice with its lines and sync state
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} dto.Response{data=acctapp.InvoiceResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/invoices/{id} [get]
func (h *AccountingHandler) GetInvoice(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// ListInvoices godoc
// @Summary      List invoices
// @Description  Retrieve a paginated list of invoices with optional filtering
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        search query string false "Search term (invoice number, reference)"
// @Param        type query string false "Invoice type" Enums(ACCREC, ACCPAY)
// @Param        status query string false "Invoice status"
// @Param        contact_id query string false "Contact ID" format(uuid)
// @Param        sync_state query string false "Sync state"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} dto.Response{data=[]acctapp.InvoiceResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/invoices [get]
func (h *AccountingHandler) ListInvoices(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var filter acctapp.InvoiceListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	page, err := h.service.ListInvoices(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// RecordPayment godoc
// @Summary      Record a payment
// @Description  Record a payment against an authorised invoice
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request body acctapp.RecordPaymentRequest true "Payment request"
// @Success      201 {object} dto.Response{data=acctapp.PaymentResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/payments [post]
func (h *AccountingHandler) RecordPayment(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var req acctapp.RecordPaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	p, err := h.service.RecordPayment(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, p)
}

// DeletePayment godoc
// @Summary      Delete a payment
// @Description  Mark a payment deleted; the deletion is pushed on the next sync
// @Tags         payments
// @Produce      json
// @Param        id path string true "Payment ID" format(uuid)
// @Success      204
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/payments/{id} [delete]
func (h *AccountingHandler) DeletePayment(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeletePayment(c.Request.Context(), tenantID, id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// ListPayments godoc
// @Summary      List payments
// @Description  Retrieve a paginated list of payments
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        invoice_id query string false "Invoice ID" format(uuid)
// @Param        status query string false "Payment status" Enums(AUTHORISED, DELETED)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} dto.Response{data=[]acctapp.PaymentResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /accounting/payments [get]
func (h *AccountingHandler) ListPayments(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var filter acctapp.PaymentListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	page, err := h.service.ListPayments(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}
