package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

// ConnectionManager is the OAuth side of the Xero integration
type ConnectionManager interface {
	BeginAuthorization(ctx context.Context, tenantID, userID uuid.UUID) (*appsync.AuthorizationResponse, error)
	CompleteAuthorization(ctx context.Context, state, code string) (*ledgersync.Connection, error)
	Disconnect(ctx context.Context, tenantID uuid.UUID) error
	Status(ctx context.Context, tenantID uuid.UUID) (*appsync.ConnectionStatusResponse, error)
}

// SyncRunner runs syncs and exposes the run log
type SyncRunner interface {
	Sync(ctx context.Context, req ledgersync.SyncRequest) ([]*ledgersync.SyncRun, error)
	SyncAll(ctx context.Context, tenantID uuid.UUID, trigger ledgersync.Trigger, force bool) ([]*ledgersync.SyncRun, error)
	DryRun(ctx context.Context, tenantID uuid.UUID, entityTypes []ledgersync.EntityType, archive bool) (*appsync.ReconcileResponse, error)
	ListRuns(ctx context.Context, tenantID uuid.UUID, filter appsync.SyncRunListFilter) (*shared.Paginated[appsync.SyncRunResponse], error)
	GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*appsync.SyncRunResponse, error)
}

// ConflictResolver lists and settles field conflicts
type ConflictResolver interface {
	OwnershipRules() []ledgersync.FieldOwnership
	List(ctx context.Context, tenantID uuid.UUID, filter appsync.ConflictListFilter) (*shared.Paginated[appsync.ConflictResponse], error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*appsync.ConflictResponse, error)
	Resolve(ctx context.Context, tenantID, id uuid.UUID, req appsync.ResolveConflictRequest, userID uuid.UUID) (*appsync.ResolveResponse, error)
	Ignore(ctx context.Context, tenantID, id, userID uuid.UUID) (*appsync.ResolveResponse, error)
	BulkResolve(ctx context.Context, tenantID uuid.UUID, req appsync.BulkResolveRequest, userID uuid.UUID) ([]appsync.BulkResolveResult, error)
}

// WebhookReceiver verifies and queues ledger change notifications
type WebhookReceiver interface {
	Handle(ctx context.Context, body []byte, signature string) (*appsync.WebhookResult, error)
}

// XeroHandlerDeps wires XeroHandler
type XeroHandlerDeps struct {
	Connections ConnectionManager
	Sync        SyncRunner
	Conflicts   ConflictResolver
	Webhooks    WebhookReceiver
	// Jobs runs async sync requests; nil runs every request inline
	Jobs ledgersync.JobSubmitter
	// PostConnectRedirect is where the OAuth callback sends the browser
	PostConnectRedirect string
	Logger              *zap.Logger
}

// XeroHandler serves the /xero endpoints
type XeroHandler struct {
	BaseHandler
	deps XeroHandlerDeps
}

// NewXeroHandler creates a XeroHandler
func NewXeroHandler(deps XeroHandlerDeps) *XeroHandler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &XeroHandler{deps: deps}
}

// webhookSignatureHeader carries the base64 HMAC-SHA256 of the raw body
const webhookSignatureHeader = "x-xero-signature"

// =============================================================================
// Connection
// =============================================================================

// Connect godoc
// @Summary      Start the Xero connection
// @Description  Return the authorization URL the user should be sent to
// @Tags         xero
// @Produce      json
// @Success      200 {object} dto.Response{data=appsync.AuthorizationResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/connect [get]
func (h *XeroHandler) Connect(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid user")
		return
	}
	resp, err := h.deps.Connections.BeginAuthorization(c.Request.Context(), tenantID, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Callback godoc
// @Summary      Complete the Xero connection
// @Description  OAuth callback. Public: the state parameter identifies the tenant. Redirects when a post-connect URL is configured
// @Tags         xero
// @Produce      json
// @Param        state query string true "Authorization state"
// @Param        code query string true "Authorization code"
// @Param        error query string false "Error reported by the ledger"
// @Success      200 {object} dto.Response{data=object}
// @Success      302 "Redirect to the post-connect URL"
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      502 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /xero/callback [get]
func (h *XeroHandler) Callback(c *gin.Context) {
	if e := c.Query("error"); e != "" {
		h.deps.Logger.Info("Xero authorization declined", zap.String("error", e))
		h.callbackResult(c, nil, errors.New(e))
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		h.BadRequest(c, "state and code are required")
		return
	}

	conn, err := h.deps.Connections.CompleteAuthorization(c.Request.Context(), state, code)
	h.callbackResult(c, conn, err)
}

func (h *XeroHandler) callbackResult(c *gin.Context, conn *ledgersync.Connection, err error) {
	if h.deps.PostConnectRedirect != "" {
		target, perr := url.Parse(h.deps.PostConnectRedirect)
		if perr == nil {
			q := target.Query()
			if err != nil {
				q.Set("xero", "error")
				q.Set("reason", callbackReason(err))
			} else {
				q.Set("xero", "connected")
			}
			target.RawQuery = q.Encode()
			c.Redirect(http.StatusFound, target.String())
			return
		}
		h.deps.Logger.Warn("Invalid post-connect redirect", zap.Error(perr))
	}

	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{
		"connected":         true,
		"organisation_id":   conn.LedgerTenantID,
		"organisation_name": conn.LedgerTenantName,
	})
}

func callbackReason(err error) string {
	switch {
	case errors.Is(err, ledgersync.ErrInvalidAuthState):
		return "invalid_state"
	case errors.Is(err, ledgersync.ErrNoOrganisation):
		return "no_organisation"
	default:
		return "authorization_failed"
	}
}

// Status godoc
// @Summary      Get connection status
// @Description  Report the connection with recent runs and open conflicts
// @Tags         xero
// @Produce      json
// @Success      200 {object} dto.Response{data=appsync.ConnectionStatusResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/status [get]
func (h *XeroHandler) Status(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	resp, err := h.deps.Connections.Status(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Disconnect godoc
// @Summary      Disconnect from Xero
// @Description  Revoke the grant and forget the tokens
// @Tags         xero
// @Produce      json
// @Success      204
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/connection [delete]
func (h *XeroHandler) Disconnect(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	if err := h.deps.Connections.Disconnect(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// =============================================================================
// Sync
// =============================================================================

// syncBody is the body of POST /xero/sync
type syncBody struct {
	Force bool `json:"force"`
	Async bool `json:"async"`
}

// SyncRunsResult lists the runs a sync executed. Error is set when a later
// step failed after some runs completed.
// @Description Runs executed by a manual sync
type SyncRunsResult struct {
	Runs  []appsync.SyncRunResponse `json:"runs"`
	Error string                    `json:"error,omitempty"`
}

// SyncAll godoc
// @Summary      Sync all entity types
// @Description  Pull then push contacts, invoices and payments in dependency order
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body syncBody false "Sync options"
// @Success      200 {object} dto.Response{data=SyncRunsResult}
// @Success      202 {object} dto.Response{data=object}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      429 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/sync [post]
func (h *XeroHandler) SyncAll(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var body syncBody
	if !h.bindOptionalJSON(c, &body) {
		return
	}

	if body.Async && h.deps.Jobs != nil {
		h.submit(c, ledgersync.SyncRequest{
			TenantID:   tenantID,
			Directions: []ledgersync.Direction{ledgersync.DirectionPull, ledgersync.DirectionPush},
			Trigger:    ledgersync.TriggerManual,
			Force:      body.Force,
		})
		return
	}

	runs, err := h.deps.Sync.SyncAll(c.Request.Context(), tenantID, ledgersync.TriggerManual, body.Force)
	h.runsResult(c, runs, err)
}

// SyncEntity godoc
// @Summary      Sync one entity type
// @Description  Sync one entity type in the requested directions
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        entity path string true "Entity type" Enums(contacts, invoices, payments)
// @Param        request body appsync.SyncRequestDTO false "Sync options"
// @Success      200 {object} dto.Response{data=SyncRunsResult}
// @Success      202 {object} dto.Response{data=object}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      429 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/sync/{entity} [post]
func (h *XeroHandler) SyncEntity(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	entityType, err := ledgersync.ParseEntityType(c.Param("entity"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	var body appsync.SyncRequestDTO
	if !h.bindOptionalJSON(c, &body) {
		return
	}
	directions, err := ledgersync.ParseDirections(body.Direction)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	req := ledgersync.SyncRequest{
		TenantID:   tenantID,
		EntityType: entityType,
		Directions: directions,
		Trigger:    ledgersync.TriggerManual,
		Force:      body.Force,
	}
	if body.Async && h.deps.Jobs != nil {
		h.submit(c, req)
		return
	}

	runs, err := h.deps.Sync.Sync(c.Request.Context(), req)
	h.runsResult(c, runs, err)
}

func (h *XeroHandler) submit(c *gin.Context, req ledgersync.SyncRequest) {
	if err := h.deps.Jobs.SubmitSync(c.Request.Context(), req); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, gin.H{"queued": true})
}

// runsResult reports the runs that did execute even when a later step failed
func (h *XeroHandler) runsResult(c *gin.Context, runs []*ledgersync.SyncRun, err error) {
	if err != nil && len(runs) == 0 {
		h.HandleError(c, err)
		return
	}
	resp := SyncRunsResult{Runs: make([]appsync.SyncRunResponse, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, appsync.ToSyncRunResponse(r))
	}
	if err != nil {
		resp.Error = err.Error()
	}
	h.Success(c, resp)
}

// Reconcile godoc
// @Summary      Plan a sync
// @Description  Run the diff without writing anything and report what a sync would do
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body appsync.ReconcileRequest false "Reconcile options"
// @Success      200 {object} dto.Response{data=appsync.ReconcileResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/reconcile [post]
func (h *XeroHandler) Reconcile(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var req appsync.ReconcileRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	types := make([]ledgersync.EntityType, 0, len(req.EntityTypes))
	for _, s := range req.EntityTypes {
		t, err := ledgersync.ParseEntityType(s)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		types = append(types, t)
	}

	resp, err := h.deps.Sync.DryRun(c.Request.Context(), tenantID, types, req.Archive)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// ListRuns godoc
// @Summary      List sync runs
// @Description  Retrieve the run log, newest first
// @Tags         sync
// @Produce      json
// @Param        entity_type query string false "Entity type"
// @Param        direction query string false "Direction" Enums(PULL, PUSH)
// @Param        status query string false "Run status"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} dto.Response{data=[]appsync.SyncRunResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/sync/runs [get]
func (h *XeroHandler) ListRuns(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var filter appsync.SyncRunListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	page, err := h.deps.Sync.ListRuns(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// GetRun godoc
// @Summary      Get a sync run
// @Description  Retrieve one run with its failed items
// @Tags         sync
// @Produce      json
// @Param        id path string true "Sync run ID" format(uuid)
// @Success      200 {object} dto.Response{data=appsync.SyncRunResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/sync/runs/{id} [get]
func (h *XeroHandler) GetRun(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	run, err := h.deps.Sync.GetRun(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, run)
}

// =============================================================================
// Conflicts
// =============================================================================

// ListConflicts godoc
// @Summary      List conflicts
// @Description  Retrieve conflicts, open ones by default
// @Tags         conflicts
// @Produce      json
// @Param        status query string false "Conflict status" Enums(OPEN, RESOLVED, IGNORED)
// @Param        entity_type query string false "Entity type"
// @Param        entity_id query string false "Entity ID" format(uuid)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} dto.Response{data=[]appsync.ConflictResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/conflicts [get]
func (h *XeroHandler) ListConflicts(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	var filter appsync.ConflictListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	page, err := h.deps.Conflicts.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// GetConflict godoc
// @Summary      Get a conflict
// @Description  Retrieve one conflict
// @Tags         conflicts
// @Produce      json
// @Param        id path string true "Conflict ID" format(uuid)
// @Success      200 {object} dto.Response{data=appsync.ConflictResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/conflicts/{id} [get]
func (h *XeroHandler) GetConflict(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	conflict, err := h.deps.Conflicts.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conflict)
}

// ResolveConflict godoc
// @Summary      Resolve a conflict
// @Description  Keep the local value, take the ledger value or set a manual value
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        id path string true "Conflict ID" format(uuid)
// @Param        request body appsync.ResolveConflictRequest true "Resolution"
// @Success      200 {object} dto.Response{data=appsync.ResolveResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/conflicts/{id}/resolve [post]
func (h *XeroHandler) ResolveConflict(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid user")
		return
	}
	var req appsync.ResolveConflictRequest
	if !h.bindJSON(c, &req) {
		return
	}

	resp, err := h.deps.Conflicts.Resolve(c.Request.Context(), tenantID, id, req, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// IgnoreConflict godoc
// @Summary      Ignore a conflict
// @Description  Dismiss a conflict and suppress the same value pair
// @Tags         conflicts
// @Produce      json
// @Param        id path string true "Conflict ID" format(uuid)
// @Success      200 {object} dto.Response{data=appsync.ResolveResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/conflicts/{id}/ignore [post]
func (h *XeroHandler) IgnoreConflict(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid user")
		return
	}
	resp, err := h.deps.Conflicts.Ignore(c.Request.Context(), tenantID, id, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// BulkResolve godoc
// @Summary      Resolve many conflicts
// @Description  Settle many conflicts the same way; results are reported per id
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        request body appsync.BulkResolveRequest true "Bulk resolution"
// @Success      200 {object} dto.Response{data=[]appsync.BulkResolveResult}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/conflicts/bulk-resolve [post]
func (h *XeroHandler) BulkResolve(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid user")
		return
	}
	var req appsync.BulkResolveRequest
	if !h.bindJSON(c, &req) {
		return
	}
	results, err := h.deps.Conflicts.BulkResolve(c.Request.Context(), tenantID, req, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, results)
}

// OwnershipRules godoc
// @Summary      List ownership rules
// @Description  List which side owns each synced field
// @Tags         conflicts
// @Produce      json
// @Success      200 {object} dto.Response{data=[]ledgersync.FieldOwnership}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /xero/ownership-rules [get]
func (h *XeroHandler) OwnershipRules(c *gin.Context) {
	h.Success(c, h.deps.Conflicts.OwnershipRules())
}

// =============================================================================
// Webhooks
// =============================================================================

// Webhook godoc
// @Summary      Receive ledger webhooks
// @Description  Verify the signature and queue syncs for changed records. Replies with an empty body: 401 for a bad signature, 200 otherwise
// @Tags         webhooks
// @Accept       json
// @Param        x-xero-signature header string true "Base64 HMAC-SHA256 of the raw body"
// @Param        request body object true "Webhook payload"
// @Success      200
// @Failure      400
// @Failure      401
// @Failure      500
// @Router       /xero/webhooks [post]
func (h *XeroHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	res, err := h.deps.Webhooks.Handle(c.Request.Context(), body, c.GetHeader(webhookSignatureHeader))
	switch {
	case errors.Is(err, ledgersync.ErrInvalidWebhookSignature):
		c.Status(http.StatusUnauthorized)
	case errors.Is(err, ledgersync.ErrInvalidWebhookPayload):
		c.Status(http.StatusBadRequest)
	case err != nil:
		h.deps.Logger.Error("Webhook processing failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
	default:
		h.deps.Logger.Debug("Webhook processed",
			zap.Int("received", res.Received),
			zap.Int("queued", res.Queued),
			zap.Int("duplicates", res.Duplicates))
		c.Status(http.StatusOK)
	}
}
