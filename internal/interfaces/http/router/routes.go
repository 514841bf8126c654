package router

import (
	"github.com/gin-gonic/gin"

	"github.com/buildops/backend/internal/infrastructure/auth"
	"github.com/buildops/backend/internal/interfaces/http/handler"
	"github.com/buildops/backend/internal/interfaces/http/middleware"
)

// XeroRoutes are the connection, sync, conflict and webhook endpoints. The
// callback and webhook routes are public; the JWT skip paths must list them.
func XeroRoutes(h *handler.XeroHandler) *DomainGroup {
	connect := middleware.RequirePermission(auth.PermissionXeroConnect)
	syncing := middleware.RequirePermission(auth.PermissionXeroSync)
	conflicts := middleware.RequirePermission(auth.PermissionXeroConflicts)
	viewer := middleware.RequireAnyPermission(auth.PermissionXeroConnect, auth.PermissionXeroSync, auth.PermissionXeroConflicts)

	g := NewDomainGroup("xero", "/xero")

	g.GET("/connect", connect, h.Connect)
	g.GET("/callback", h.Callback)
	g.GET("/status", viewer, h.Status)
	g.DELETE("/connection", connect, h.Disconnect)

	g.POST("/sync", syncing, h.SyncAll)
	g.GET("/sync/runs", viewer, h.ListRuns)
	g.GET("/sync/runs/:id", viewer, h.GetRun)
	g.POST("/sync/:entity", syncing, h.SyncEntity)
	g.POST("/reconcile", syncing, h.Reconcile)

	g.GET("/conflicts", conflicts, h.ListConflicts)
	g.POST("/conflicts/bulk-resolve", conflicts, h.BulkResolve)
	g.GET("/conflicts/:id", conflicts, h.GetConflict)
	g.POST("/conflicts/:id/resolve", conflicts, h.ResolveConflict)
	g.POST("/conflicts/:id/ignore", conflicts, h.IgnoreConflict)
	g.GET("/ownership-rules", viewer, h.OwnershipRules)

	g.POST("/webhooks", h.Webhook)
	return g
}

// AccountingRoutes are the local contacts, invoices and payments
func AccountingRoutes(h *handler.AccountingHandler) *DomainGroup {
	read := middleware.RequireAnyPermission(auth.PermissionAccountingRead, auth.PermissionAccountingWrite)
	write := middleware.RequirePermission(auth.PermissionAccountingWrite)

	g := NewDomainGroup("accounting", "/accounting")

	g.POST("/contacts", write, h.CreateContact)
	g.GET("/contacts", read, h.ListContacts)
	g.GET("/contacts/:id", read, h.GetContact)
	g.PUT("/contacts/:id", write, h.UpdateContact)

	g.POST("/invoices", write, h.CreateInvoice)
	g.GET("/invoices", read, h.ListInvoices)
	g.GET("/invoices/:id", read, h.GetInvoice)
	g.PUT("/invoices/:id", write, h.UpdateInvoice)

	g.POST("/payments", write, h.RecordPayment)
	g.GET("/payments", read, h.ListPayments)
	g.DELETE("/payments/:id", write, h.DeletePayment)
	return g
}

// HealthRoute mounts the health check outside API versioning
func HealthRoute(engine *gin.Engine, h *handler.SystemHandler) {
	engine.GET("/health", h.Health)
}
