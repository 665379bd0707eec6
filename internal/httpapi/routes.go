package httpapi

import (
	"github.com/gin-gonic/gin"

	"telecom-domainselection/internal/rbac"
)

// Register wires the authenticated /v1 surface onto r.
// Keep this free of business logic.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.Use(authMW)

	read := rbac.RequireAnyRole(rbac.RoleViewer, rbac.RoleOperator)
	operate := rbac.RequireAnyRole(rbac.RoleOperator)
	admin := rbac.RequireAnyRole(rbac.RoleAdmin)

	v1.GET("/slots/:slot/ims", read, h.ImsState)
	v1.GET("/cross-stack", read, h.CrossStack)
	v1.GET("/audit/recent", read, h.RecentAudit)

	policies := v1.Group("/carrier-policies")
	{
		policies.GET("/:sub_id", read, h.GetCarrierPolicy)
		policies.PUT("/:sub_id", admin, h.UpsertCarrierPolicy)
		policies.POST("/:sub_id/refresh", admin, h.RefreshCarrierPolicy)
	}

	selections := v1.Group("/selections")
	selections.Use(operate)
	{
		selections.POST("", h.StartSelection)
		selections.GET("/:id", h.GetSelection)
		selections.POST("/:id/reselect", h.ReselectSelection)
		selections.POST("/:id/cancel", h.CancelSelection)
		selections.DELETE("/:id", h.FinishSelection)
	}

	m := v1.Group("/modem")
	m.Use(rbac.RequireHiddenRole(rbac.RoleModem))
	{
		m.PUT("/slots/:slot/sim", h.UpdateSim)
		m.PUT("/slots/:slot/service-state", h.UpdateServiceState)
		m.PUT("/slots/:slot/barring", h.UpdateBarring)
		m.PUT("/subscriptions/:sub_id/ims", h.UpdateIms)
		m.PUT("/settings", h.UpdateSettings)
		m.PUT("/emergency-numbers", h.UpdateEmergencyNumbers)
		m.GET("/scans", h.PendingScans)
		m.POST("/scans/:scan_id/results", h.DeliverScanResult)
	}
}
