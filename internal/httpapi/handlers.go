package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"telecom-domainselection/internal/audit"
	"telecom-domainselection/internal/auth"
	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/modem"
	"telecom-domainselection/internal/registry"
	"telecom-domainselection/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Registry *registry.Registry
	Bridge   *modem.Bridge
	Audit    *audit.Service
	Sessions *Sessions
}

func NewHandlers(reg *registry.Registry, bridge *modem.Bridge, a *audit.Service) Handlers {
	return Handlers{Registry: reg, Bridge: bridge, Audit: a, Sessions: NewSessions()}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func intParam(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 0 {
		abort(c, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// Health reports process liveness and the selector population.
func (h Handlers) Health(c *gin.Context) {
	if h.Registry == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"slots":            h.Registry.SlotCount(),
		"active_selectors": h.Registry.ActiveSelectors(),
	})
}

// ImsState returns the tracker snapshot of one slot.
func (h Handlers) ImsState(c *gin.Context) {
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	tr, err := h.Registry.Tracker(slot)
	if err != nil {
		abort(c, http.StatusNotFound, "unknown slot")
		return
	}
	sub, _ := h.Registry.SubscriptionID(slot)
	resp := gin.H{
		"slot":            slot,
		"subscription_id": sub,
		"ims":             tr.Snapshot(),
	}
	if ss, ok := tr.ServiceState(); ok {
		resp["service_state"] = ss
	}
	if b, ok := tr.BarringInfo(); ok {
		resp["barring"] = b
	}
	c.JSON(http.StatusOK, resp)
}

// CrossStack returns the cross-SIM redialing controller state.
func (h Handlers) CrossStack(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Controller().Snapshot())
}

// GetCarrierPolicy returns the effective policy snapshot of a subscription.
func (h Handlers) GetCarrierPolicy(c *gin.Context) {
	sub, ok := intParam(c, "sub_id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Registry.Carrier().Policy(sub))
}

// UpsertCarrierPolicy stores a carrier policy and applies it as a
// carrier-config-changed event. RBAC: admin.
func (h Handlers) UpsertCarrierPolicy(c *gin.Context) {
	sub, ok := intParam(c, "sub_id")
	if !ok {
		return
	}
	var p carrier.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	p.SubscriptionID = sub
	p.Live = true

	if err := h.Registry.Carrier().Upsert(c.Request.Context(), p); err != nil {
		if errors.Is(err, carrier.ErrInvalidPolicy) {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		logger.FromGin(c).Error("carrier policy upsert failed", "sub", sub, "err", err)
		abort(c, http.StatusInternalServerError, "policy store failed")
		return
	}
	h.logAdminAction(c, sub, "carrier policy updated")
	c.JSON(http.StatusOK, h.Registry.Carrier().Policy(sub))
}

// RefreshCarrierPolicy drops the cached snapshot and re-notifies listeners.
func (h Handlers) RefreshCarrierPolicy(c *gin.Context) {
	sub, ok := intParam(c, "sub_id")
	if !ok {
		return
	}
	h.Registry.Carrier().NotifyCarrierConfigChanged(sub)
	h.logAdminAction(c, sub, "carrier config refresh")
	c.JSON(http.StatusOK, h.Registry.Carrier().Policy(sub))
}

func (h Handlers) logAdminAction(c *gin.Context, sub int, msg string) {
	if h.Audit == nil {
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if err := h.Audit.LogAdminAction(c.Request.Context(), uid, role, c.ClientIP(), sub, msg, ""); err != nil {
		logger.FromGin(c).Warn("audit append failed", "sub", sub, "err", err)
	}
}

// RecentAudit lists the newest audit events.
func (h Handlers) RecentAudit(c *gin.Context) {
	if h.Audit == nil {
		abort(c, http.StatusNotFound, "audit disabled")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("audit list failed", "err", err)
		abort(c, http.StatusInternalServerError, "audit list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
