package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"telecom-domainselection/internal/modem"
	"telecom-domainselection/internal/registry"
	"telecom-domainselection/internal/telephony"
	"telecom-domainselection/pkg/logger"
)

// The handlers below ingest events from the radio interface layer.
// RBAC: hidden modem role only.

type simRequest struct {
	State          telephony.SimState `json:"state"`
	SubscriptionID *int               `json:"subscription_id"`
}

// UpdateSim records a SIM state change and (re)binds the slot's subscription.
// A missing or negative subscription id unbinds the slot.
func (h Handlers) UpdateSim(c *gin.Context) {
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	var req simRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.Bridge.SetSimState(slot, req.State); err != nil {
		abort(c, http.StatusNotFound, "unknown slot")
		return
	}
	sub := telephony.InvalidSubscriptionID
	if req.SubscriptionID != nil && *req.SubscriptionID >= 0 {
		sub = *req.SubscriptionID
	}
	if err := h.Registry.BindSubscription(slot, sub); err != nil {
		h.registryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateServiceState forwards a service-state push to the slot's tracker.
func (h Handlers) UpdateServiceState(c *gin.Context) {
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	var ss telephony.ServiceState
	if err := c.ShouldBindJSON(&ss); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.Registry.UpdateServiceState(slot, ss); err != nil {
		h.registryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type barringRequest struct {
	EmergencyBarred *bool                                              `json:"emergency_barred"`
	Services        map[telephony.BarringServiceType]telephony.Barring `json:"services"`
}

// UpdateBarring forwards a barring snapshot to the slot's tracker.
func (h Handlers) UpdateBarring(c *gin.Context) {
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	var req barringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	info := telephony.BarringInfo{Services: req.Services}
	if req.EmergencyBarred != nil {
		info = telephony.NewBarringInfo(*req.EmergencyBarred)
	}
	if err := h.Registry.UpdateBarringInfo(slot, info); err != nil {
		h.registryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateIms records the IMS status of a subscription.
func (h Handlers) UpdateIms(c *gin.Context) {
	sub, ok := intParam(c, "sub_id")
	if !ok {
		return
	}
	var st modem.ImsStatus
	if err := c.ShouldBindJSON(&st); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	switch st.Registration {
	case "", modem.ImsUnregistered, modem.ImsRegistering, modem.ImsRegistered:
	default:
		abort(c, http.StatusBadRequest, "registration must be unregistered, registering or registered")
		return
	}
	if err := h.Bridge.UpdateIms(sub, st); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateSettings replaces device settings.
func (h Handlers) UpdateSettings(c *gin.Context) {
	var s modem.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.Bridge.UpdateSettings(s)
	c.Status(http.StatusNoContent)
}

type emergencyNumbersRequest struct {
	Numbers []string `json:"numbers" binding:"required"`
}

// UpdateEmergencyNumbers replaces the emergency number list.
func (h Handlers) UpdateEmergencyNumbers(c *gin.Context) {
	var req emergencyNumbersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "numbers required")
		return
	}
	h.Bridge.SetEmergencyNumbers(req.Numbers)
	c.Status(http.StatusNoContent)
}

// PendingScans lists the scans the radio layer should run.
func (h Handlers) PendingScans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scans": h.Bridge.PendingScans()})
}

// DeliverScanResult reports a registration result for a pending scan.
func (h Handlers) DeliverScanResult(c *gin.Context) {
	var res telephony.RegistrationResult
	if err := c.ShouldBindJSON(&res); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.Bridge.DeliverScanResult(c.Param("scan_id"), res); err != nil {
		if errors.Is(err, modem.ErrUnknownScan) {
			abort(c, http.StatusNotFound, "unknown scan")
			return
		}
		logger.FromGin(c).Error("scan result delivery failed", "scan_id", c.Param("scan_id"), "err", err)
		abort(c, http.StatusInternalServerError, "delivery failed")
		return
	}
	c.Status(http.StatusAccepted)
}

func (h Handlers) registryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownSlot):
		abort(c, http.StatusNotFound, "unknown slot")
	case errors.Is(err, registry.ErrClosed):
		abort(c, http.StatusServiceUnavailable, "shutting down")
	default:
		logger.FromGin(c).Error("registry call failed", "err", err)
		abort(c, http.StatusInternalServerError, "internal error")
	}
}
