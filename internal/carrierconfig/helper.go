// Package carrierconfig remembers, per SIM slot, whether the last carrier seen on that slot
// supported emergency calls over NR. The value outlives SIM removal and PIN lock, when no
// live carrier config is available.
package carrierconfig

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"telecom-domainselection/internal/carrier"
)

var ErrInvalidSlot = errors.New("carrierconfig: invalid slot")

type Helper struct {
	store     Store
	slotCount int
	log       *slog.Logger
	timeout   time.Duration

	mu    sync.RWMutex
	vonr  []bool
	known []bool
}

// NewHelper loads the persisted flag of every slot. Store failures leave the slot unknown.
func NewHelper(ctx context.Context, store Store, slotCount int, log *slog.Logger) *Helper {
	if log == nil {
		log = slog.Default()
	}
	if slotCount < 1 {
		slotCount = 1
	}
	h := &Helper{
		store:     store,
		slotCount: slotCount,
		log:       log.With("component", "carrier_config_helper"),
		timeout:   2 * time.Second,
		vonr:      make([]bool, slotCount),
		known:     make([]bool, slotCount),
	}
	if store == nil {
		return h
	}
	for slot := 0; slot < slotCount; slot++ {
		v, ok, err := store.Load(ctx, slot)
		if err != nil {
			h.log.Warn("load last known vonr support failed", "slot", slot, "err", err)
			continue
		}
		h.vonr[slot], h.known[slot] = v, ok
	}
	return h
}

// IsVoNrEmergencySupported returns the last known value for slot; false when unknown.
func (h *Helper) IsVoNrEmergencySupported(slot int) bool {
	if slot < 0 || slot >= h.slotCount {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.known[slot] && h.vonr[slot]
}

// Known reports whether a value was ever recorded for slot.
func (h *Helper) Known(slot int) bool {
	if slot < 0 || slot >= h.slotCount {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.known[slot]
}

// OnCarrierConfigChanged records the policy's VoNR flag for slot.
// Non-live policies (no SIM, locked SIM) keep the previous value.
func (h *Helper) OnCarrierConfigChanged(slot int, p carrier.Policy) error {
	if slot < 0 || slot >= h.slotCount {
		return ErrInvalidSlot
	}
	if !p.Live {
		return nil
	}
	supported := p.VoNrEmergencySupported

	h.mu.Lock()
	same := h.known[slot] && h.vonr[slot] == supported
	h.vonr[slot], h.known[slot] = supported, true
	h.mu.Unlock()
	if same || h.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	changed, err := h.store.Save(ctx, slot, supported)
	if err != nil {
		h.log.Warn("persist vonr support failed", "slot", slot, "err", err)
		return err
	}
	if changed {
		h.log.Info("last known vonr support updated", "slot", slot, "sub", p.SubscriptionID, "supported", supported)
	}
	return nil
}
