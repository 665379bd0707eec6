// Package metrics provides Prometheus metrics for domain selection.
// Labels are restricted to bounded sets; call ids and subscription ids never become labels.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SelectionOutcomeTotal counts terminal callbacks by selector kind, outcome and domain/cause.
	SelectionOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainselection_outcome_total",
		Help: "Total number of selection outcomes, by selector kind, outcome and detail (domain or cause).",
	}, []string{"kind", "outcome", "detail"})

	// ScanRequestTotal counts network scan requests by first access network and scan type.
	ScanRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainselection_scan_request_total",
		Help: "Total number of emergency network scan requests, by first access network and scan type.",
	}, []string{"first_network", "scan_type"})

	// ScanDeduplicatedTotal counts scan requests dropped because a scan was outstanding.
	ScanDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "domainselection_scan_deduplicated_total",
		Help: "Total number of scan requests dropped because a scan was already outstanding.",
	})

	// TimerExpiredTotal counts selector timer expiries by timer name.
	TimerExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainselection_timer_expired_total",
		Help: "Total number of selector timer expiries, by timer.",
	}, []string{"timer"})

	// CrossStackExpiryTotal counts cross-stack timer expiries by timer kind and result.
	CrossStackExpiryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainselection_cross_stack_expiry_total",
		Help: "Total number of cross-stack timer expiries, by kind and result (notified or suppression reason).",
	}, []string{"kind", "result"})

	// CrossStackOwnerSlot is the slot owning the cross-stack window, -1 when none.
	CrossStackOwnerSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "domainselection_cross_stack_owner_slot",
		Help: "Slot currently owning the cross-stack redial window, -1 when none.",
	})

	// ActiveSelectors tracks live selectors by slot and kind.
	ActiveSelectors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "domainselection_active_selectors",
		Help: "Current number of live selectors, by slot and selector kind.",
	}, []string{"slot", "kind"})

	// ImsRegistered is 1 while IMS is registered on the slot.
	ImsRegistered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "domainselection_ims_registered",
		Help: "Whether IMS is registered on the slot (1) or not (0), by access network.",
	}, []string{"slot", "access_network"})
)

const maxSlotLabel = 4

// SlotLabel bounds the slot label to 0..3 and "other".
func SlotLabel(slot int) string {
	if slot < 0 || slot >= maxSlotLabel {
		return "other"
	}
	return strconv.Itoa(slot)
}

func normaliseKind(kind string) string {
	switch kind {
	case "emergency", "normal":
		return kind
	default:
		return "unknown"
	}
}

func normaliseOutcome(outcome string) string {
	switch outcome {
	case "domain_selected", "wlan_selected", "terminated":
		return outcome
	default:
		return "unknown"
	}
}

// RecordOutcome increments the outcome counter.
func RecordOutcome(kind, outcome, detail string) {
	if detail == "" {
		detail = "none"
	}
	SelectionOutcomeTotal.WithLabelValues(normaliseKind(kind), normaliseOutcome(outcome), detail).Inc()
}

// RecordScan increments the scan request counter.
func RecordScan(firstNetwork, scanType string) {
	if firstNetwork == "" {
		firstNetwork = "none"
	}
	ScanRequestTotal.WithLabelValues(firstNetwork, scanType).Inc()
}

func RecordScanDeduplicated() { ScanDeduplicatedTotal.Inc() }

func RecordTimerExpired(timer string) {
	switch timer {
	case "network_scan", "max_cellular", "wait_for_ims_state", "cross_stack":
	default:
		timer = "other"
	}
	TimerExpiredTotal.WithLabelValues(timer).Inc()
}

// RecordCrossStackExpiry records an expiry; an empty reason means the owner was notified.
func RecordCrossStackExpiry(kind string, suppressed bool, reason string) {
	result := "notified"
	if suppressed {
		result = reason
		if result == "" {
			result = "suppressed"
		}
	}
	CrossStackExpiryTotal.WithLabelValues(kind, result).Inc()
}

func SetCrossStackOwner(slot int) { CrossStackOwnerSlot.Set(float64(slot)) }

func SelectorStarted(slot int, kind string) {
	ActiveSelectors.WithLabelValues(SlotLabel(slot), normaliseKind(kind)).Inc()
}

func SelectorDestroyed(slot int, kind string) {
	ActiveSelectors.WithLabelValues(SlotLabel(slot), normaliseKind(kind)).Dec()
}

// SetImsRegistered resets the slot's series and marks the current access network.
func SetImsRegistered(slot int, registered bool, accessNetwork string) {
	s := SlotLabel(slot)
	ImsRegistered.DeletePartialMatch(prometheus.Labels{"slot": s})
	v := 0.0
	if registered {
		v = 1
	}
	ImsRegistered.WithLabelValues(s, accessNetwork).Set(v)
}
