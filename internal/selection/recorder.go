package selection

import (
	"context"
	"log/slog"
	"time"

	"telecom-domainselection/internal/audit"
	"telecom-domainselection/internal/metrics"
	"telecom-domainselection/internal/telephony"
)

type OutcomeType string

const (
	OutcomeDomainSelected OutcomeType = "domain_selected"
	OutcomeWlanSelected   OutcomeType = "wlan_selected"
	OutcomeTerminated     OutcomeType = "terminated"
)

// Outcome is one terminal callback as seen by observers.
type Outcome struct {
	Type            OutcomeType
	Kind            string
	SlotID          int
	SubID           int
	CallID          string
	Domain          telephony.Domain
	UseEmergencyPdn bool
	Cause           telephony.DisconnectCause
	Reason          string
}

// Recorder observes selector activity. Implementations must not block.
type Recorder interface {
	RecordOutcome(o Outcome)
	RecordScan(slotID int, req telephony.ScanRequest, deduplicated bool)
	RecordTimerExpired(slotID int, timer string)
}

type NopRecorder struct{}

func (NopRecorder) RecordOutcome(Outcome)                       {}
func (NopRecorder) RecordScan(int, telephony.ScanRequest, bool) {}
func (NopRecorder) RecordTimerExpired(int, string)              {}

// MetricsRecorder maps selector activity onto the Prometheus metrics.
type MetricsRecorder struct{}

func (MetricsRecorder) RecordOutcome(o Outcome) {
	detail := ""
	switch o.Type {
	case OutcomeDomainSelected:
		detail = o.Domain.String()
	case OutcomeWlanSelected:
		detail = "wlan"
	case OutcomeTerminated:
		detail = o.Cause.String()
	}
	metrics.RecordOutcome(o.Kind, string(o.Type), detail)
}

func (MetricsRecorder) RecordScan(_ int, req telephony.ScanRequest, deduplicated bool) {
	if deduplicated {
		metrics.RecordScanDeduplicated()
		return
	}
	first := ""
	if len(req.Networks) > 0 {
		first = req.Networks[0].String()
	}
	metrics.RecordScan(first, req.ScanType.String())
}

func (MetricsRecorder) RecordTimerExpired(_ int, timer string) { metrics.RecordTimerExpired(timer) }

// AuditRecorder bridges selector outcomes to the shared audit.Service.
//
// Appends run off the selector queue so persistence latency never delays a decision.
type AuditRecorder struct {
	Audit   *audit.Service
	Log     *slog.Logger
	Timeout time.Duration
}

func (a AuditRecorder) RecordOutcome(o Outcome) {
	if a.Audit == nil {
		return
	}
	e := audit.Event{
		SlotID:    o.SlotID,
		SubID:     o.SubID,
		CallID:    o.CallID,
		Emergency: o.Kind == KindEmergency,
		Reason:    o.Reason,
	}
	switch o.Type {
	case OutcomeDomainSelected:
		e.Type = audit.EventTypeDomainSelected
		e.Domain = domainLabel(o.Domain)
		e.UseEmergencyPdn = o.UseEmergencyPdn
	case OutcomeWlanSelected:
		e.Type = audit.EventTypeWlanSelected
		e.Domain = "wlan"
		e.UseEmergencyPdn = o.UseEmergencyPdn
	case OutcomeTerminated:
		e.Type = audit.EventTypeTerminated
		e.Cause = o.Cause.String()
	default:
		return
	}
	go a.append(e)
}

func (a AuditRecorder) append(e audit.Event) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Audit.Append(ctx, e); err != nil {
		log := a.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("audit append failed", "type", string(e.Type), "call_id", e.CallID, "err", err)
	}
}

func (AuditRecorder) RecordScan(int, telephony.ScanRequest, bool) {}
func (AuditRecorder) RecordTimerExpired(int, string)              {}

func domainLabel(d telephony.Domain) string {
	switch {
	case d.Has(telephony.DomainPS):
		return "ps"
	case d.Has(telephony.DomainCS):
		return "cs"
	default:
		return ""
	}
}

// Recorders fans out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordOutcome(o Outcome) {
	for _, r := range rs {
		r.RecordOutcome(o)
	}
}

func (rs Recorders) RecordScan(slotID int, req telephony.ScanRequest, deduplicated bool) {
	for _, r := range rs {
		r.RecordScan(slotID, req, deduplicated)
	}
}

func (rs Recorders) RecordTimerExpired(slotID int, timer string) {
	for _, r := range rs {
		r.RecordTimerExpired(slotID, timer)
	}
}
