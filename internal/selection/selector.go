// Package selection implements the per-call domain selectors.
//
// A selector is created for one call attempt and lives on a single task queue. It
// consumes IMS state, service state and barring info pushed by the slot's imsstate.Tracker
// and reports exactly one terminal outcome per decision cycle through Callback.
package selection

import (
	"log/slog"

	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

// Callback receives the terminal outcome of a decision cycle.
type Callback interface {
	OnDomainSelected(domain telephony.Domain, useEmergencyPdn bool)
	OnWlanSelected(useEmergencyPdn bool)
	OnSelectionTerminated(cause telephony.DisconnectCause)
}

// DomainSelector is implemented by both selector variants.
type DomainSelector interface {
	SlotID() int
	SubID() int
	Kind() string
	SelectDomain(attrs telephony.SelectionAttributes, cb Callback)
	ReselectDomain(attrs telephony.SelectionAttributes)
	FinishSelection()
	CancelSelection()
}

// PolicySource hands out carrier policy snapshots.
type PolicySource interface {
	Policy(subID int) carrier.Policy
}

// VoNrSource reports the last known VoNR emergency support of a slot.
type VoNrSource interface {
	IsVoNrEmergencySupported(slot int) bool
}

const (
	KindEmergency = "emergency"
	KindNormal    = "normal"
)

// base is the lifecycle container shared by both selectors.
// Every method runs on exec.
type base struct {
	slotID int
	subID  int
	kind   string
	exec   taskqueue.Executor
	log    *slog.Logger
	rec    Recorder

	callID    string
	callback  Callback
	destroyed bool
	onDestroy func()
}

func newBase(kind string, slotID, subID int, exec taskqueue.Executor, rec Recorder, log *slog.Logger) base {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return base{
		slotID: slotID,
		subID:  subID,
		kind:   kind,
		exec:   exec,
		rec:    rec,
		log:    log.With("component", kind+"_selector", "slot", slotID, "sub", subID),
	}
}

func (b *base) SlotID() int  { return b.slotID }
func (b *base) SubID() int   { return b.subID }
func (b *base) Kind() string { return b.kind }

// SetDestroyListener registers fn to run once when the selector is destroyed.
// It must be called before the selector is used.
func (b *base) SetDestroyListener(fn func()) { b.onDestroy = fn }

func (b *base) post(fn func()) {
	if !b.exec.Post(fn) {
		b.log.Warn("selector queue closed, event dropped")
	}
}

func (b *base) outcome() Outcome {
	return Outcome{Kind: b.kind, SlotID: b.slotID, SubID: b.subID, CallID: b.callID}
}

func (b *base) notifyDomainSelected(domain telephony.Domain, useEmergencyPdn bool, reason string) {
	if b.destroyed || b.callback == nil {
		return
	}
	b.log.Info("domain selected", "call_id", b.callID, "domain", domain.String(), "emergency_pdn", useEmergencyPdn, "reason", reason)
	o := b.outcome()
	o.Type, o.Domain, o.UseEmergencyPdn, o.Reason = OutcomeDomainSelected, domain, useEmergencyPdn, reason
	b.rec.RecordOutcome(o)
	b.callback.OnDomainSelected(domain, useEmergencyPdn)
}

func (b *base) notifyWlanSelected(useEmergencyPdn bool, reason string) {
	if b.destroyed || b.callback == nil {
		return
	}
	b.log.Info("wlan selected", "call_id", b.callID, "emergency_pdn", useEmergencyPdn, "reason", reason)
	o := b.outcome()
	o.Type, o.UseEmergencyPdn, o.Reason = OutcomeWlanSelected, useEmergencyPdn, reason
	b.rec.RecordOutcome(o)
	b.callback.OnWlanSelected(useEmergencyPdn)
}

func (b *base) notifyTerminated(cause telephony.DisconnectCause, reason string) {
	if b.destroyed || b.callback == nil {
		return
	}
	b.log.Info("selection terminated", "call_id", b.callID, "cause", cause.String(), "reason", reason)
	o := b.outcome()
	o.Type, o.Cause, o.Reason = OutcomeTerminated, cause, reason
	b.rec.RecordOutcome(o)
	b.callback.OnSelectionTerminated(cause)
}

// destroy marks the selector destroyed; later events are dropped silently.
func (b *base) destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.log.Debug("selector destroyed", "call_id", b.callID)
	if b.onDestroy != nil {
		b.onDestroy()
	}
}
