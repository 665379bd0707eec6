package selection

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/crosssim"
	"telecom-domainselection/internal/imsstate"
	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

// DefaultWaitForImsStateTimeout bounds how long a selector waits for a settled IMS state.
const DefaultWaitForImsStateTimeout = 3 * time.Second

// CrossStack is the part of the cross-SIM controller a selector drives.
type CrossStack interface {
	StartTimer(req crosssim.TimerRequest)
	Release(sel crosssim.Expirer)
	NotifyCallFailure(callID string, cause telephony.DisconnectCause)
}

// EmergencyConfig wires an emergency selector to its collaborators.
// Nil collaborators are tolerated; a nil Tracker means IMS is treated as unregistered.
type EmergencyConfig struct {
	Tracker    *imsstate.Tracker
	Policies   PolicySource
	VoNr       VoNrSource
	Controller CrossStack
	Scanner    telephony.NetworkScanner
	Sims       telephony.SimStates
	Settings   telephony.DeviceSettings
	Recorder   Recorder
	Log        *slog.Logger

	WaitForImsStateTimeout time.Duration
}

type emergencyState int

const (
	emergencyIdle emergencyState = iota
	emergencyWaitingForIms
	emergencyScanning
	emergencyDialed
	emergencyTerminated
)

func (s emergencyState) String() string {
	switch s {
	case emergencyIdle:
		return "idle"
	case emergencyWaitingForIms:
		return "waiting_for_ims_state"
	case emergencyScanning:
		return "scanning"
	case emergencyDialed:
		return "dialed"
	case emergencyTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s emergencyState) pending() bool {
	return s == emergencyWaitingForIms || s == emergencyScanning
}

// emergencySnapshot is the last input acted upon; identical inputs are not re-evaluated.
type emergencySnapshot struct {
	hasReg         bool
	reg            telephony.RegistrationResult
	ims            imsstate.State
	imsWaitExpired bool
	barred         bool
}

// EmergencyCallDomainSelector selects the domain of one emergency call attempt.
type EmergencyCallDomainSelector struct {
	base
	cfg EmergencyConfig

	state  emergencyState
	attrs  telephony.SelectionAttributes
	policy carrier.Policy

	ims            imsstate.State
	barring        telephony.BarringInfo
	service        *telephony.ServiceState
	reg            *telephony.RegistrationResult
	imsWaitExpired bool
	nrFailed       bool
	subs           []*imsstate.Subscription

	lastActed  *emergencySnapshot
	attempt    int
	retryCount int
	crossStack bool

	scanToken       int
	scanOutstanding bool
	scanCancel      func()

	imsWaitTimer     *taskqueue.Timer
	scanTimer        *taskqueue.Timer
	maxCellularTimer *taskqueue.Timer
}

func NewEmergencyCallDomainSelector(slotID, subID int, exec taskqueue.Executor, cfg EmergencyConfig) *EmergencyCallDomainSelector {
	if cfg.WaitForImsStateTimeout <= 0 {
		cfg.WaitForImsStateTimeout = DefaultWaitForImsStateTimeout
	}
	return &EmergencyCallDomainSelector{
		base: newBase(KindEmergency, slotID, subID, exec, cfg.Recorder, cfg.Log),
		cfg:  cfg,
	}
}

// SelectDomain starts a decision cycle.
func (s *EmergencyCallDomainSelector) SelectDomain(attrs telephony.SelectionAttributes, cb Callback) {
	s.post(func() { s.selectDomain(attrs, cb) })
}

// ReselectDomain starts a redial cycle after a failed attempt.
func (s *EmergencyCallDomainSelector) ReselectDomain(attrs telephony.SelectionAttributes) {
	s.post(func() { s.reselectDomain(attrs) })
}

// FinishSelection releases everything. It is idempotent.
func (s *EmergencyCallDomainSelector) FinishSelection() {
	s.post(func() {
		if s.destroyed {
			return
		}
		s.stopAll()
		s.releaseCrossStack()
		s.state = emergencyTerminated
		s.unsubscribe()
		s.destroy()
	})
}

// CancelSelection aborts the in-flight cycle without a terminal callback.
func (s *EmergencyCallDomainSelector) CancelSelection() {
	s.post(func() {
		if s.destroyed {
			return
		}
		s.log.Info("selection canceled", "call_id", s.callID, "state", s.state.String())
		s.stopAll()
		s.releaseCrossStack()
		s.attempt++
		s.lastActed = nil
		s.state = emergencyIdle
	})
}

// NotifyCrossStackTimerExpired implements crosssim.Expirer.
func (s *EmergencyCallDomainSelector) NotifyCrossStackTimerExpired() {
	s.post(func() {
		if s.destroyed {
			return
		}
		s.crossStack = false
		s.rec.RecordTimerExpired(s.slotID, "cross_stack")
		if s.state == emergencyDialed {
			s.log.Info("cross stack timer expired after domain selected, ignored", "call_id", s.callID)
			return
		}
		s.terminate(telephony.CauseEmergencyTempFailure, "cross_stack_timer_expired")
	})
}

// OnCarrierConfigChanged refreshes the policy snapshot of a pending cycle.
func (s *EmergencyCallDomainSelector) OnCarrierConfigChanged() {
	s.post(func() {
		if s.destroyed || !s.state.pending() {
			return
		}
		s.policy = s.fetchPolicy()
		s.lastActed = nil
		s.evaluate()
	})
}

func (s *EmergencyCallDomainSelector) selectDomain(attrs telephony.SelectionAttributes, cb Callback) {
	if s.destroyed {
		return
	}
	if cb == nil {
		s.log.Warn("select domain without callback ignored")
		return
	}
	if s.state != emergencyIdle {
		s.log.Warn("select domain while a cycle is active ignored", "state", s.state.String())
		return
	}
	s.callback = cb
	s.attrs = attrs
	s.callID = attrs.CallID
	if s.callID == "" {
		s.callID = uuid.NewString()
	}
	if !attrs.Emergency || attrs.SlotID != s.slotID {
		s.terminate(telephony.CauseOutgoingFailure, "invalid_attributes")
		return
	}

	s.policy = s.fetchPolicy()
	if attrs.RegistrationResult != nil {
		r := *attrs.RegistrationResult
		s.reg = &r
	}
	s.subscribe()
	s.log.Info("emergency selection started", "call_id", s.callID, "reg", regString(s.reg))

	s.state = emergencyWaitingForIms
	s.armImsWait()
	s.startCrossStack()
	s.evaluate()
}

func (s *EmergencyCallDomainSelector) reselectDomain(attrs telephony.SelectionAttributes) {
	if s.destroyed {
		return
	}
	if s.callback == nil {
		s.log.Warn("reselect domain without prior select ignored")
		return
	}
	if s.state.pending() {
		s.log.Warn("reselect domain while a cycle is active ignored", "state", s.state.String())
		return
	}

	csCause := attrs.CSDisconnectCause
	psCause := attrs.PSDisconnectCause
	noCause := (csCause == telephony.CauseNotValid || csCause == telephony.CauseNotDisconnected) && psCause == nil
	if attrs.RegistrationResult != nil {
		r := *attrs.RegistrationResult
		s.reg = &r
	}
	if noCause && s.state == emergencyDialed {
		s.log.Info("reselect without new disconnect cause, keeping dialed domain", "call_id", s.callID)
		return
	}

	callID := s.callID
	s.attrs = attrs
	if attrs.CallID != "" {
		s.callID = attrs.CallID
	}
	s.retryCount++
	s.attempt++
	s.lastActed = nil
	s.log.Info("emergency reselection", "call_id", s.callID, "cs_cause", csCause.String(), "retry", s.retryCount)

	if class := telephony.ClassifyCSFailure(csCause); class != telephony.FailureNone {
		s.reportFailure(callID, csCause, class)
		return
	}

	if psCause != nil {
		switch psCause.Code {
		case telephony.ImsReasonEmergencyTempFailure:
			s.reportFailure(callID, telephony.CauseEmergencyTempFailure, telephony.FailureTemporary)
			return
		case telephony.ImsReasonEmergencyPermFailure:
			s.reportFailure(callID, telephony.CauseEmergencyPermFailure, telephony.FailurePermanent)
			return
		case telephony.ImsReasonLocalCallCSRetryRequired:
			s.selectDomainResult(telephony.DomainCS, false, "cs_retry_required")
			return
		}
		if s.reg != nil && s.reg.AccessNetwork == telephony.AccessNetworkNGRAN {
			s.nrFailed = true
		}
		in := s.input()
		if in.csAvailable() {
			s.selectDomainResult(telephony.DomainCS, false, "ps_failed_cs_available")
			return
		}
		s.state = emergencyScanning
		s.apply(in.scan(ScanCSPreferred, "ps_failed"))
		return
	}

	switch csCause {
	case telephony.CauseEmcRedialOnIms:
		s.selectDomainResult(telephony.DomainPS, true, "emc_redial_on_ims")
		return
	case telephony.CauseEmcRedialOnVoWifi:
		if s.ims.RegisteredOverWlan() && s.ims.VoiceCapable() {
			s.selectWlan(s.policy.EmergencyOverEmergencyPdn, "emc_redial_on_vowifi")
			return
		}
	}

	if !noCause {
		in := s.input()
		if in.psUsable() && in.imsVoice() && !in.EmergencyBarred {
			s.selectDomainResult(telephony.DomainPS, true, "cs_failed_ps_available")
			return
		}
		s.state = emergencyScanning
		s.apply(in.scan(ScanPSPreferred, "cs_failed"))
		return
	}

	// Canceled earlier: run a fresh cycle.
	s.state = emergencyWaitingForIms
	s.armImsWait()
	s.startCrossStack()
	s.evaluate()
}

// reportFailure forwards an emergency call failure to the cross-SIM controller and ends the cycle.
func (s *EmergencyCallDomainSelector) reportFailure(callID string, cause telephony.DisconnectCause, class telephony.FailureClass) {
	if s.cfg.Controller != nil {
		s.cfg.Controller.NotifyCallFailure(callID, cause)
		if class == telephony.FailurePermanent {
			s.releaseCrossStack()
		}
	}
	s.terminate(cause, "emergency_call_failure_"+class.String())
}

func (s *EmergencyCallDomainSelector) fetchPolicy() carrier.Policy {
	if s.cfg.Policies == nil {
		return carrier.DefaultPolicy(s.subID)
	}
	return s.cfg.Policies.Policy(s.subID)
}

func (s *EmergencyCallDomainSelector) subscribe() {
	if s.cfg.Tracker == nil {
		s.ims = imsstate.State{SubID: s.subID, Ready: true}
		return
	}
	s.subs = append(s.subs,
		s.cfg.Tracker.SubscribeBarringInfo(s.exec, s.onBarringInfo),
		s.cfg.Tracker.SubscribeServiceState(s.exec, s.onServiceState),
		s.cfg.Tracker.SubscribeImsState(s.exec, s.onImsState),
	)
}

func (s *EmergencyCallDomainSelector) unsubscribe() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
}

func (s *EmergencyCallDomainSelector) onImsState(st imsstate.State) {
	if s.destroyed {
		return
	}
	s.ims = st
	s.evaluate()
}

func (s *EmergencyCallDomainSelector) onBarringInfo(b telephony.BarringInfo) {
	if s.destroyed {
		return
	}
	s.barring = b
	s.evaluate()
}

func (s *EmergencyCallDomainSelector) onServiceState(ss telephony.ServiceState) {
	if s.destroyed {
		return
	}
	s.service = &ss
}

func (s *EmergencyCallDomainSelector) input() EmergencyInput {
	in := EmergencyInput{
		Policy:          s.policy,
		Registration:    s.reg,
		Ims:             s.ims,
		ImsWaitExpired:  s.imsWaitExpired,
		EmergencyBarred: s.barring.IsBarred(telephony.BarringServiceEmergency),
		VoLteEnabled:    s.cfg.Settings == nil || s.cfg.Settings.IsVoLteEnabled(s.subID),
		NrFailed:        s.nrFailed,
	}
	if s.cfg.VoNr != nil {
		in.LastKnownVoNr = s.cfg.VoNr.IsVoNrEmergencySupported(s.slotID)
	}
	return in
}

func (s *EmergencyCallDomainSelector) snapshot() emergencySnapshot {
	snap := emergencySnapshot{
		ims:            s.ims,
		imsWaitExpired: s.imsWaitExpired,
		barred:         s.barring.IsBarred(telephony.BarringServiceEmergency),
	}
	if s.reg != nil {
		snap.hasReg, snap.reg = true, *s.reg
	}
	return snap
}

// evaluate runs the decision function when a cycle is pending and the inputs changed.
func (s *EmergencyCallDomainSelector) evaluate() {
	if s.destroyed || !s.state.pending() {
		return
	}
	snap := s.snapshot()
	if s.lastActed != nil && *s.lastActed == snap {
		return
	}
	s.lastActed = &snap
	s.apply(DecideEmergency(s.input()))
}

func (s *EmergencyCallDomainSelector) apply(d EmergencyDecision) {
	switch d.Action {
	case ActionWait:
		s.log.Debug("waiting for ims state", "call_id", s.callID)
	case ActionSelectCS:
		s.selectDomainResult(telephony.DomainCS, false, d.Reason)
	case ActionSelectPS:
		s.selectDomainResult(telephony.DomainPS, d.UseEmergencyPdn, d.Reason)
	case ActionSelectWlan:
		s.selectWlan(d.UseEmergencyPdn, d.Reason)
	case ActionScan:
		s.stopImsWait()
		s.state = emergencyScanning
		s.requestScan(d)
	}
}

func (s *EmergencyCallDomainSelector) requestScan(d EmergencyDecision) {
	req := telephony.ScanRequest{
		SlotID:   s.slotID,
		Networks: d.Networks,
		ScanType: d.ScanType,
		Reset:    s.retryCount > 0,
	}
	if s.scanOutstanding {
		s.log.Debug("scan already outstanding, request dropped", "call_id", s.callID)
		s.rec.RecordScan(s.slotID, req, true)
		return
	}
	if s.cfg.Scanner == nil {
		s.terminate(telephony.CauseEmergencyTempFailure, "no_network_scanner")
		return
	}

	s.scanToken++
	token := s.scanToken
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancel, err := s.cfg.Scanner.RequestScan(ctx, req, func(r telephony.RegistrationResult) {
		s.post(func() { s.onScanResult(token, r) })
	})
	if err != nil {
		cancelCtx()
		s.log.Warn("network scan request failed", "call_id", s.callID, "err", err)
		s.terminate(telephony.CauseEmergencyTempFailure, "scan_request_failed")
		return
	}
	s.scanOutstanding = true
	s.scanCancel = func() {
		if cancel != nil {
			cancel()
		}
		cancelCtx()
	}
	s.log.Info("network scan requested",
		"call_id", s.callID,
		"networks", networksString(req.Networks),
		"scan_type", req.ScanType.String(),
		"preference", string(d.ScanPreference),
		"reason", d.Reason,
	)
	s.rec.RecordScan(s.slotID, req, false)
	s.armWlanTimers()
}

func (s *EmergencyCallDomainSelector) onScanResult(token int, r telephony.RegistrationResult) {
	if s.destroyed || token != s.scanToken || s.state != emergencyScanning {
		return
	}
	s.log.Debug("scan result", "call_id", s.callID, "reg", r.String())
	s.reg = &r
	s.evaluate()
}

func (s *EmergencyCallDomainSelector) cancelScan() {
	if s.scanCancel != nil {
		s.scanCancel()
	}
	s.scanCancel = nil
	s.scanOutstanding = false
	s.scanToken++
}

func (s *EmergencyCallDomainSelector) simLocked() bool {
	return s.cfg.Sims != nil && s.cfg.Sims.SimState(s.slotID).IsLocked()
}

// armWlanTimers arms the max-cellular timer before the scan timer so it runs first on equal deadlines.
func (s *EmergencyCallDomainSelector) armWlanTimers() {
	if s.scanTimer != nil || s.maxCellularTimer != nil {
		return
	}
	p := s.policy
	roaming := s.reg != nil && s.reg.IsRoaming()
	if !p.AllowsWlan(roaming) {
		return
	}
	if s.simLocked() && !telephony.OtherSlotUsable(s.cfg.Sims, s.slotID) {
		s.log.Debug("sim locked without another usable slot, wlan timers not armed", "call_id", s.callID)
		return
	}
	attempt := s.attempt
	if p.EmergencyOverEmergencyPdn && p.MaxCellularTimeout > 0 {
		s.maxCellularTimer = s.exec.PostDelayed(p.MaxCellularTimeout, func() { s.onMaxCellularTimeout(attempt) })
	}
	if p.ScanTimeout > 0 {
		s.scanTimer = s.exec.PostDelayed(p.ScanTimeout, func() { s.onScanTimeout(attempt) })
	}
}

func (s *EmergencyCallDomainSelector) wlanAvailable() bool {
	return s.ims.RegisteredOverWlan() && s.ims.VoiceCapable() &&
		VoWifiConditionMet(s.policy, s.cfg.Settings, s.slotID, s.subID)
}

func (s *EmergencyCallDomainSelector) onScanTimeout(attempt int) {
	s.scanTimer = nil
	if s.destroyed || attempt != s.attempt || s.state != emergencyScanning {
		return
	}
	s.rec.RecordTimerExpired(s.slotID, "network_scan")
	if s.maxCellularTimer != nil {
		s.maxCellularTimer.Stop()
		s.maxCellularTimer = nil
	}
	if s.wlanAvailable() {
		s.selectWlan(s.policy.EmergencyOverEmergencyPdn, "network_scan_timeout")
		return
	}
	s.log.Info("network scan timeout without wlan, still scanning", "call_id", s.callID)
}

func (s *EmergencyCallDomainSelector) onMaxCellularTimeout(attempt int) {
	s.maxCellularTimer = nil
	if s.destroyed || attempt != s.attempt || s.state != emergencyScanning {
		return
	}
	s.rec.RecordTimerExpired(s.slotID, "max_cellular")
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
	if s.wlanAvailable() {
		s.selectWlan(true, "max_cellular_timeout")
		return
	}
	s.log.Info("max cellular timeout without wlan, still scanning", "call_id", s.callID)
}

func (s *EmergencyCallDomainSelector) armImsWait() {
	if s.imsWaitTimer != nil {
		return
	}
	s.imsWaitExpired = false
	attempt := s.attempt
	s.imsWaitTimer = s.exec.PostDelayed(s.cfg.WaitForImsStateTimeout, func() { s.onImsWaitTimeout(attempt) })
}

func (s *EmergencyCallDomainSelector) onImsWaitTimeout(attempt int) {
	s.imsWaitTimer = nil
	if s.destroyed || attempt != s.attempt || s.state != emergencyWaitingForIms {
		return
	}
	s.rec.RecordTimerExpired(s.slotID, "wait_for_ims_state")
	s.log.Info("ims state not settled in time, treating ims as unregistered", "call_id", s.callID)
	s.imsWaitExpired = true
	s.evaluate()
}

func (s *EmergencyCallDomainSelector) stopImsWait() {
	if s.imsWaitTimer != nil {
		s.imsWaitTimer.Stop()
		s.imsWaitTimer = nil
	}
}

func (s *EmergencyCallDomainSelector) stopWlanTimers() {
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
	if s.maxCellularTimer != nil {
		s.maxCellularTimer.Stop()
		s.maxCellularTimer = nil
	}
}

func (s *EmergencyCallDomainSelector) stopAll() {
	s.stopImsWait()
	s.cancelScan()
	s.stopWlanTimers()
}

func (s *EmergencyCallDomainSelector) startCrossStack() {
	if s.cfg.Controller == nil || s.crossStack {
		return
	}
	inService := s.reg != nil && s.reg.IsRegistered()
	roaming := s.reg != nil && s.reg.IsRoaming()
	if s.cfg.Tracker != nil {
		if ss, ok := s.cfg.Tracker.ServiceState(); ok {
			inService = ss.InService()
			roaming = ss.Roaming
		}
	}
	s.crossStack = true
	s.cfg.Controller.StartTimer(crosssim.TimerRequest{
		Selector:                 s,
		SlotID:                   s.slotID,
		SubID:                    s.subID,
		CallID:                   s.callID,
		Number:                   s.attrs.Number,
		InService:                inService,
		Roaming:                  roaming,
		RetryCount:               s.retryCount,
		QuickTimeout:             s.policy.QuickCrossStackTimeout,
		NormalTimeout:            s.policy.NormalCrossStackTimeout,
		StartQuickWhenRegistered: s.policy.StartQuickCrossStackTimerWhenRegistered,
	})
}

func (s *EmergencyCallDomainSelector) releaseCrossStack() {
	if s.cfg.Controller == nil || !s.crossStack {
		return
	}
	s.crossStack = false
	s.cfg.Controller.Release(s)
}

func (s *EmergencyCallDomainSelector) selectDomainResult(domain telephony.Domain, useEmergencyPdn bool, reason string) {
	s.stopAll()
	s.state = emergencyDialed
	s.notifyDomainSelected(domain, useEmergencyPdn, reason)
}

func (s *EmergencyCallDomainSelector) selectWlan(useEmergencyPdn bool, reason string) {
	s.stopAll()
	s.state = emergencyDialed
	s.notifyWlanSelected(useEmergencyPdn, reason)
}

func (s *EmergencyCallDomainSelector) terminate(cause telephony.DisconnectCause, reason string) {
	s.stopAll()
	s.state = emergencyTerminated
	s.notifyTerminated(cause, reason)
	s.unsubscribe()
	s.destroy()
}

func regString(r *telephony.RegistrationResult) string {
	if r == nil {
		return "none"
	}
	return r.String()
}

func networksString(list []telephony.AccessNetworkType) string {
	out := make([]byte, 0, len(list)*7)
	for i, a := range list {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, a.String()...)
	}
	return string(out)
}
