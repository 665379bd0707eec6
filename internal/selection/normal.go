package selection

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/imsstate"
	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

// NormalConfig wires a normal selector to its collaborators.
type NormalConfig struct {
	Tracker  *imsstate.Tracker
	Policies PolicySource
	Settings telephony.DeviceSettings
	Recorder Recorder
	Log      *slog.Logger

	WaitForImsStateTimeout time.Duration
}

type SelectorState int

const (
	StateInactive SelectorState = iota
	StateActive
	StateDestroyed
)

func (s SelectorState) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActive:
		return "ACTIVE"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// NormalCallDomainSelector selects the domain of an ordinary outgoing call.
type NormalCallDomainSelector struct {
	base
	cfg NormalConfig

	state  SelectorState
	attrs  telephony.SelectionAttributes
	policy carrier.Policy

	ims         imsstate.State
	service     *telephony.ServiceState
	waitExpired bool
	subs        []*imsstate.Subscription

	attempt   int
	waitTimer *taskqueue.Timer
}

func NewNormalCallDomainSelector(slotID, subID int, exec taskqueue.Executor, cfg NormalConfig) *NormalCallDomainSelector {
	if cfg.WaitForImsStateTimeout <= 0 {
		cfg.WaitForImsStateTimeout = DefaultWaitForImsStateTimeout
	}
	return &NormalCallDomainSelector{
		base: newBase(KindNormal, slotID, subID, exec, cfg.Recorder, cfg.Log),
		cfg:  cfg,
	}
}

// State is the selector state. It must be called on the selector's queue.
func (s *NormalCallDomainSelector) State() SelectorState { return s.state }

func (s *NormalCallDomainSelector) SelectDomain(attrs telephony.SelectionAttributes, cb Callback) {
	s.post(func() { s.selectDomain(attrs, cb) })
}

func (s *NormalCallDomainSelector) ReselectDomain(attrs telephony.SelectionAttributes) {
	s.post(func() { s.reselectDomain(attrs) })
}

func (s *NormalCallDomainSelector) FinishSelection() {
	s.post(func() {
		if s.destroyed {
			return
		}
		s.stopWait()
		s.unsubscribe()
		s.state = StateDestroyed
		s.destroy()
	})
}

func (s *NormalCallDomainSelector) CancelSelection() {
	s.post(func() {
		if s.destroyed || s.state != StateActive {
			return
		}
		s.log.Info("selection canceled", "call_id", s.callID)
		s.stopWait()
		s.attempt++
		s.state = StateInactive
	})
}

// OnCarrierConfigChanged refreshes the policy snapshot of an active cycle.
func (s *NormalCallDomainSelector) OnCarrierConfigChanged() {
	s.post(func() {
		if s.destroyed || s.state != StateActive {
			return
		}
		s.policy = s.fetchPolicy()
		s.evaluate()
	})
}

func (s *NormalCallDomainSelector) validate(attrs telephony.SelectionAttributes) string {
	switch {
	case !attrs.HasValidSubscription():
		return "invalid_subscription"
	case attrs.Type != telephony.SelectorTypeCalling:
		return "invalid_selector_type"
	case attrs.Emergency:
		return "emergency_call"
	default:
		return ""
	}
}

func (s *NormalCallDomainSelector) selectDomain(attrs telephony.SelectionAttributes, cb Callback) {
	if s.destroyed {
		return
	}
	if cb == nil {
		s.log.Warn("select domain without callback ignored")
		return
	}
	if s.state == StateActive {
		s.log.Warn("select domain while a cycle is active ignored")
		return
	}
	s.callback = cb
	s.attrs = attrs
	s.callID = attrs.CallID
	if s.callID == "" {
		s.callID = uuid.NewString()
	}
	if why := s.validate(attrs); why != "" {
		s.notifyTerminated(telephony.CauseOutgoingFailure, why)
		s.unsubscribe()
		s.state = StateDestroyed
		s.destroy()
		return
	}

	s.policy = s.fetchPolicy()
	if len(s.subs) == 0 {
		s.subscribe()
	}
	s.log.Info("normal selection started", "call_id", s.callID, "video", attrs.Video)
	s.begin()
}

func (s *NormalCallDomainSelector) begin() {
	s.state = StateActive
	s.waitExpired = false
	attempt := s.attempt
	if !s.settled() {
		s.waitTimer = s.exec.PostDelayed(s.cfg.WaitForImsStateTimeout, func() { s.onWaitTimeout(attempt) })
	}
	s.evaluate()
}

func (s *NormalCallDomainSelector) settled() bool {
	return s.ims.Ready && s.service != nil
}

func (s *NormalCallDomainSelector) reselectDomain(attrs telephony.SelectionAttributes) {
	if s.destroyed {
		return
	}
	if s.callback == nil {
		s.log.Warn("reselect domain without prior select ignored")
		return
	}
	if s.state == StateActive {
		s.log.Warn("reselect domain while a cycle is active ignored")
		return
	}
	s.attrs = attrs
	if attrs.CallID != "" {
		s.callID = attrs.CallID
	}
	s.attempt++
	s.log.Info("normal reselection", "call_id", s.callID, "cs_cause", attrs.CSDisconnectCause.String())

	if ps := attrs.PSDisconnectCause; ps != nil && ps.Code == telephony.ImsReasonLocalCallCSRetryRequired {
		s.selectResult(NormalDecision{Action: ActionSelectCS, Domain: telephony.DomainCS, Reason: "cs_retry_required"})
		return
	}
	switch attrs.CSDisconnectCause {
	case telephony.CauseEmcRedialOnIms:
		s.selectResult(NormalDecision{Action: ActionSelectPS, Domain: telephony.DomainPS, Reason: "redial_on_ims"})
		return
	case telephony.CauseEmcRedialOnVoWifi:
		s.selectResult(NormalDecision{Action: ActionSelectWlan, Reason: "redial_on_vowifi"})
		return
	}
	s.begin()
}

func (s *NormalCallDomainSelector) fetchPolicy() carrier.Policy {
	if s.cfg.Policies == nil {
		return carrier.DefaultPolicy(s.subID)
	}
	return s.cfg.Policies.Policy(s.subID)
}

func (s *NormalCallDomainSelector) subscribe() {
	if s.cfg.Tracker == nil {
		s.ims = imsstate.State{SubID: s.subID, Ready: true}
		s.service = &telephony.ServiceState{State: telephony.ServiceStateInService}
		return
	}
	s.subs = append(s.subs,
		s.cfg.Tracker.SubscribeServiceState(s.exec, s.onServiceState),
		s.cfg.Tracker.SubscribeImsState(s.exec, s.onImsState),
	)
}

func (s *NormalCallDomainSelector) unsubscribe() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
}

func (s *NormalCallDomainSelector) onImsState(st imsstate.State) {
	if s.destroyed {
		return
	}
	s.ims = st
	s.evaluate()
}

func (s *NormalCallDomainSelector) onServiceState(ss telephony.ServiceState) {
	if s.destroyed {
		return
	}
	s.service = &ss
	s.evaluate()
}

func (s *NormalCallDomainSelector) onWaitTimeout(attempt int) {
	s.waitTimer = nil
	if s.destroyed || attempt != s.attempt || s.state != StateActive {
		return
	}
	s.rec.RecordTimerExpired(s.slotID, "wait_for_ims_state")
	s.log.Info("ims state not settled in time", "call_id", s.callID)
	s.waitExpired = true
	s.evaluate()
}

func (s *NormalCallDomainSelector) stopWait() {
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
}

func (s *NormalCallDomainSelector) evaluate() {
	if s.destroyed || s.state != StateActive {
		return
	}
	tty := s.cfg.Settings != nil && s.cfg.Settings.IsTtyEnabled()
	d := DecideNormal(NormalInput{
		Policy:      s.policy,
		Ims:         s.ims,
		Service:     s.service,
		WaitExpired: s.waitExpired,
		Video:       s.attrs.Video,
		TtyEnabled:  tty,
		Number:      s.attrs.Number,
	})
	if d.Action == ActionWait {
		return
	}
	s.selectResult(d)
}

func (s *NormalCallDomainSelector) selectResult(d NormalDecision) {
	s.stopWait()
	switch d.Action {
	case ActionTerminate:
		// A terminated attempt is not retried here; the caller starts a new one.
		s.notifyTerminated(d.Cause, d.Reason)
		s.unsubscribe()
		s.state = StateDestroyed
		s.destroy()
	case ActionSelectWlan:
		s.state = StateInactive
		s.notifyWlanSelected(false, d.Reason)
	case ActionSelectCS, ActionSelectPS:
		s.state = StateInactive
		s.notifyDomainSelected(d.Domain, false, d.Reason)
	}
}
