package selection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/crosssim"
	"telecom-domainselection/internal/imsstate"
	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

type recordingCallback struct {
	events []string
}

func (c *recordingCallback) OnDomainSelected(d telephony.Domain, pdn bool) {
	c.events = append(c.events, fmt.Sprintf("domain:%s:%t", d, pdn))
}

func (c *recordingCallback) OnWlanSelected(pdn bool) {
	c.events = append(c.events, fmt.Sprintf("wlan:%t", pdn))
}

func (c *recordingCallback) OnSelectionTerminated(cause telephony.DisconnectCause) {
	c.events = append(c.events, "terminated:"+cause.String())
}

var errScanUnavailable = errors.New("scanner unavailable")

type fakeScanner struct {
	requests []telephony.ScanRequest
	onResult func(telephony.RegistrationResult)
	cancels  int
	err      error
}

func (f *fakeScanner) RequestScan(_ context.Context, req telephony.ScanRequest, onResult func(telephony.RegistrationResult)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	f.onResult = onResult
	return func() { f.cancels++ }, nil
}

type fakeCrossStack struct {
	started  []crosssim.TimerRequest
	released int
	failures []telephony.DisconnectCause
}

func (f *fakeCrossStack) StartTimer(req crosssim.TimerRequest) { f.started = append(f.started, req) }
func (f *fakeCrossStack) Release(crosssim.Expirer)             { f.released++ }
func (f *fakeCrossStack) NotifyCallFailure(_ string, cause telephony.DisconnectCause) {
	f.failures = append(f.failures, cause)
}

type fakeSims struct{ states []telephony.SimState }

func (f *fakeSims) SlotCount() int { return len(f.states) }
func (f *fakeSims) SimState(slot int) telephony.SimState {
	if slot < 0 || slot >= len(f.states) {
		return telephony.SimStateUnknown
	}
	return f.states[slot]
}

type fakeSettings struct {
	volte, vowifi, tty, eid bool
}

func (f *fakeSettings) IsVoLteEnabled(int) bool  { return f.volte }
func (f *fakeSettings) IsVoWifiEnabled(int) bool { return f.vowifi }
func (f *fakeSettings) IsTtyEnabled() bool       { return f.tty }
func (f *fakeSettings) HasValidEid(int) bool     { return f.eid }

type policyFunc func(subID int) carrier.Policy

func (f policyFunc) Policy(subID int) carrier.Policy { return f(subID) }

type vonrFlag bool

func (v vonrFlag) IsVoNrEmergencySupported(int) bool { return bool(v) }

type fakeIms struct {
	feature map[int]telephony.ImsFeatureStateCallback
	reg     map[int]telephony.ImsRegistrationCallback
	caps    map[int]telephony.ImsCapabilityCallback
}

func newFakeIms() *fakeIms {
	return &fakeIms{
		feature: map[int]telephony.ImsFeatureStateCallback{},
		reg:     map[int]telephony.ImsRegistrationCallback{},
		caps:    map[int]telephony.ImsCapabilityCallback{},
	}
}

func (f *fakeIms) RegisterFeatureStateCallback(subID int, cb telephony.ImsFeatureStateCallback) error {
	f.feature[subID] = cb
	return nil
}
func (f *fakeIms) UnregisterFeatureStateCallback(subID int, _ telephony.ImsFeatureStateCallback) {
	delete(f.feature, subID)
}
func (f *fakeIms) RegisterRegistrationCallback(subID int, cb telephony.ImsRegistrationCallback) error {
	f.reg[subID] = cb
	return nil
}
func (f *fakeIms) UnregisterRegistrationCallback(subID int, _ telephony.ImsRegistrationCallback) {
	delete(f.reg, subID)
}
func (f *fakeIms) RegisterCapabilityCallback(subID int, cb telephony.ImsCapabilityCallback) error {
	f.caps[subID] = cb
	return nil
}
func (f *fakeIms) UnregisterCapabilityCallback(subID int, _ telephony.ImsCapabilityCallback) {
	delete(f.caps, subID)
}

const (
	testSlot = 0
	testSub  = 1
)

type harness struct {
	t        *testing.T
	q        *taskqueue.Manual
	ims      *fakeIms
	tracker  *imsstate.Tracker
	scanner  *fakeScanner
	cross    *fakeCrossStack
	sims     *fakeSims
	settings *fakeSettings
	policy   carrier.Policy
	vonr     vonrFlag
	cb       *recordingCallback
	rec      *countingRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	q := taskqueue.NewManual(time.Time{})
	ims := newFakeIms()
	p := carrier.DefaultPolicy(testSub)
	p.Live = true
	return &harness{
		t:        t,
		q:        q,
		ims:      ims,
		tracker:  imsstate.NewTracker(testSlot, q, ims, imsstate.Options{UnavailableGrace: 500 * time.Millisecond}, nil),
		scanner:  &fakeScanner{},
		cross:    &fakeCrossStack{},
		sims:     &fakeSims{states: []telephony.SimState{telephony.SimStateReady, telephony.SimStateReady}},
		settings: &fakeSettings{volte: true, vowifi: true},
		policy:   p,
		cb:       &recordingCallback{},
		rec:      &countingRecorder{},
	}
}

func (h *harness) emergencySelector() *EmergencyCallDomainSelector {
	return NewEmergencyCallDomainSelector(testSlot, testSub, h.q, EmergencyConfig{
		Tracker:    h.tracker,
		Policies:   policyFunc(func(int) carrier.Policy { return h.policy }),
		VoNr:       &h.vonr,
		Controller: h.cross,
		Scanner:    h.scanner,
		Sims:       h.sims,
		Settings:   h.settings,
		Recorder:   h.rec,
	})
}

func (h *harness) normalSelector() *NormalCallDomainSelector {
	return NewNormalCallDomainSelector(testSlot, testSub, h.q, NormalConfig{
		Tracker:  h.tracker,
		Policies: policyFunc(func(int) carrier.Policy { return h.policy }),
		Settings: h.settings,
		Recorder: h.rec,
	})
}

// imsAvailable binds the tracker and reports MMTEL available without a registration.
func (h *harness) imsAvailable() {
	h.t.Helper()
	if err := h.tracker.Start(testSub); err != nil {
		h.t.Fatalf("tracker start: %v", err)
	}
	h.q.RunPending()
	h.ims.feature[testSub].OnAvailable()
	h.q.RunPending()
}

// imsRegistered binds the tracker and registers IMS on an with voice capability.
func (h *harness) imsRegistered(an telephony.AccessNetworkType, caps telephony.MmTelCapability) {
	h.t.Helper()
	h.imsAvailable()
	h.ims.reg[testSub].OnRegistered(telephony.ImsRegistrationAttributes{AccessNetwork: an})
	h.ims.caps[testSub].OnCapabilitiesChanged(caps)
	h.q.RunPending()
}

func (h *harness) barring(barred bool) {
	h.tracker.UpdateBarringInfo(telephony.NewBarringInfo(barred))
	h.q.RunPending()
}

func emergencyAttrs(reg *telephony.RegistrationResult) telephony.SelectionAttributes {
	return telephony.SelectionAttributes{
		SlotID:             testSlot,
		SubscriptionID:     testSub,
		Type:               telephony.SelectorTypeCalling,
		Emergency:          true,
		CallID:             "call-1",
		Number:             "911",
		RegistrationResult: reg,
	}
}

func eutran(domain telephony.Domain, vops, emc bool) *telephony.RegistrationResult {
	return &telephony.RegistrationResult{
		AccessNetwork: telephony.AccessNetworkEUTRAN,
		State:         telephony.RegistrationHome,
		Domain:        domain,
		VoPS:          vops,
		EmcBearer:     emc,
	}
}

type countingRecorder struct {
	outcomes []Outcome
	scans    int
	deduped  int
	timers   []string
}

func (r *countingRecorder) RecordOutcome(o Outcome) { r.outcomes = append(r.outcomes, o) }
func (r *countingRecorder) RecordScan(_ int, _ telephony.ScanRequest, dedup bool) {
	if dedup {
		r.deduped++
		return
	}
	r.scans++
}
func (r *countingRecorder) RecordTimerExpired(_ int, timer string) {
	r.timers = append(r.timers, timer)
}
