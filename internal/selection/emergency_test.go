package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telecom-domainselection/internal/telephony"
)

var (
	csps = telephony.DomainCS | telephony.DomainPS
	ps   = telephony.DomainPS
)

func TestEmergency_CombinedRegistrationSelectsPS(t *testing.T) {
	h := newHarness(t)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()

	require.Equal(t, []string{"domain:PS:true"}, h.cb.events)
	require.Len(t, h.cross.started, 1)
	require.Equal(t, "call-1", h.cross.started[0].CallID)
	require.Empty(t, h.scanner.requests)
}

func TestEmergency_CombinedRegistrationBarredSelectsCSOnce(t *testing.T) {
	h := newHarness(t)
	h.barring(true)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()
	h.q.Advance(time.Minute)

	require.Equal(t, []string{"domain:CS:false"}, h.cb.events)
}

func TestEmergency_PsOnlyUnbarredSelectsPS(t *testing.T) {
	h := newHarness(t)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, true)), h.cb)
	h.q.RunPending()

	require.Equal(t, []string{"domain:PS:true"}, h.cb.events)
}

func TestEmergency_PsOnlyBarredScansEutranFirst(t *testing.T) {
	h := newHarness(t)
	h.barring(true)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, true)), h.cb)
	h.q.RunPending()

	require.Empty(t, h.cb.events)
	require.Len(t, h.scanner.requests, 1)
	require.Equal(t, telephony.AccessNetworkEUTRAN, h.scanner.requests[0].Networks[0])
}

func TestEmergency_DuplicateBarringProducesOneDecision(t *testing.T) {
	h := newHarness(t)
	h.barring(true)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, true)), h.cb)
	h.q.RunPending()
	require.Len(t, h.scanner.requests, 1)

	h.barring(true)
	require.Len(t, h.scanner.requests, 1)
	require.Zero(t, h.rec.deduped, "identical snapshot must not be re-evaluated")

	h.barring(false)
	require.Equal(t, []string{"domain:PS:true"}, h.cb.events)
	require.Equal(t, 1, h.scanner.cancels)
}

func TestEmergency_RedialLaw(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()
	utran := &telephony.RegistrationResult{
		AccessNetwork: telephony.AccessNetworkUTRAN,
		State:         telephony.RegistrationHome,
		Domain:        telephony.DomainCS,
	}

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(utran), h.cb)
	h.q.RunPending()
	require.Equal(t, []string{"domain:CS:false"}, h.cb.events)

	sel.ReselectDomain(emergencyAttrs(utran))
	h.q.RunPending()
	require.Len(t, h.cb.events, 1, "no new cause and unchanged inputs must not re-dial")

	retry := emergencyAttrs(utran)
	retry.PSDisconnectCause = &telephony.ImsReasonInfo{Code: telephony.ImsReasonLocalCallCSRetryRequired}
	sel.ReselectDomain(retry)
	h.q.RunPending()
	require.Equal(t, []string{"domain:CS:false", "domain:CS:false"}, h.cb.events)
}

func TestEmergency_RedialOnImsAfterCS(t *testing.T) {
	h := newHarness(t)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)
	h.barring(true)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()
	require.Equal(t, []string{"domain:CS:false"}, h.cb.events)

	redial := emergencyAttrs(eutran(csps, true, true))
	redial.CSDisconnectCause = telephony.CauseEmcRedialOnIms
	sel.ReselectDomain(redial)
	h.q.RunPending()
	require.Equal(t, "domain:PS:true", h.cb.events[1])
}

func TestEmergency_NoEmcBearerWithImsOverWlanScansCsFirst(t *testing.T) {
	h := newHarness(t)
	h.imsRegistered(telephony.AccessNetworkIWLAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, false)), h.cb)
	h.q.RunPending()

	require.Len(t, h.scanner.requests, 1)
	req := h.scanner.requests[0]
	require.Equal(t, telephony.ScanTypeNoPreference, req.ScanType)
	require.Equal(t, telephony.AccessNetworkUTRAN, req.Networks[0])
	require.Empty(t, h.cb.events)

	// Scan timer elapses while IMS is registered over WLAN.
	h.q.Advance(h.policy.ScanTimeout)
	require.Equal(t, []string{"wlan:false"}, h.cb.events)
	require.Equal(t, []string{"network_scan"}, h.rec.timers)
}

func TestEmergency_MaxCellularTimeoutWinsTie(t *testing.T) {
	h := newHarness(t)
	h.policy.EmergencyOverEmergencyPdn = true
	h.policy.ScanTimeout = 10 * time.Second
	h.policy.MaxCellularTimeout = 10 * time.Second
	h.imsRegistered(telephony.AccessNetworkIWLAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, false)), h.cb)
	h.q.RunPending()
	h.q.Advance(10 * time.Second)

	require.Equal(t, []string{"wlan:true"}, h.cb.events)
	require.Equal(t, []string{"max_cellular"}, h.rec.timers)
}

func TestEmergency_ScanTimeoutBeforeMaxCellular(t *testing.T) {
	h := newHarness(t)
	h.policy.EmergencyOverEmergencyPdn = true
	h.policy.ScanTimeout = 5 * time.Second
	h.policy.MaxCellularTimeout = 20 * time.Second
	h.imsRegistered(telephony.AccessNetworkIWLAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, false)), h.cb)
	h.q.RunPending()
	h.q.Advance(time.Minute)

	require.Equal(t, []string{"wlan:true"}, h.cb.events)
	require.Equal(t, []string{"network_scan"}, h.rec.timers, "max cellular timer must be canceled")
}

func TestEmergency_WlanNotSelectedWhenVoWifiDisabled(t *testing.T) {
	h := newHarness(t)
	h.policy.VoWifiCondition = "setting_enabled"
	h.settings.vowifi = false
	h.imsRegistered(telephony.AccessNetworkIWLAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, false)), h.cb)
	h.q.RunPending()
	h.q.Advance(time.Minute)

	require.Empty(t, h.cb.events)
}

func TestEmergency_ScanResultSelectsDomain(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(nil), h.cb)
	h.q.RunPending()
	require.Len(t, h.scanner.requests, 1)
	require.False(t, h.scanner.requests[0].Reset)

	h.q.Advance(h.policy.ScanTimeout)
	require.Empty(t, h.cb.events, "scan timeout without wlan keeps scanning")

	h.scanner.onResult(telephony.RegistrationResult{
		AccessNetwork: telephony.AccessNetworkUTRAN,
		State:         telephony.RegistrationHome,
		Domain:        telephony.DomainCS,
	})
	h.q.RunPending()
	require.Equal(t, []string{"domain:CS:false"}, h.cb.events)
	require.Equal(t, 1, h.scanner.cancels)
}

func TestEmergency_UnregisteredScanResultKeepsSingleScan(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(nil), h.cb)
	h.q.RunPending()

	h.scanner.onResult(telephony.RegistrationResult{State: telephony.RegistrationNotRegistered})
	h.q.RunPending()
	require.Len(t, h.scanner.requests, 1)
	require.Equal(t, 1, h.rec.deduped)
	require.Empty(t, h.cb.events)
}

func TestEmergency_CrossStackExpiryTerminatesPendingSelection(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(nil), h.cb)
	h.q.RunPending()

	sel.NotifyCrossStackTimerExpired()
	h.q.RunPending()
	require.Equal(t, []string{"terminated:EMERGENCY_TEMP_FAILURE"}, h.cb.events)

	// Destroyed: late scan results are dropped.
	h.scanner.onResult(*eutran(csps, true, true))
	h.q.RunPending()
	require.Len(t, h.cb.events, 1)
}

func TestEmergency_CrossStackExpiryIgnoredAfterDomainSelected(t *testing.T) {
	h := newHarness(t)
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()

	sel.NotifyCrossStackTimerExpired()
	h.q.RunPending()
	require.Equal(t, []string{"domain:PS:true"}, h.cb.events)
}

func TestEmergency_PermanentFailureForwardedAndReleased(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()
	utran := &telephony.RegistrationResult{
		AccessNetwork: telephony.AccessNetworkUTRAN,
		State:         telephony.RegistrationHome,
		Domain:        telephony.DomainCS,
	}

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(utran), h.cb)
	h.q.RunPending()

	failed := emergencyAttrs(utran)
	failed.CSDisconnectCause = telephony.CauseEmergencyPermFailure
	sel.ReselectDomain(failed)
	h.q.RunPending()

	require.Equal(t, []telephony.DisconnectCause{telephony.CauseEmergencyPermFailure}, h.cross.failures)
	require.Equal(t, 1, h.cross.released)
	require.Equal(t, "terminated:EMERGENCY_PERM_FAILURE", h.cb.events[1])
}

func TestEmergency_TemporaryFailureKeepsCrossStackWindow(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()
	utran := &telephony.RegistrationResult{
		AccessNetwork: telephony.AccessNetworkUTRAN,
		State:         telephony.RegistrationHome,
		Domain:        telephony.DomainCS,
	}

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(utran), h.cb)
	h.q.RunPending()

	failed := emergencyAttrs(utran)
	failed.CSDisconnectCause = telephony.CauseEmergencyTempFailure
	sel.ReselectDomain(failed)
	h.q.RunPending()

	require.Equal(t, []telephony.DisconnectCause{telephony.CauseEmergencyTempFailure}, h.cross.failures)
	require.Zero(t, h.cross.released)
	require.Equal(t, "terminated:EMERGENCY_TEMP_FAILURE", h.cb.events[1])
}

func TestEmergency_InvalidAttributesTerminate(t *testing.T) {
	h := newHarness(t)
	attrs := emergencyAttrs(nil)
	attrs.Emergency = false

	sel := h.emergencySelector()
	sel.SelectDomain(attrs, h.cb)
	h.q.RunPending()

	require.Equal(t, []string{"terminated:OUTGOING_FAILURE"}, h.cb.events)
	require.Empty(t, h.cross.started)
}

func TestEmergency_CancelThenReselectRunsFreshCycle(t *testing.T) {
	h := newHarness(t)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()
	require.Empty(t, h.cb.events)

	sel.CancelSelection()
	h.q.RunPending()
	require.Equal(t, 1, h.cross.released)
	h.q.Advance(time.Minute)
	require.Empty(t, h.cb.events, "canceled cycle must not call back")

	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)
	require.Empty(t, h.cb.events)

	sel.ReselectDomain(emergencyAttrs(eutran(csps, true, true)))
	h.q.RunPending()
	require.Equal(t, []string{"domain:PS:true"}, h.cb.events)
	require.Len(t, h.cross.started, 2)
	require.Equal(t, 1, h.cross.started[1].RetryCount)
}

func TestEmergency_ImsWaitTimeoutTreatsImsAsUnregistered(t *testing.T) {
	h := newHarness(t)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()
	require.Empty(t, h.cb.events)

	h.q.Advance(DefaultWaitForImsStateTimeout)
	require.Equal(t, []string{"domain:CS:false"}, h.cb.events)
	require.Equal(t, []string{"wait_for_ims_state"}, h.rec.timers)
}

func TestEmergency_VoLteGateFallsBackToCS(t *testing.T) {
	h := newHarness(t)
	h.policy.RequiresVoLteEnabled = true
	h.settings.volte = false
	h.imsRegistered(telephony.AccessNetworkEUTRAN, telephony.CapabilityVoice)

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(csps, true, true)), h.cb)
	h.q.RunPending()

	require.Equal(t, []string{"domain:CS:false"}, h.cb.events)
}

func TestEmergency_NrOrderingWithSimLocked(t *testing.T) {
	for _, tc := range []struct {
		name string
		vonr bool
		want []telephony.AccessNetworkType
	}{
		{"vonr supported", true, []telephony.AccessNetworkType{
			telephony.AccessNetworkEUTRAN, telephony.AccessNetworkNGRAN, telephony.AccessNetworkUTRAN, telephony.AccessNetworkGERAN,
		}},
		{"vonr unknown", false, []telephony.AccessNetworkType{
			telephony.AccessNetworkEUTRAN, telephony.AccessNetworkUTRAN, telephony.AccessNetworkGERAN, telephony.AccessNetworkNGRAN,
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.sims.states[testSlot] = telephony.SimStatePinRequired
			h.policy.Live = false
			h.vonr = vonrFlag(tc.vonr)
			h.imsAvailable()

			sel := h.emergencySelector()
			sel.SelectDomain(emergencyAttrs(nil), h.cb)
			h.q.RunPending()

			require.Len(t, h.scanner.requests, 1)
			require.Equal(t, tc.want, h.scanner.requests[0].Networks)
		})
	}
}

func TestEmergency_ScanTimerNeedsAnotherUsableSlotWhenSimLocked(t *testing.T) {
	for _, tc := range []struct {
		name   string
		other  telephony.SimState
		events []string
		timers []string
	}{
		{"no other usable slot", telephony.SimStateAbsent, nil, nil},
		{"other slot ready", telephony.SimStateReady, []string{"wlan:false"}, []string{"network_scan"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.sims.states = []telephony.SimState{telephony.SimStatePinRequired, tc.other}
			h.policy.ScanTimeout = 10 * time.Second
			h.imsRegistered(telephony.AccessNetworkIWLAN, telephony.CapabilityVoice)

			sel := h.emergencySelector()
			sel.SelectDomain(emergencyAttrs(eutran(ps, true, false)), h.cb)
			h.q.RunPending()
			require.Len(t, h.scanner.requests, 1)

			h.q.Advance(h.policy.ScanTimeout + time.Second)
			if tc.events == nil {
				require.Empty(t, h.cb.events)
				require.NotContains(t, h.rec.timers, "network_scan")
				return
			}
			require.Equal(t, tc.events, h.cb.events)
			require.Equal(t, tc.timers, h.rec.timers)
		})
	}
}

func TestEmergency_FinishIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.imsAvailable()

	sel := h.emergencySelector()
	destroyed := 0
	sel.SetDestroyListener(func() { destroyed++ })
	sel.SelectDomain(emergencyAttrs(nil), h.cb)
	h.q.RunPending()

	sel.FinishSelection()
	sel.FinishSelection()
	h.q.RunPending()
	require.Equal(t, 1, destroyed)
	require.Equal(t, 1, h.cross.released)
	require.Equal(t, 1, h.scanner.cancels)

	sel.SelectDomain(emergencyAttrs(nil), h.cb)
	h.q.Advance(time.Minute)
	require.Empty(t, h.cb.events)
	require.Zero(t, h.q.Pending())
}

func TestEmergency_ScanRequestFailureTerminates(t *testing.T) {
	h := newHarness(t)
	h.scanner.err = errScanUnavailable
	h.imsAvailable()

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(nil), h.cb)
	h.q.RunPending()

	require.Equal(t, []string{"terminated:EMERGENCY_TEMP_FAILURE"}, h.cb.events)
}

func TestEmergency_CarrierConfigChangeReevaluates(t *testing.T) {
	h := newHarness(t)
	h.policy.RequiresImsRegistration = true
	h.imsAvailable()

	sel := h.emergencySelector()
	sel.SelectDomain(emergencyAttrs(eutran(ps, true, true)), h.cb)
	h.q.RunPending()
	require.Len(t, h.scanner.requests, 1)

	h.policy.RequiresImsRegistration = false
	sel.OnCarrierConfigChanged()
	h.q.RunPending()
	require.Len(t, h.scanner.requests, 1)
	require.Equal(t, 1, h.rec.deduped, "a scan is already running")
}
