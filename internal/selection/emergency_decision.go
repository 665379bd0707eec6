package selection

import (
	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/imsstate"
	"telecom-domainselection/internal/telephony"
)

// Action is the tagged outcome of a decision function.
type Action string

const (
	ActionWait       Action = "wait"
	ActionSelectCS   Action = "select_cs"
	ActionSelectPS   Action = "select_ps"
	ActionSelectWlan Action = "select_wlan"
	ActionScan       Action = "scan"
	ActionTerminate  Action = "terminate"
)

// ScanPreference is the tie-break used to order a scan's access networks.
type ScanPreference string

const (
	ScanPolicyOrder ScanPreference = "policy"
	ScanCSPreferred ScanPreference = "cs_preferred"
	ScanPSPreferred ScanPreference = "ps_preferred"
)

// EmergencyInput is the snapshot an emergency decision is made from.
type EmergencyInput struct {
	Policy carrier.Policy

	// Registration is nil until a registration result is known.
	Registration *telephony.RegistrationResult

	Ims            imsstate.State
	ImsWaitExpired bool

	EmergencyBarred bool
	LastKnownVoNr   bool
	VoLteEnabled    bool

	// NrFailed is set when the previous PS attempt failed while camped on NR.
	NrFailed bool
}

// EmergencyDecision is the result of DecideEmergency.
type EmergencyDecision struct {
	Action          Action
	UseEmergencyPdn bool

	Networks       []telephony.AccessNetworkType
	ScanType       telephony.ScanType
	ScanPreference ScanPreference

	Reason string
}

func (in EmergencyInput) roaming() bool {
	return in.Registration != nil && in.Registration.IsRoaming()
}

func (in EmergencyInput) imsVoice() bool {
	return in.Ims.Registered && in.Ims.VoiceCapable()
}

func (in EmergencyInput) psUsable() bool {
	r := in.Registration
	if r == nil || !r.IsRegistered() || !r.Domain.Has(telephony.DomainPS) {
		return false
	}
	return r.VoPS && r.EmcBearer && in.Policy.SupportsIms(r.AccessNetwork, r.IsRoaming())
}

// csAvailable includes CS fallback from EUTRAN: the CS bit alone signals a CS registration.
func (in EmergencyInput) csAvailable() bool {
	r := in.Registration
	return r != nil && r.IsRegistered() && r.Domain.Has(telephony.DomainCS)
}

func (in EmergencyInput) gatesSatisfied() bool {
	if in.Policy.RequiresImsRegistration && !in.imsVoice() {
		return false
	}
	if in.Policy.RequiresVoLteEnabled && !in.VoLteEnabled {
		return false
	}
	return true
}

// DecideEmergency maps a snapshot to the next emergency selection step.
func DecideEmergency(in EmergencyInput) EmergencyDecision {
	if !in.Ims.Ready && !in.ImsWaitExpired {
		return EmergencyDecision{Action: ActionWait, Reason: "awaiting_ims_state"}
	}
	if in.ImsWaitExpired && !in.Ims.Ready {
		in.Ims = imsstate.State{SubID: in.Ims.SubID}
	}

	reg := in.Registration
	registered := reg != nil && reg.IsRegistered()

	if !in.gatesSatisfied() {
		if in.csAvailable() {
			return EmergencyDecision{Action: ActionSelectCS, Reason: "carrier_gates_not_met"}
		}
		return in.scan(ScanCSPreferred, "carrier_gates_not_met")
	}

	if !registered {
		return in.scan(ScanPolicyOrder, "no_registration")
	}

	cs := reg.Domain.Has(telephony.DomainCS)
	ps := reg.Domain.Has(telephony.DomainPS)

	if cs && ps && in.psUsable() && in.imsVoice() {
		if in.EmergencyBarred {
			if in.csAvailable() {
				return EmergencyDecision{Action: ActionSelectCS, Reason: "ps_emergency_barred"}
			}
			return in.scan(ScanCSPreferred, "ps_emergency_barred")
		}
		return EmergencyDecision{Action: ActionSelectPS, UseEmergencyPdn: true, Reason: "combined_registration_ims_voice"}
	}

	if ps && !cs && in.psUsable() && in.imsVoice() {
		if in.EmergencyBarred {
			return in.scan(ScanPSPreferred, "ps_emergency_barred")
		}
		return EmergencyDecision{Action: ActionSelectPS, UseEmergencyPdn: true, Reason: "ps_registration_ims_voice"}
	}

	if in.csAvailable() {
		return EmergencyDecision{Action: ActionSelectCS, Reason: "cs_registration"}
	}
	return in.scan(ScanCSPreferred, "ps_requirements_not_met")
}

func (in EmergencyInput) scan(pref ScanPreference, reason string) EmergencyDecision {
	return EmergencyDecision{
		Action:         ActionScan,
		Networks:       PreferredNetworks(in, pref),
		ScanType:       in.Policy.ScanType,
		ScanPreference: pref,
		Reason:         reason,
	}
}

// VoNrSupported reports whether NR is usable for emergency calls. Without a live
// carrier config the slot's last known value is used.
func (in EmergencyInput) VoNrSupported() bool {
	if in.Policy.Live {
		return in.Policy.VoNrEmergencySupported
	}
	return in.LastKnownVoNr
}

var fallbackNetworks = []telephony.AccessNetworkType{
	telephony.AccessNetworkEUTRAN,
	telephony.AccessNetworkUTRAN,
	telephony.AccessNetworkGERAN,
	telephony.AccessNetworkNGRAN,
}

// PreferredNetworks builds the priority-ordered scan list.
//
// PS networks are EUTRAN, followed directly by NGRAN when VoNR emergency is supported.
// CS networks come from the policy. Any of EUTRAN, UTRAN, GERAN, NGRAN not yet listed
// are appended in that order, so an unsupported NGRAN always ends up last.
func PreferredNetworks(in EmergencyInput, pref ScanPreference) []telephony.AccessNetworkType {
	roaming := in.roaming()
	vonr := in.VoNrSupported()

	var psList []telephony.AccessNetworkType
	for _, a := range in.Policy.ImsNetworksFor(roaming) {
		if a == telephony.AccessNetworkEUTRAN {
			psList = append(psList, a)
		}
	}
	if len(psList) == 0 {
		psList = append(psList, telephony.AccessNetworkEUTRAN)
	}
	if vonr {
		psList = append(psList, telephony.AccessNetworkNGRAN)
	}

	var csList []telephony.AccessNetworkType
	for _, a := range in.Policy.CsNetworksFor(roaming) {
		switch a {
		case telephony.AccessNetworkUTRAN, telephony.AccessNetworkGERAN, telephony.AccessNetworkCDMA2000:
			csList = append(csList, a)
		}
	}

	var out []telephony.AccessNetworkType
	switch pref {
	case ScanCSPreferred:
		out = append(out, csList...)
		out = append(out, psList...)
	case ScanPSPreferred:
		if r := in.Registration; r != nil && r.AccessNetwork.IsCellularPS() {
			nr := r.AccessNetwork == telephony.AccessNetworkNGRAN
			lteAfterNr := nr && in.NrFailed && in.Policy.LtePreferredAfterNrFailed
			if (!nr || vonr) && !lteAfterNr {
				out = append(out, r.AccessNetwork)
			}
		}
		out = append(out, psList...)
		out = append(out, csList...)
	default:
		for _, d := range in.Policy.Preference(roaming) {
			switch d {
			case carrier.DomainPreferencePS3GPP:
				out = append(out, psList...)
			case carrier.DomainPreferenceCS:
				out = append(out, csList...)
			}
		}
	}
	out = append(out, fallbackNetworks...)
	return dedupe(out)
}

func dedupe(in []telephony.AccessNetworkType) []telephony.AccessNetworkType {
	seen := make(map[telephony.AccessNetworkType]bool, len(in))
	out := in[:0:0]
	for _, a := range in {
		if a == telephony.AccessNetworkUnknown || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// VoWifiConditionMet evaluates the carrier's VoWifi activation condition.
func VoWifiConditionMet(p carrier.Policy, settings telephony.DeviceSettings, slotID, subID int) bool {
	switch p.VoWifiCondition {
	case carrier.VoWifiConditionSettingEnabled:
		return settings != nil && settings.IsVoWifiEnabled(subID)
	case carrier.VoWifiConditionValidEid:
		return settings != nil && settings.HasValidEid(slotID)
	default:
		return true
	}
}
