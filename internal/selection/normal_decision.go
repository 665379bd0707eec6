package selection

import (
	"strings"

	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/imsstate"
	"telecom-domainselection/internal/telephony"
)

// NormalInput is the snapshot a normal call decision is made from.
type NormalInput struct {
	Policy carrier.Policy
	Ims    imsstate.State

	// Service is nil until a service state has been observed.
	Service     *telephony.ServiceState
	WaitExpired bool

	Video      bool
	TtyEnabled bool
	Number     string
}

// NormalDecision is the result of DecideNormal.
type NormalDecision struct {
	Action Action
	Domain telephony.Domain
	Cause  telephony.DisconnectCause
	Reason string
}

var wpsPrefixes = []string{"*272", "*31#*272", "#31#*272"}

// IsWpsNumber reports whether number is a wireless priority service call.
func IsWpsNumber(number string) bool {
	for _, p := range wpsPrefixes {
		if strings.HasPrefix(number, p) {
			return true
		}
	}
	return false
}

// imsBlocked is true when the carrier does not allow this call over IMS.
func (in NormalInput) imsBlocked() (bool, string) {
	if in.TtyEnabled && !in.Policy.TtyOverVoLteSupported {
		return true, "tty_not_supported_over_ims"
	}
	if IsWpsNumber(in.Number) && !in.Policy.WpsOverImsSupported {
		return true, "wps_not_supported_over_ims"
	}
	return false, ""
}

// DecideNormal maps a snapshot to the next normal selection step.
func DecideNormal(in NormalInput) NormalDecision {
	if s := in.Service; s != nil {
		switch s.State {
		case telephony.ServiceStatePowerOff:
			return NormalDecision{Action: ActionTerminate, Cause: telephony.CausePowerOff, Reason: "power_off"}
		case telephony.ServiceStateOutOfService, telephony.ServiceStateEmergencyOnly:
			return NormalDecision{Action: ActionTerminate, Cause: telephony.CauseOutOfService, Reason: "out_of_service"}
		}
	}
	if !in.WaitExpired && (!in.Ims.Ready || in.Service == nil) {
		return NormalDecision{Action: ActionWait, Reason: "awaiting_ims_state"}
	}
	if in.WaitExpired && !in.Ims.Ready {
		return NormalDecision{Action: ActionSelectCS, Domain: telephony.DomainCS, Reason: "ims_state_timeout"}
	}

	if blocked, why := in.imsBlocked(); blocked {
		return NormalDecision{Action: ActionSelectCS, Domain: telephony.DomainCS, Reason: why}
	}
	ims := in.Ims
	if ims.RegisteredOverWlan() && ims.VoiceCapable() {
		return NormalDecision{Action: ActionSelectWlan, Reason: "ims_over_wlan"}
	}
	if ims.Registered && ims.VoiceCapable() && (!in.Video || ims.VideoCapable()) {
		return NormalDecision{Action: ActionSelectPS, Domain: telephony.DomainPS, Reason: "ims_voice_capable"}
	}
	return NormalDecision{Action: ActionSelectCS, Domain: telephony.DomainCS, Reason: "ims_not_voice_capable"}
}
