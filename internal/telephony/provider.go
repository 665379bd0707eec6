package telephony

import (
	"context"
)

// The interfaces below are the collaborators consumed by the domain-selection engine.
//
// Rules:
// - Implementations may invoke callbacks from any goroutine; consumers re-post them onto
//   their own task queue before touching state.
// - No modem/IMS stack specifics leak past these types.

// ScanRequest is a priority-ordered network scan request.
type ScanRequest struct {
	SlotID   int
	Networks []AccessNetworkType
	ScanType ScanType
	// Reset asks the scanner to discard the previous scan's progress.
	Reset bool
}

// NetworkScanner executes emergency network scans.
//
// RequestScan starts a scan and delivers zero or more results through onResult until
// the returned cancel func is called or ctx is done. cancel must be safe to call more than once.
type NetworkScanner interface {
	RequestScan(ctx context.Context, req ScanRequest, onResult func(RegistrationResult)) (cancel func(), err error)
}

// ImsUnavailableReason is the reason attached to an IMS "unavailable" state.
type ImsUnavailableReason int

const (
	ImsUnavailableTemporaryError ImsUnavailableReason = iota + 1
	ImsUnavailablePermanentError
	ImsUnavailableServiceDisconnected
	ImsUnavailableNotConfigured
	ImsUnavailableSubscriptionInactive
	ImsUnavailableServiceNotReady
)

func (r ImsUnavailableReason) String() string {
	switch r {
	case ImsUnavailableTemporaryError:
		return "unknown_temporary_error"
	case ImsUnavailablePermanentError:
		return "unknown_permanent_error"
	case ImsUnavailableServiceDisconnected:
		return "ims_service_disconnected"
	case ImsUnavailableNotConfigured:
		return "no_ims_service_configured"
	case ImsUnavailableSubscriptionInactive:
		return "subscription_inactive"
	case ImsUnavailableServiceNotReady:
		return "ims_service_not_ready"
	default:
		return "unknown"
	}
}

// IsTransient reports whether the reason may clear without user action.
func (r ImsUnavailableReason) IsTransient() bool {
	switch r {
	case ImsUnavailableTemporaryError, ImsUnavailableServiceNotReady, ImsUnavailableServiceDisconnected:
		return true
	default:
		return false
	}
}

// ImsFeatureStateCallback receives MMTEL feature availability updates.
type ImsFeatureStateCallback interface {
	OnAvailable()
	OnUnavailable(reason ImsUnavailableReason)
}

// ImsRegistrationAttributes describes an IMS registration.
type ImsRegistrationAttributes struct {
	AccessNetwork AccessNetworkType
	// CrossSim is set when IMS is registered over another slot's data connection.
	CrossSim bool
}

// ImsRegistrationCallback receives IMS registration updates.
type ImsRegistrationCallback interface {
	OnRegistered(attrs ImsRegistrationAttributes)
	OnRegistering(attrs ImsRegistrationAttributes)
	OnUnregistered()
}

// MmTelCapability is a bitmask of IMS MMTEL capabilities.
type MmTelCapability int

const (
	CapabilityVoice MmTelCapability = 1 << iota
	CapabilityVideo
	CapabilityUT
	CapabilitySMS
)

func (c MmTelCapability) Has(o MmTelCapability) bool { return c&o == o }

// ImsCapabilityCallback receives MMTEL capability updates.
type ImsCapabilityCallback interface {
	OnCapabilitiesChanged(caps MmTelCapability)
}

// ImsService is the IMS capability source of one subscription.
type ImsService interface {
	RegisterFeatureStateCallback(subID int, cb ImsFeatureStateCallback) error
	UnregisterFeatureStateCallback(subID int, cb ImsFeatureStateCallback)
	RegisterRegistrationCallback(subID int, cb ImsRegistrationCallback) error
	UnregisterRegistrationCallback(subID int, cb ImsRegistrationCallback)
	RegisterCapabilityCallback(subID int, cb ImsCapabilityCallback) error
	UnregisterCapabilityCallback(subID int, cb ImsCapabilityCallback)
}

// SimStates reports the SIM state of each slot.
type SimStates interface {
	SlotCount() int
	SimState(slotID int) SimState
}

// EmergencyNumbers answers country-aware emergency number lookups.
type EmergencyNumbers interface {
	IsEmergencyNumber(slotID int, number string) bool
}

// DeviceSettings exposes user settings relevant to domain selection.
type DeviceSettings interface {
	IsVoLteEnabled(subID int) bool
	IsVoWifiEnabled(subID int) bool
	IsTtyEnabled() bool
	HasValidEid(slotID int) bool
}

// OtherSlotUsable reports whether any slot other than slotID holds a ready SIM.
func OtherSlotUsable(s SimStates, slotID int) bool {
	if s == nil {
		return false
	}
	for i := 0; i < s.SlotCount(); i++ {
		if i == slotID {
			continue
		}
		if s.SimState(i) == SimStateReady {
			return true
		}
	}
	return false
}
