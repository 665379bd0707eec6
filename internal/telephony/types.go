package telephony

import (
	"fmt"
	"strings"
)

// AccessNetworkType identifies a radio access technology.
type AccessNetworkType int

const (
	AccessNetworkUnknown AccessNetworkType = iota
	AccessNetworkGERAN
	AccessNetworkUTRAN
	AccessNetworkEUTRAN
	AccessNetworkCDMA2000
	AccessNetworkIWLAN
	AccessNetworkNGRAN
)

func (a AccessNetworkType) String() string {
	switch a {
	case AccessNetworkGERAN:
		return "GERAN"
	case AccessNetworkUTRAN:
		return "UTRAN"
	case AccessNetworkEUTRAN:
		return "EUTRAN"
	case AccessNetworkCDMA2000:
		return "CDMA2000"
	case AccessNetworkIWLAN:
		return "IWLAN"
	case AccessNetworkNGRAN:
		return "NGRAN"
	default:
		return "UNKNOWN"
	}
}

// ParseAccessNetworkType is the inverse of String. Unknown names map to AccessNetworkUnknown.
func ParseAccessNetworkType(s string) AccessNetworkType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GERAN":
		return AccessNetworkGERAN
	case "UTRAN":
		return AccessNetworkUTRAN
	case "EUTRAN":
		return AccessNetworkEUTRAN
	case "CDMA2000":
		return AccessNetworkCDMA2000
	case "IWLAN":
		return AccessNetworkIWLAN
	case "NGRAN":
		return AccessNetworkNGRAN
	default:
		return AccessNetworkUnknown
	}
}

// IsCellularPS reports whether voice over PS can be carried on this access network.
func (a AccessNetworkType) IsCellularPS() bool {
	return a == AccessNetworkEUTRAN || a == AccessNetworkNGRAN
}

// Domain is a bitmask of network domains.
type Domain int

const (
	DomainNone Domain = 0
	DomainCS   Domain = 1 << 0
	DomainPS   Domain = 1 << 1
)

func (d Domain) Has(o Domain) bool { return d&o == o && o != DomainNone }

func (d Domain) String() string {
	switch d {
	case DomainCS:
		return "CS"
	case DomainPS:
		return "PS"
	case DomainCS | DomainPS:
		return "CS|PS"
	default:
		return "NONE"
	}
}

// RegistrationState is the network registration state reported with a RegistrationResult.
type RegistrationState int

const (
	RegistrationUnknown RegistrationState = iota
	RegistrationHome
	RegistrationRoaming
	RegistrationNotRegistered
	RegistrationDenied
)

func (r RegistrationState) String() string {
	switch r {
	case RegistrationHome:
		return "home"
	case RegistrationRoaming:
		return "roaming"
	case RegistrationNotRegistered:
		return "not_registered"
	case RegistrationDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// RegistrationResult describes a network registration as reported by the modem,
// either up front or as the outcome of a network scan. It is immutable.
type RegistrationResult struct {
	AccessNetwork AccessNetworkType `json:"access_network"`
	State         RegistrationState `json:"state"`
	Domain        Domain            `json:"domain"`

	// VoPS is the voice-over-PS support indication.
	VoPS bool `json:"vops"`
	// EmcBearer is the emergency bearer services support indication.
	EmcBearer bool `json:"emc_bearer"`
	EMC       int  `json:"emc"`
	EMF       int  `json:"emf"`

	MCC string `json:"mcc,omitempty"`
	MNC string `json:"mnc,omitempty"`
	ISO string `json:"iso,omitempty"`
}

// IsRegistered reports whether the result represents usable service.
func (r RegistrationResult) IsRegistered() bool {
	return (r.State == RegistrationHome || r.State == RegistrationRoaming) && r.Domain != DomainNone
}

func (r RegistrationResult) IsRoaming() bool { return r.State == RegistrationRoaming }

func (r RegistrationResult) String() string {
	return fmt.Sprintf("{%s %s domain=%s vops=%t emc=%t}", r.AccessNetwork, r.State, r.Domain, r.VoPS, r.EmcBearer)
}

// SelectorType is the kind of traffic being routed.
type SelectorType int

const (
	SelectorTypeCalling SelectorType = iota + 1
	SelectorTypeSMS
	SelectorTypeUT
)

func (t SelectorType) String() string {
	switch t {
	case SelectorTypeCalling:
		return "calling"
	case SelectorTypeSMS:
		return "sms"
	case SelectorTypeUT:
		return "ut"
	default:
		return "unknown"
	}
}

// InvalidSubscriptionID marks a slot without an active subscription.
const InvalidSubscriptionID = -1

// SelectionAttributes is the immutable per-attempt input of a selector.
// A new value is built for every attempt and for every reselection.
type SelectionAttributes struct {
	SlotID         int
	SubscriptionID int
	Type           SelectorType
	Emergency      bool
	Video          bool
	CallID         string
	Number         string

	// CSDisconnectCause is set on reselection after a CS attempt failed.
	CSDisconnectCause DisconnectCause
	// PSDisconnectCause is set on reselection after a PS attempt failed.
	PSDisconnectCause *ImsReasonInfo

	RegistrationResult *RegistrationResult
}

func (a SelectionAttributes) HasValidSubscription() bool {
	return a.SubscriptionID != InvalidSubscriptionID && a.SubscriptionID >= 0
}

// ScanType is the scan hint passed to the network scanner.
type ScanType int

const (
	ScanTypeNoPreference ScanType = iota
	ScanTypeFullService
	ScanTypeFullServiceFollowedByLimited
)

func (s ScanType) String() string {
	switch s {
	case ScanTypeFullService:
		return "full_service"
	case ScanTypeFullServiceFollowedByLimited:
		return "full_service_followed_by_limited"
	default:
		return "no_preference"
	}
}

// ServiceStateValue is the coarse cellular service state.
type ServiceStateValue int

const (
	ServiceStateUnknown ServiceStateValue = iota
	ServiceStateInService
	ServiceStateOutOfService
	ServiceStateEmergencyOnly
	ServiceStatePowerOff
)

func (s ServiceStateValue) String() string {
	switch s {
	case ServiceStateInService:
		return "in_service"
	case ServiceStateOutOfService:
		return "out_of_service"
	case ServiceStateEmergencyOnly:
		return "emergency_only"
	case ServiceStatePowerOff:
		return "power_off"
	default:
		return "unknown"
	}
}

// ServiceState is a service-state push update from the network-registration source.
type ServiceState struct {
	State         ServiceStateValue `json:"state"`
	Roaming       bool              `json:"roaming"`
	AccessNetwork AccessNetworkType `json:"access_network"`
}

func (s ServiceState) InService() bool { return s.State == ServiceStateInService }

// BarringServiceType identifies the service a barring entry applies to.
type BarringServiceType int

const (
	BarringServiceCSService BarringServiceType = iota
	BarringServicePSService
	BarringServiceCSVoice
	BarringServiceMmtelVoice
	BarringServiceMmtelVideo
	BarringServiceEmergency
)

// BarringType is the kind of barring signalled by the cell.
type BarringType int

const (
	BarringTypeNone BarringType = iota
	BarringTypeUnconditional
	BarringTypeConditional
)

// Barring is a single barring entry.
type Barring struct {
	Type BarringType `json:"type"`
	// ConditionallyBarred is meaningful only for BarringTypeConditional.
	ConditionallyBarred bool `json:"conditionally_barred,omitempty"`
}

func (b Barring) IsBarred() bool {
	switch b.Type {
	case BarringTypeUnconditional:
		return true
	case BarringTypeConditional:
		return b.ConditionallyBarred
	default:
		return false
	}
}

// BarringInfo is the latest barring snapshot of the serving cell.
// Only the latest value is kept; there is no history.
type BarringInfo struct {
	Services map[BarringServiceType]Barring `json:"services,omitempty"`
}

// NewBarringInfo returns a snapshot where only emergency service barring is set.
func NewBarringInfo(emergencyBarred bool) BarringInfo {
	b := Barring{Type: BarringTypeNone}
	if emergencyBarred {
		b.Type = BarringTypeUnconditional
	}
	return BarringInfo{Services: map[BarringServiceType]Barring{BarringServiceEmergency: b}}
}

func (b BarringInfo) IsBarred(t BarringServiceType) bool {
	if b.Services == nil {
		return false
	}
	return b.Services[t].IsBarred()
}

// Equal compares two snapshots by the barred state of each service.
func (b BarringInfo) Equal(o BarringInfo) bool {
	if len(b.Services) != len(o.Services) {
		return false
	}
	for k, v := range b.Services {
		ov, ok := o.Services[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// SimState is the state of the SIM card in a slot.
type SimState int

const (
	SimStateUnknown SimState = iota
	SimStateAbsent
	SimStatePinRequired
	SimStatePukRequired
	SimStateNetworkLocked
	SimStateReady
)

// IsLocked reports whether the SIM requires user unlock before the carrier is known.
func (s SimState) IsLocked() bool {
	return s == SimStatePinRequired || s == SimStatePukRequired || s == SimStateNetworkLocked
}
