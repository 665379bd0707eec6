package carrier

import (
	"time"

	"telecom-domainselection/internal/telephony"
)

// DomainPreference is one entry of the carrier's ordered emergency domain preference.
type DomainPreference string

const (
	DomainPreferencePS3GPP    DomainPreference = "ps_3gpp"
	DomainPreferenceCS        DomainPreference = "cs"
	DomainPreferencePSNon3GPP DomainPreference = "ps_non_3gpp"
)

// VoWifiCondition gates WLAN selection for emergency calls.
type VoWifiCondition string

const (
	VoWifiConditionNone           VoWifiCondition = "none"
	VoWifiConditionSettingEnabled VoWifiCondition = "setting_enabled"
	VoWifiConditionValidEid       VoWifiCondition = "valid_eid"
)

// Policy is the read-only carrier configuration snapshot consumed by selectors.
//
// A zero duration disables the corresponding timer.
type Policy struct {
	SubscriptionID int `json:"subscription_id"`

	// Live is false for the built-in defaults used when no carrier config is loaded
	// (for example while the SIM is locked).
	Live bool `json:"live"`

	DomainPreference        []DomainPreference `json:"domain_preference"`
	DomainPreferenceRoaming []DomainPreference `json:"domain_preference_roaming"`

	ScanType telephony.ScanType `json:"scan_type"`

	ImsNetworks        []telephony.AccessNetworkType `json:"ims_networks"`
	ImsNetworksRoaming []telephony.AccessNetworkType `json:"ims_networks_roaming"`
	CsNetworks         []telephony.AccessNetworkType `json:"cs_networks"`
	CsNetworksRoaming  []telephony.AccessNetworkType `json:"cs_networks_roaming"`

	VoWifiCondition VoWifiCondition `json:"vowifi_condition"`

	ScanTimeout             time.Duration `json:"scan_timeout"`
	MaxCellularTimeout      time.Duration `json:"max_cellular_timeout"`
	QuickCrossStackTimeout  time.Duration `json:"quick_cross_stack_timeout"`
	NormalCrossStackTimeout time.Duration `json:"normal_cross_stack_timeout"`

	StartQuickCrossStackTimerWhenRegistered bool `json:"start_quick_cross_stack_timer_when_registered"`

	RequiresImsRegistration   bool `json:"requires_ims_registration"`
	RequiresVoLteEnabled      bool `json:"requires_volte_enabled"`
	LtePreferredAfterNrFailed bool `json:"lte_preferred_after_nr_failed"`
	// EmergencyOverEmergencyPdn enables VoWifi emergency calls over the emergency PDN.
	EmergencyOverEmergencyPdn bool `json:"emergency_over_emergency_pdn"`
	VoNrEmergencySupported    bool `json:"vonr_emergency_supported"`

	TtyOverVoLteSupported bool `json:"tty_over_volte_supported"`
	WpsOverImsSupported   bool `json:"wps_over_ims_supported"`
}

// DefaultPolicy is used when no carrier config exists for the subscription.
func DefaultPolicy(subID int) Policy {
	return Policy{
		SubscriptionID:                          subID,
		DomainPreference:                        []DomainPreference{DomainPreferencePS3GPP, DomainPreferenceCS, DomainPreferencePSNon3GPP},
		DomainPreferenceRoaming:                 []DomainPreference{DomainPreferencePS3GPP, DomainPreferenceCS, DomainPreferencePSNon3GPP},
		ScanType:                                telephony.ScanTypeNoPreference,
		ImsNetworks:                             []telephony.AccessNetworkType{telephony.AccessNetworkEUTRAN},
		ImsNetworksRoaming:                      []telephony.AccessNetworkType{telephony.AccessNetworkEUTRAN},
		CsNetworks:                              []telephony.AccessNetworkType{telephony.AccessNetworkUTRAN, telephony.AccessNetworkGERAN},
		CsNetworksRoaming:                       []telephony.AccessNetworkType{telephony.AccessNetworkUTRAN, telephony.AccessNetworkGERAN},
		VoWifiCondition:                         VoWifiConditionNone,
		ScanTimeout:                             10 * time.Second,
		QuickCrossStackTimeout:                  0,
		NormalCrossStackTimeout:                 0,
		StartQuickCrossStackTimerWhenRegistered: true,
		WpsOverImsSupported:                     true,
		TtyOverVoLteSupported:                   true,
	}
}

// Preference returns the domain preference for the roaming state.
func (p Policy) Preference(roaming bool) []DomainPreference {
	if roaming && len(p.DomainPreferenceRoaming) > 0 {
		return p.DomainPreferenceRoaming
	}
	return p.DomainPreference
}

// ImsNetworksFor returns the access networks supporting emergency over IMS.
func (p Policy) ImsNetworksFor(roaming bool) []telephony.AccessNetworkType {
	if roaming && len(p.ImsNetworksRoaming) > 0 {
		return p.ImsNetworksRoaming
	}
	return p.ImsNetworks
}

// CsNetworksFor returns the access networks supporting emergency over CS.
func (p Policy) CsNetworksFor(roaming bool) []telephony.AccessNetworkType {
	if roaming && len(p.CsNetworksRoaming) > 0 {
		return p.CsNetworksRoaming
	}
	return p.CsNetworks
}

// AllowsWlan reports whether WLAN is part of the emergency domain preference.
func (p Policy) AllowsWlan(roaming bool) bool {
	for _, d := range p.Preference(roaming) {
		if d == DomainPreferencePSNon3GPP {
			return true
		}
	}
	return false
}

func (p Policy) Validate() error {
	if p.SubscriptionID < 0 {
		return ErrInvalidPolicy
	}
	if len(p.DomainPreference) == 0 {
		return ErrInvalidPolicy
	}
	if p.ScanTimeout < 0 || p.MaxCellularTimeout < 0 || p.QuickCrossStackTimeout < 0 || p.NormalCrossStackTimeout < 0 {
		return ErrInvalidPolicy
	}
	switch p.VoWifiCondition {
	case "", VoWifiConditionNone, VoWifiConditionSettingEnabled, VoWifiConditionValidEid:
	default:
		return ErrInvalidPolicy
	}
	return nil
}

func contains(list []telephony.AccessNetworkType, a telephony.AccessNetworkType) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}

// SupportsIms reports whether emergency over IMS is allowed on the access network.
func (p Policy) SupportsIms(a telephony.AccessNetworkType, roaming bool) bool {
	if a == telephony.AccessNetworkNGRAN && p.VoNrEmergencySupported {
		return true
	}
	return contains(p.ImsNetworksFor(roaming), a)
}

// SupportsCs reports whether emergency over CS is allowed on the access network.
func (p Policy) SupportsCs(a telephony.AccessNetworkType, roaming bool) bool {
	return contains(p.CsNetworksFor(roaming), a)
}
