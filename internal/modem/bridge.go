// Package modem adapts events pushed by the radio interface layer into the
// telephony collaborator interfaces consumed by the selectors.
//
// The bridge keeps the latest value of every pushed fact and replays it to
// callbacks registered later, the way a platform IMS service does on
// registration. It never blocks on a consumer: every telephony callback
// implementation re-posts onto its own queue.
package modem

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"telecom-domainselection/internal/telephony"
	"telecom-domainselection/pkg/logger"
)

var (
	ErrInvalidSlot         = errors.New("modem: invalid slot")
	ErrInvalidSubscription = errors.New("modem: invalid subscription")
	ErrNotConfigured       = errors.New("modem: ims not configured for subscription")
)

// ImsRegistration is the IMS registration state of a subscription.
type ImsRegistration string

const (
	ImsUnregistered ImsRegistration = "unregistered"
	ImsRegistering  ImsRegistration = "registering"
	ImsRegistered   ImsRegistration = "registered"
)

// ImsStatus is the latest IMS fact set pushed for one subscription.
type ImsStatus struct {
	Available     bool                           `json:"available"`
	Reason        telephony.ImsUnavailableReason `json:"reason,omitempty"`
	Registration  ImsRegistration                `json:"registration"`
	AccessNetwork telephony.AccessNetworkType    `json:"access_network"`
	CrossSim      bool                           `json:"cross_sim"`
	Capabilities  telephony.MmTelCapability      `json:"capabilities"`
}

type imsEntry struct {
	status ImsStatus
	known  bool

	feature map[telephony.ImsFeatureStateCallback]struct{}
	reg     map[telephony.ImsRegistrationCallback]struct{}
	caps    map[telephony.ImsCapabilityCallback]struct{}
}

func newImsEntry() *imsEntry {
	return &imsEntry{
		status:  ImsStatus{Registration: ImsUnregistered},
		feature: map[telephony.ImsFeatureStateCallback]struct{}{},
		reg:     map[telephony.ImsRegistrationCallback]struct{}{},
		caps:    map[telephony.ImsCapabilityCallback]struct{}{},
	}
}

// Settings are the device settings pushed by the platform.
type Settings struct {
	VoLteEnabled  map[int]bool `json:"volte_enabled"`
	VoWifiEnabled map[int]bool `json:"vowifi_enabled"`
	TtyEnabled    bool         `json:"tty_enabled"`
	ValidEid      map[int]bool `json:"valid_eid"`
}

// Bridge implements telephony.ImsService, telephony.SimStates,
// telephony.EmergencyNumbers, telephony.DeviceSettings and, through its
// scan table, telephony.NetworkScanner.
type Bridge struct {
	log *slog.Logger

	mu       sync.Mutex
	sims     []telephony.SimState
	numbers  map[string]struct{}
	settings Settings
	ims      map[int]*imsEntry
	scans    map[string]*scan
}

// DefaultEmergencyNumbers are used until the platform pushes a country list.
var DefaultEmergencyNumbers = []string{"112", "911"}

func NewBridge(slotCount int, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:   logger.Component(log, "modem_bridge"),
		sims:  make([]telephony.SimState, slotCount),
		ims:   map[int]*imsEntry{},
		scans: map[string]*scan{},
		settings: Settings{
			VoLteEnabled:  map[int]bool{},
			VoWifiEnabled: map[int]bool{},
			ValidEid:      map[int]bool{},
		},
	}
	b.SetEmergencyNumbers(DefaultEmergencyNumbers)
	return b
}

// --- SIM state ---

func (b *Bridge) SlotCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sims)
}

func (b *Bridge) SimState(slotID int) telephony.SimState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slotID < 0 || slotID >= len(b.sims) {
		return telephony.SimStateUnknown
	}
	return b.sims[slotID]
}

func (b *Bridge) SetSimState(slotID int, s telephony.SimState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slotID < 0 || slotID >= len(b.sims) {
		return ErrInvalidSlot
	}
	b.sims[slotID] = s
	return nil
}

// --- Emergency numbers ---

func (b *Bridge) IsEmergencyNumber(_ int, number string) bool {
	n := normalizeNumber(number)
	if n == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.numbers[n]
	return ok
}

func (b *Bridge) SetEmergencyNumbers(numbers []string) {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		if n = normalizeNumber(n); n != "" {
			set[n] = struct{}{}
		}
	}
	b.mu.Lock()
	b.numbers = set
	b.mu.Unlock()
}

func normalizeNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#', r == '+':
			return r
		default:
			return -1
		}
	}, s)
}

// --- Device settings ---

func (b *Bridge) IsVoLteEnabled(subID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.VoLteEnabled[subID]
}

func (b *Bridge) IsVoWifiEnabled(subID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.VoWifiEnabled[subID]
}

func (b *Bridge) IsTtyEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.TtyEnabled
}

func (b *Bridge) HasValidEid(slotID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.ValidEid[slotID]
}

// UpdateSettings replaces the maps present in s; nil maps keep their value.
func (b *Bridge) UpdateSettings(s Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.VoLteEnabled != nil {
		b.settings.VoLteEnabled = copyFlags(s.VoLteEnabled)
	}
	if s.VoWifiEnabled != nil {
		b.settings.VoWifiEnabled = copyFlags(s.VoWifiEnabled)
	}
	if s.ValidEid != nil {
		b.settings.ValidEid = copyFlags(s.ValidEid)
	}
	b.settings.TtyEnabled = s.TtyEnabled
}

func copyFlags(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- IMS service ---

func (b *Bridge) entry(subID int) *imsEntry {
	e, ok := b.ims[subID]
	if !ok {
		e = newImsEntry()
		b.ims[subID] = e
	}
	return e
}

func (b *Bridge) RegisterFeatureStateCallback(subID int, cb telephony.ImsFeatureStateCallback) error {
	if subID < 0 {
		return ErrInvalidSubscription
	}
	b.mu.Lock()
	e := b.entry(subID)
	e.feature[cb] = struct{}{}
	st, known := e.status, e.known
	b.mu.Unlock()

	if known {
		deliverFeature(cb, st)
	}
	return nil
}

func (b *Bridge) UnregisterFeatureStateCallback(subID int, cb telephony.ImsFeatureStateCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.ims[subID]; ok {
		delete(e.feature, cb)
	}
}

func (b *Bridge) RegisterRegistrationCallback(subID int, cb telephony.ImsRegistrationCallback) error {
	b.mu.Lock()
	e, ok := b.ims[subID]
	if !ok || !e.status.Available {
		b.mu.Unlock()
		return ErrNotConfigured
	}
	e.reg[cb] = struct{}{}
	st := e.status
	b.mu.Unlock()

	deliverRegistration(cb, st)
	return nil
}

func (b *Bridge) UnregisterRegistrationCallback(subID int, cb telephony.ImsRegistrationCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.ims[subID]; ok {
		delete(e.reg, cb)
	}
}

func (b *Bridge) RegisterCapabilityCallback(subID int, cb telephony.ImsCapabilityCallback) error {
	b.mu.Lock()
	e, ok := b.ims[subID]
	if !ok || !e.status.Available {
		b.mu.Unlock()
		return ErrNotConfigured
	}
	e.caps[cb] = struct{}{}
	caps := e.status.Capabilities
	b.mu.Unlock()

	cb.OnCapabilitiesChanged(caps)
	return nil
}

func (b *Bridge) UnregisterCapabilityCallback(subID int, cb telephony.ImsCapabilityCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.ims[subID]; ok {
		delete(e.caps, cb)
	}
}

// ImsStatus returns the latest pushed status of subID.
func (b *Bridge) ImsStatus(subID int) (ImsStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.ims[subID]
	if !ok || !e.known {
		return ImsStatus{}, false
	}
	return e.status, true
}

// UpdateIms stores a new IMS status for subID and fans the differences out to
// the registered callbacks.
func (b *Bridge) UpdateIms(subID int, st ImsStatus) error {
	if subID < 0 {
		return ErrInvalidSubscription
	}
	if st.Registration == "" {
		st.Registration = ImsUnregistered
	}
	if !st.Available {
		st.Registration = ImsUnregistered
		st.Capabilities = 0
		if st.Reason == 0 {
			st.Reason = telephony.ImsUnavailableTemporaryError
		}
	} else {
		st.Reason = 0
	}

	b.mu.Lock()
	e := b.entry(subID)
	prev, wasKnown := e.status, e.known
	e.status, e.known = st, true
	feature := featureCallbacks(e)
	reg := registrationCallbacks(e)
	caps := capabilityCallbacks(e)
	b.mu.Unlock()

	b.log.Debug("ims status updated", "sub", subID, "available", st.Available,
		"registration", st.Registration, "access_network", st.AccessNetwork.String())

	if !wasKnown || prev.Available != st.Available || prev.Reason != st.Reason {
		for _, cb := range feature {
			deliverFeature(cb, st)
		}
	}
	if !st.Available {
		return nil
	}
	if prev.Registration != st.Registration || prev.AccessNetwork != st.AccessNetwork || prev.CrossSim != st.CrossSim {
		for _, cb := range reg {
			deliverRegistration(cb, st)
		}
	}
	if prev.Capabilities != st.Capabilities {
		for _, cb := range caps {
			cb.OnCapabilitiesChanged(st.Capabilities)
		}
	}
	return nil
}

func featureCallbacks(e *imsEntry) []telephony.ImsFeatureStateCallback {
	out := make([]telephony.ImsFeatureStateCallback, 0, len(e.feature))
	for cb := range e.feature {
		out = append(out, cb)
	}
	return out
}

func registrationCallbacks(e *imsEntry) []telephony.ImsRegistrationCallback {
	out := make([]telephony.ImsRegistrationCallback, 0, len(e.reg))
	for cb := range e.reg {
		out = append(out, cb)
	}
	return out
}

func capabilityCallbacks(e *imsEntry) []telephony.ImsCapabilityCallback {
	out := make([]telephony.ImsCapabilityCallback, 0, len(e.caps))
	for cb := range e.caps {
		out = append(out, cb)
	}
	return out
}

func deliverFeature(cb telephony.ImsFeatureStateCallback, st ImsStatus) {
	if st.Available {
		cb.OnAvailable()
		return
	}
	cb.OnUnavailable(st.Reason)
}

func deliverRegistration(cb telephony.ImsRegistrationCallback, st ImsStatus) {
	attrs := telephony.ImsRegistrationAttributes{AccessNetwork: st.AccessNetwork, CrossSim: st.CrossSim}
	switch st.Registration {
	case ImsRegistered:
		cb.OnRegistered(attrs)
	case ImsRegistering:
		cb.OnRegistering(attrs)
	default:
		cb.OnUnregistered()
	}
}
