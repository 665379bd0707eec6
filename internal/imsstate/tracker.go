// Package imsstate aggregates asynchronous IMS availability, registration and capability
// events of one SIM slot into a consistent snapshot, and fans out IMS state, service state
// and barring info changes to listeners.
//
// All mutable state is confined to the tracker's task queue. Getters read a copy published
// under a mutex and may be called from any goroutine.
package imsstate

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

var ErrInvalidSubscription = errors.New("imsstate: invalid subscription")

const DefaultUnavailableGrace = time.Second

type Options struct {
	// UnavailableGrace is how long a transient unavailability is held as "not ready".
	UnavailableGrace time.Duration
}

type Tracker struct {
	slot  int
	exec  taskqueue.Executor
	ims   telephony.ImsService
	grace time.Duration
	log   *slog.Logger

	mu        sync.RWMutex
	published State
	service   *telephony.ServiceState
	barring   *telephony.BarringInfo

	// Queue-confined below.
	state      State
	bound      bool
	binding    int
	featureCb  *featureCallback
	regCb      *registrationCallback
	capCb      *capabilityCallback
	graceTimer *taskqueue.Timer
	notified   *State

	imsListeners     listenerList[State]
	serviceListeners listenerList[telephony.ServiceState]
	barringListeners listenerList[telephony.BarringInfo]
}

func NewTracker(slot int, exec taskqueue.Executor, ims telephony.ImsService, opts Options, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	grace := opts.UnavailableGrace
	if grace <= 0 {
		grace = DefaultUnavailableGrace
	}
	st := State{SubID: telephony.InvalidSubscriptionID}
	return &Tracker{
		slot:      slot,
		exec:      exec,
		ims:       ims,
		grace:     grace,
		log:       log.With("component", "ims_state_tracker", "slot", slot),
		state:     st,
		published: st,
	}
}

func (t *Tracker) SlotID() int { return t.slot }

// Start binds the tracker to subID. Binding to the current subscription again is a no-op.
// An invalid subID drops the binding and settles the state as unavailable.
func (t *Tracker) Start(subID int) error {
	if !t.exec.Post(func() { t.start(subID) }) {
		return taskqueue.ErrClosed
	}
	if subID < 0 {
		return ErrInvalidSubscription
	}
	return nil
}

// Stop drops the binding without settling a new state.
func (t *Tracker) Stop() {
	t.exec.Post(func() {
		t.unbind(true)
		t.state = State{SubID: telephony.InvalidSubscriptionID}
		t.publish()
	})
}

func (t *Tracker) start(subID int) {
	if t.bound && t.state.SubID == subID {
		t.log.Debug("ims binding reaffirmed", "sub", subID)
		return
	}
	t.unbind(true)
	t.state = State{SubID: subID}

	if subID < 0 {
		t.state.Ready = true
		t.state.LastReason = telephony.ImsUnavailableNotConfigured
		t.publish()
		t.notifyIms()
		return
	}

	if t.ims == nil {
		t.state.Ready = true
		t.state.LastReason = telephony.ImsUnavailableNotConfigured
		t.publish()
		t.notifyIms()
		return
	}
	t.binding++
	cb := &featureCallback{t: t, binding: t.binding}
	if err := t.ims.RegisterFeatureStateCallback(subID, cb); err != nil {
		t.log.Warn("register ims feature state callback failed", "sub", subID, "err", err)
		t.state.Ready = true
		t.state.LastReason = telephony.ImsUnavailableNotConfigured
		t.publish()
		t.notifyIms()
		return
	}
	t.featureCb = cb
	t.bound = true
	t.log.Info("ims binding started", "sub", subID)
	t.publish()
}

// unbind releases downstream callbacks. explicit is false when the binding is already gone.
func (t *Tracker) unbind(explicit bool) {
	t.stopGrace()
	t.releaseMmTelCallbacks(explicit)
	if t.featureCb != nil && explicit && t.ims != nil {
		t.ims.UnregisterFeatureStateCallback(t.state.SubID, t.featureCb)
	}
	t.featureCb = nil
	t.bound = false
	t.binding++
}

func (t *Tracker) registerMmTelCallbacks() {
	if t.ims == nil || t.regCb != nil {
		return
	}
	reg := &registrationCallback{t: t, binding: t.binding}
	if err := t.ims.RegisterRegistrationCallback(t.state.SubID, reg); err != nil {
		t.log.Warn("register ims registration callback failed", "sub", t.state.SubID, "err", err)
		return
	}
	capCb := &capabilityCallback{t: t, binding: t.binding}
	if err := t.ims.RegisterCapabilityCallback(t.state.SubID, capCb); err != nil {
		t.log.Warn("register ims capability callback failed", "sub", t.state.SubID, "err", err)
		t.ims.UnregisterRegistrationCallback(t.state.SubID, reg)
		return
	}
	t.regCb, t.capCb = reg, capCb
}

func (t *Tracker) releaseMmTelCallbacks(explicit bool) {
	if explicit && t.ims != nil {
		if t.regCb != nil {
			t.ims.UnregisterRegistrationCallback(t.state.SubID, t.regCb)
		}
		if t.capCb != nil {
			t.ims.UnregisterCapabilityCallback(t.state.SubID, t.capCb)
		}
	}
	t.regCb, t.capCb = nil, nil
}

func (t *Tracker) stopGrace() {
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
}

func (t *Tracker) onAvailable(binding int) {
	if binding != t.binding {
		return
	}
	t.stopGrace()
	t.state.MmTelAvailable = true
	t.state.Ready = true
	t.state.LastReason = 0
	t.registerMmTelCallbacks()
	t.log.Info("mmtel feature available", "sub", t.state.SubID)
	t.publish()
	t.notifyIms()
}

func (t *Tracker) onUnavailable(binding int, reason telephony.ImsUnavailableReason) {
	if binding != t.binding {
		return
	}
	t.log.Info("mmtel feature unavailable", "sub", t.state.SubID, "reason", reason.String())

	if reason == telephony.ImsUnavailableSubscriptionInactive {
		sub := t.state.SubID
		t.unbind(false)
		t.state = State{SubID: sub, Ready: true, LastReason: reason}
		t.publish()
		t.notifyIms()
		return
	}

	t.releaseMmTelCallbacks(true)
	t.state.MmTelAvailable = false
	t.state.Registered = false
	t.state.CrossSim = false
	t.state.AccessNetwork = telephony.AccessNetworkUnknown
	t.state.Capabilities = 0
	t.state.LastReason = reason

	if !reason.IsTransient() {
		t.stopGrace()
		t.state.Ready = true
		t.publish()
		t.notifyIms()
		return
	}

	t.state.Ready = false
	t.publish()
	t.notifyIms()
	if t.graceTimer == nil {
		b := t.binding
		t.graceTimer = t.exec.PostDelayed(t.grace, func() { t.onGraceExpired(b) })
	}
}

func (t *Tracker) onGraceExpired(binding int) {
	t.graceTimer = nil
	if binding != t.binding || t.state.Ready {
		return
	}
	t.log.Info("mmtel feature settled unavailable", "sub", t.state.SubID, "reason", t.state.LastReason.String())
	t.state.Ready = true
	t.publish()
	t.notifyIms()
}

func (t *Tracker) onRegistered(binding int, attrs telephony.ImsRegistrationAttributes) {
	if binding != t.binding || t.regCb == nil {
		return
	}
	t.state.Registered = true
	t.state.AccessNetwork = attrs.AccessNetwork
	t.state.CrossSim = attrs.CrossSim
	t.publish()
	t.notifyIms()
}

func (t *Tracker) onRegistering(binding int, attrs telephony.ImsRegistrationAttributes) {
	if binding != t.binding || t.regCb == nil {
		return
	}
	t.state.Registered = false
	t.state.AccessNetwork = attrs.AccessNetwork
	t.state.CrossSim = attrs.CrossSim
	t.publish()
	t.notifyIms()
}

func (t *Tracker) onUnregistered(binding int) {
	if binding != t.binding || t.regCb == nil {
		return
	}
	t.state.Registered = false
	t.state.AccessNetwork = telephony.AccessNetworkUnknown
	t.state.CrossSim = false
	t.publish()
	t.notifyIms()
}

func (t *Tracker) onCapabilitiesChanged(binding int, caps telephony.MmTelCapability) {
	if binding != t.binding || t.capCb == nil {
		return
	}
	t.state.Capabilities = caps
	t.publish()
	t.notifyIms()
}

func (t *Tracker) publish() {
	t.mu.Lock()
	t.published = t.state
	t.mu.Unlock()
}

// notifyIms delivers the current state unless it equals the last delivered one.
func (t *Tracker) notifyIms() {
	if t.notified != nil && *t.notified == t.state {
		return
	}
	s := t.state
	t.notified = &s
	t.imsListeners.notify(s)
}

// UpdateServiceState caches and forwards a service state push.
func (t *Tracker) UpdateServiceState(ss telephony.ServiceState) {
	t.exec.Post(func() {
		t.mu.Lock()
		t.service = &ss
		t.mu.Unlock()
		t.serviceListeners.notify(ss)
	})
}

// UpdateBarringInfo caches and forwards a barring info push.
func (t *Tracker) UpdateBarringInfo(b telephony.BarringInfo) {
	t.exec.Post(func() {
		t.mu.Lock()
		t.barring = &b
		t.mu.Unlock()
		t.barringListeners.notify(b)
	})
}

// SubscribeImsState adds fn, delivered on exec (nil runs on the tracker queue).
// The latest state is replayed once if the tracker is bound or settled.
func (t *Tracker) SubscribeImsState(exec taskqueue.Executor, fn func(State)) *Subscription {
	sub := newSubscription()
	l := &listener[State]{sub: sub, exec: exec, fn: fn}
	sub.remove = func() { t.exec.Post(func() { t.imsListeners.remove(sub) }) }
	t.exec.Post(func() {
		if !sub.Active() {
			return
		}
		t.imsListeners.add(l)
		if t.bound || t.state.Ready {
			l.deliver(t.state)
		}
	})
	return sub
}

// SubscribeServiceState adds fn and replays the cached service state, if any.
func (t *Tracker) SubscribeServiceState(exec taskqueue.Executor, fn func(telephony.ServiceState)) *Subscription {
	sub := newSubscription()
	l := &listener[telephony.ServiceState]{sub: sub, exec: exec, fn: fn}
	sub.remove = func() { t.exec.Post(func() { t.serviceListeners.remove(sub) }) }
	t.exec.Post(func() {
		if !sub.Active() {
			return
		}
		t.serviceListeners.add(l)
		t.mu.RLock()
		ss := t.service
		t.mu.RUnlock()
		if ss != nil {
			l.deliver(*ss)
		}
	})
	return sub
}

// SubscribeBarringInfo adds fn and replays the cached barring info, if any.
func (t *Tracker) SubscribeBarringInfo(exec taskqueue.Executor, fn func(telephony.BarringInfo)) *Subscription {
	sub := newSubscription()
	l := &listener[telephony.BarringInfo]{sub: sub, exec: exec, fn: fn}
	sub.remove = func() { t.exec.Post(func() { t.barringListeners.remove(sub) }) }
	t.exec.Post(func() {
		if !sub.Active() {
			return
		}
		t.barringListeners.add(l)
		t.mu.RLock()
		b := t.barring
		t.mu.RUnlock()
		if b != nil {
			l.deliver(*b)
		}
	})
	return sub
}

func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.published
}

func (t *Tracker) ServiceState() (telephony.ServiceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.service == nil {
		return telephony.ServiceState{}, false
	}
	return *t.service, true
}

func (t *Tracker) BarringInfo() (telephony.BarringInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.barring == nil {
		return telephony.BarringInfo{}, false
	}
	return *t.barring, true
}

func (t *Tracker) SubID() int                    { return t.Snapshot().SubID }
func (t *Tracker) IsImsStateReady() bool         { return t.Snapshot().Ready }
func (t *Tracker) IsMmTelFeatureAvailable() bool { return t.Snapshot().MmTelAvailable }
func (t *Tracker) IsImsRegistered() bool         { return t.Snapshot().Registered }
func (t *Tracker) IsImsRegisteredOverWlan() bool {
	return t.Snapshot().RegisteredOverWlan()
}
func (t *Tracker) IsImsRegisteredOverCrossSim() bool {
	return t.Snapshot().RegisteredOverCrossSim()
}
func (t *Tracker) IsImsVoiceCapable() bool { return t.Snapshot().VoiceCapable() }
func (t *Tracker) IsImsVideoCapable() bool { return t.Snapshot().VideoCapable() }
func (t *Tracker) IsImsSmsCapable() bool   { return t.Snapshot().SmsCapable() }
func (t *Tracker) IsImsUtCapable() bool    { return t.Snapshot().UtCapable() }
func (t *Tracker) ImsAccessNetworkType() telephony.AccessNetworkType {
	return t.Snapshot().AccessNetwork
}

// Callback adapters re-post onto the tracker queue and carry the binding they belong to.

type featureCallback struct {
	t       *Tracker
	binding int
}

func (c *featureCallback) OnAvailable() {
	c.t.exec.Post(func() { c.t.onAvailable(c.binding) })
}

func (c *featureCallback) OnUnavailable(reason telephony.ImsUnavailableReason) {
	c.t.exec.Post(func() { c.t.onUnavailable(c.binding, reason) })
}

type registrationCallback struct {
	t       *Tracker
	binding int
}

func (c *registrationCallback) OnRegistered(attrs telephony.ImsRegistrationAttributes) {
	c.t.exec.Post(func() { c.t.onRegistered(c.binding, attrs) })
}

func (c *registrationCallback) OnRegistering(attrs telephony.ImsRegistrationAttributes) {
	c.t.exec.Post(func() { c.t.onRegistering(c.binding, attrs) })
}

func (c *registrationCallback) OnUnregistered() {
	c.t.exec.Post(func() { c.t.onUnregistered(c.binding) })
}

type capabilityCallback struct {
	t       *Tracker
	binding int
}

func (c *capabilityCallback) OnCapabilitiesChanged(caps telephony.MmTelCapability) {
	c.t.exec.Post(func() { c.t.onCapabilitiesChanged(c.binding, caps) })
}
