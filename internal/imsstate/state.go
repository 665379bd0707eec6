package imsstate

import (
	"sync/atomic"

	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

// State is an immutable snapshot of the IMS state of one slot.
type State struct {
	SubID int `json:"sub_id"`
	// Ready is set once a definitive availability has been observed.
	Ready          bool                           `json:"ready"`
	MmTelAvailable bool                           `json:"mmtel_available"`
	Registered     bool                           `json:"registered"`
	AccessNetwork  telephony.AccessNetworkType    `json:"access_network"`
	CrossSim       bool                           `json:"cross_sim"`
	Capabilities   telephony.MmTelCapability      `json:"capabilities"`
	LastReason     telephony.ImsUnavailableReason `json:"last_unavailable_reason,omitempty"`
}

func (s State) RegisteredOverWlan() bool {
	return s.Registered && !s.CrossSim && s.AccessNetwork == telephony.AccessNetworkIWLAN
}

func (s State) RegisteredOverCrossSim() bool { return s.Registered && s.CrossSim }

func (s State) VoiceCapable() bool {
	return s.MmTelAvailable && s.Capabilities.Has(telephony.CapabilityVoice)
}

func (s State) VideoCapable() bool {
	return s.MmTelAvailable && s.Capabilities.Has(telephony.CapabilityVideo)
}

func (s State) SmsCapable() bool {
	return s.MmTelAvailable && s.Capabilities.Has(telephony.CapabilitySMS)
}

func (s State) UtCapable() bool {
	return s.MmTelAvailable && s.Capabilities.Has(telephony.CapabilityUT)
}

// Subscription is the handle returned when a listener is added.
// After Cancel returns no further value is delivered to the listener.
type Subscription struct {
	active atomic.Bool
	remove func()
}

func newSubscription() *Subscription {
	s := &Subscription{}
	s.active.Store(true)
	return s
}

func (s *Subscription) Active() bool { return s != nil && s.active.Load() }

func (s *Subscription) Cancel() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	if s.remove != nil {
		s.remove()
	}
}

type listener[T any] struct {
	sub  *Subscription
	exec taskqueue.Executor
	fn   func(T)
}

func (l *listener[T]) deliver(v T) {
	if !l.sub.Active() {
		return
	}
	if l.exec == nil {
		l.fn(v)
		return
	}
	l.exec.Post(func() {
		if l.sub.Active() {
			l.fn(v)
		}
	})
}

// listenerList is confined to the tracker queue.
type listenerList[T any] struct {
	items []*listener[T]
}

func (ll *listenerList[T]) add(l *listener[T]) { ll.items = append(ll.items, l) }

func (ll *listenerList[T]) remove(sub *Subscription) {
	out := ll.items[:0]
	for _, l := range ll.items {
		if l.sub != sub {
			out = append(out, l)
		}
	}
	for i := len(out); i < len(ll.items); i++ {
		ll.items[i] = nil
	}
	ll.items = out
}

func (ll *listenerList[T]) notify(v T) {
	for _, l := range ll.items {
		l.deliver(v)
	}
}

func (ll *listenerList[T]) len() int { return len(ll.items) }
