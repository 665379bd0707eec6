package imsstate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
)

type fakeIms struct {
	feature map[int]telephony.ImsFeatureStateCallback
	reg     map[int]telephony.ImsRegistrationCallback
	caps    map[int]telephony.ImsCapabilityCallback

	featureUnregs int
	regUnregs     int
	failFeature   bool
}

func newFakeIms() *fakeIms {
	return &fakeIms{
		feature: map[int]telephony.ImsFeatureStateCallback{},
		reg:     map[int]telephony.ImsRegistrationCallback{},
		caps:    map[int]telephony.ImsCapabilityCallback{},
	}
}

func (f *fakeIms) RegisterFeatureStateCallback(subID int, cb telephony.ImsFeatureStateCallback) error {
	if f.failFeature {
		return errors.New("ims service unbound")
	}
	f.feature[subID] = cb
	return nil
}

func (f *fakeIms) UnregisterFeatureStateCallback(subID int, _ telephony.ImsFeatureStateCallback) {
	f.featureUnregs++
	delete(f.feature, subID)
}

func (f *fakeIms) RegisterRegistrationCallback(subID int, cb telephony.ImsRegistrationCallback) error {
	f.reg[subID] = cb
	return nil
}

func (f *fakeIms) UnregisterRegistrationCallback(subID int, _ telephony.ImsRegistrationCallback) {
	f.regUnregs++
	delete(f.reg, subID)
}

func (f *fakeIms) RegisterCapabilityCallback(subID int, cb telephony.ImsCapabilityCallback) error {
	f.caps[subID] = cb
	return nil
}

func (f *fakeIms) UnregisterCapabilityCallback(subID int, _ telephony.ImsCapabilityCallback) {
	delete(f.caps, subID)
}

func newTestTracker(t *testing.T) (*Tracker, *fakeIms, *taskqueue.Manual) {
	t.Helper()
	q := taskqueue.NewManual(time.Time{})
	ims := newFakeIms()
	tr := NewTracker(0, q, ims, Options{UnavailableGrace: 500 * time.Millisecond}, nil)
	return tr, ims, q
}

func TestTracker_RegistrationCallbacksOnlyWhileAvailable(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	require.NoError(t, tr.Start(1))
	q.RunPending()

	require.Contains(t, ims.feature, 1)
	require.NotContains(t, ims.reg, 1)
	require.False(t, tr.IsImsStateReady())

	ims.feature[1].OnAvailable()
	q.RunPending()
	require.True(t, tr.IsImsStateReady())
	require.True(t, tr.IsMmTelFeatureAvailable())
	require.Contains(t, ims.reg, 1)
	require.Contains(t, ims.caps, 1)

	ims.reg[1].OnRegistered(telephony.ImsRegistrationAttributes{AccessNetwork: telephony.AccessNetworkIWLAN})
	ims.caps[1].OnCapabilitiesChanged(telephony.CapabilityVoice | telephony.CapabilitySMS)
	q.RunPending()
	require.True(t, tr.IsImsRegistered())
	require.True(t, tr.IsImsRegisteredOverWlan())
	require.False(t, tr.IsImsRegisteredOverCrossSim())
	require.True(t, tr.IsImsVoiceCapable())
	require.True(t, tr.IsImsSmsCapable())
	require.False(t, tr.IsImsVideoCapable())
	require.False(t, tr.IsImsUtCapable())
	require.Equal(t, telephony.AccessNetworkIWLAN, tr.ImsAccessNetworkType())

	ims.feature[1].OnUnavailable(telephony.ImsUnavailableNotConfigured)
	q.RunPending()
	require.NotContains(t, ims.reg, 1)
	require.Equal(t, 1, ims.regUnregs)
	require.True(t, tr.IsImsStateReady())
	require.False(t, tr.IsImsRegistered())
}

func TestTracker_TransientUnavailabilityHeldForGrace(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	tr.Start(1)
	q.RunPending()
	ims.feature[1].OnAvailable()
	q.RunPending()

	var states []State
	tr.SubscribeImsState(nil, func(s State) { states = append(states, s) })
	q.RunPending()
	require.Len(t, states, 1, "replay on subscribe")

	ims.feature[1].OnUnavailable(telephony.ImsUnavailableServiceNotReady)
	q.RunPending()
	require.False(t, tr.IsImsStateReady())

	q.Advance(400 * time.Millisecond)
	require.False(t, tr.IsImsStateReady())

	q.Advance(100 * time.Millisecond)
	require.True(t, tr.IsImsStateReady())
	require.False(t, tr.IsMmTelFeatureAvailable())
	require.Len(t, states, 3)
	require.False(t, states[1].Ready)
	require.True(t, states[2].Ready)
}

func TestTracker_AvailableDuringGraceCancelsSettle(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	tr.Start(1)
	q.RunPending()
	ims.feature[1].OnUnavailable(telephony.ImsUnavailableTemporaryError)
	q.RunPending()
	require.False(t, tr.IsImsStateReady())

	ims.feature[1].OnAvailable()
	q.RunPending()
	require.True(t, tr.IsMmTelFeatureAvailable())
	require.Zero(t, q.Pending(), "grace timer must be canceled")
}

func TestTracker_SubscriptionInactiveDropsWithoutUnregister(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	tr.Start(1)
	q.RunPending()
	ims.feature[1].OnAvailable()
	q.RunPending()

	fcb := ims.feature[1]
	rcb := ims.reg[1]
	fcb.OnUnavailable(telephony.ImsUnavailableSubscriptionInactive)
	q.RunPending()

	require.Zero(t, ims.regUnregs)
	require.Zero(t, ims.featureUnregs)
	require.True(t, tr.IsImsStateReady())
	require.False(t, tr.IsMmTelFeatureAvailable())

	// Late callbacks from the dead binding are ignored.
	rcb.OnRegistered(telephony.ImsRegistrationAttributes{AccessNetwork: telephony.AccessNetworkEUTRAN})
	q.RunPending()
	require.False(t, tr.IsImsRegistered())

	// Starting again with the same id rebinds.
	tr.Start(1)
	q.RunPending()
	require.NotSame(t, fcb, ims.feature[1])
}

func TestTracker_StartSameIDIsNoop_DifferentIDRebinds(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	tr.Start(1)
	q.RunPending()
	first := ims.feature[1]

	tr.Start(1)
	q.RunPending()
	require.Same(t, first, ims.feature[1])
	require.Zero(t, ims.featureUnregs)

	tr.Start(2)
	q.RunPending()
	require.Equal(t, 1, ims.featureUnregs)
	require.Contains(t, ims.feature, 2)
	require.Equal(t, 2, tr.SubID())

	// Callback bound to the old subscription no longer applies.
	first.OnAvailable()
	q.RunPending()
	require.False(t, tr.IsMmTelFeatureAvailable())
}

func TestTracker_InvalidSubscriptionSettlesUnavailable(t *testing.T) {
	tr, _, q := newTestTracker(t)
	require.ErrorIs(t, tr.Start(telephony.InvalidSubscriptionID), ErrInvalidSubscription)
	q.RunPending()
	require.True(t, tr.IsImsStateReady())
	require.False(t, tr.IsMmTelFeatureAvailable())
}

func TestTracker_RegisterFailureSettlesUnavailable(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	ims.failFeature = true
	tr.Start(1)
	q.RunPending()
	require.True(t, tr.IsImsStateReady())
	require.False(t, tr.IsMmTelFeatureAvailable())
}

func TestTracker_ReplayOnSubscribeExactlyOnce(t *testing.T) {
	tr, _, q := newTestTracker(t)
	tr.UpdateBarringInfo(telephony.NewBarringInfo(true))
	tr.UpdateServiceState(telephony.ServiceState{State: telephony.ServiceStateInService})
	q.RunPending()

	var barrings []telephony.BarringInfo
	var services []telephony.ServiceState
	tr.SubscribeBarringInfo(nil, func(b telephony.BarringInfo) { barrings = append(barrings, b) })
	tr.SubscribeServiceState(nil, func(s telephony.ServiceState) { services = append(services, s) })
	q.RunPending()

	require.Len(t, barrings, 1)
	require.True(t, barrings[0].IsBarred(telephony.BarringServiceEmergency))
	require.Len(t, services, 1)

	tr.UpdateBarringInfo(telephony.NewBarringInfo(false))
	q.RunPending()
	require.Len(t, barrings, 2)
	require.False(t, barrings[1].IsBarred(telephony.BarringServiceEmergency))
}

func TestTracker_NoDeliveryAfterCancel(t *testing.T) {
	tr, _, q := newTestTracker(t)
	listenerQ := taskqueue.NewManual(time.Time{})

	var got int
	sub := tr.SubscribeBarringInfo(listenerQ, func(telephony.BarringInfo) { got++ })
	q.RunPending()

	tr.UpdateBarringInfo(telephony.NewBarringInfo(true))
	q.RunPending()
	// Delivery is queued on the listener queue; cancel before it runs.
	sub.Cancel()
	listenerQ.RunPending()
	require.Zero(t, got)

	tr.UpdateBarringInfo(telephony.NewBarringInfo(false))
	q.RunPending()
	listenerQ.RunPending()
	require.Zero(t, got)
	require.Zero(t, tr.barringListeners.len())
}

func TestTracker_CancelBeforeAddIsNoop(t *testing.T) {
	tr, _, q := newTestTracker(t)
	tr.UpdateServiceState(telephony.ServiceState{State: telephony.ServiceStateOutOfService})
	var got int
	sub := tr.SubscribeServiceState(nil, func(telephony.ServiceState) { got++ })
	sub.Cancel()
	q.RunPending()
	require.Zero(t, got)
	require.Zero(t, tr.serviceListeners.len())
}

func TestTracker_DuplicateImsStateNotRedelivered(t *testing.T) {
	tr, ims, q := newTestTracker(t)
	tr.Start(1)
	q.RunPending()
	ims.feature[1].OnAvailable()
	q.RunPending()

	var n int
	tr.SubscribeImsState(nil, func(State) { n++ })
	q.RunPending()
	require.Equal(t, 1, n)

	ims.caps[1].OnCapabilitiesChanged(telephony.CapabilityVoice)
	ims.caps[1].OnCapabilitiesChanged(telephony.CapabilityVoice)
	q.RunPending()
	require.Equal(t, 2, n)
}
