package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"telecom-domainselection/internal/audit"
	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/carrierconfig"
	"telecom-domainselection/internal/telephony"
)

type chanCallback chan string

func (c chanCallback) OnDomainSelected(d telephony.Domain, pdn bool) {
	c <- fmt.Sprintf("domain:%s:%t", d, pdn)
}
func (c chanCallback) OnWlanSelected(pdn bool) { c <- fmt.Sprintf("wlan:%t", pdn) }
func (c chanCallback) OnSelectionTerminated(cause telephony.DisconnectCause) {
	c <- "terminated:" + cause.String()
}

type idleScanner struct {
	mu       sync.Mutex
	requests int
}

func (s *idleScanner) RequestScan(context.Context, telephony.ScanRequest, func(telephony.RegistrationResult)) (func(), error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	return func() {}, nil
}

type readySims struct{}

func (readySims) SlotCount() int                  { return 2 }
func (readySims) SimState(int) telephony.SimState { return telephony.SimStateReady }

type numbers map[string]bool

func (n numbers) IsEmergencyNumber(_ int, number string) bool { return n[number] }

func await(t *testing.T, c chanCallback) string {
	t.Helper()
	select {
	case ev := <-c:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no selection outcome")
		return ""
	}
}

func newTestRegistry(t *testing.T, policies ...carrier.Policy) (*Registry, *audit.MemoryRepo, *carrierconfig.MemoryStore) {
	t.Helper()
	auditRepo := audit.NewMemoryRepo()
	store := carrierconfig.NewMemoryStore()
	r, err := New(context.Background(), Deps{
		Scanner:   &idleScanner{},
		Sims:      readySims{},
		Numbers:   numbers{"911": true},
		Carrier:   carrier.NewService(carrier.NewMemoryRepo(policies...), nil),
		VoNrStore: store,
		Audit:     audit.NewService(auditRepo),
	}, Options{SlotCount: 2, WaitForImsStateTimeout: 100 * time.Millisecond}, nil)
	require.NoError(t, err)
	return r, auditRepo, store
}

func closeRegistry(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestNew_RejectsZeroSlots(t *testing.T) {
	_, err := New(context.Background(), Deps{}, Options{}, nil)
	require.Error(t, err)
}

func TestRegistry_UnknownSlot(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, _, _ := newTestRegistry(t)
	defer closeRegistry(t, r)

	_, err := r.Tracker(2)
	require.ErrorIs(t, err, ErrUnknownSlot)
	_, err = r.NewEmergencySelector(-1, 1)
	require.ErrorIs(t, err, ErrUnknownSlot)
	require.ErrorIs(t, r.BindSubscription(5, 1), ErrUnknownSlot)
}

func TestRegistry_CarrierConfigChangeUpdatesVoNrFlag(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := carrier.DefaultPolicy(1)
	p.VoNrEmergencySupported = true
	r, _, store := newTestRegistry(t, p)
	defer closeRegistry(t, r)

	require.NoError(t, r.BindSubscription(0, 1))
	require.True(t, r.Helper().IsVoNrEmergencySupported(0))
	require.False(t, r.Helper().Known(1))
	v, ok, err := store.Load(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, v)

	p.VoNrEmergencySupported = false
	require.NoError(t, r.Carrier().Upsert(context.Background(), p))
	require.False(t, r.Helper().IsVoNrEmergencySupported(0))

	// SIM removed: the last known value survives.
	require.NoError(t, r.BindSubscription(0, telephony.InvalidSubscriptionID))
	require.True(t, r.Helper().Known(0))
}

func TestRegistry_EmergencySelectionEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, _, _ := newTestRegistry(t)
	defer closeRegistry(t, r)
	require.NoError(t, r.BindSubscription(0, 1))

	sel, err := r.CreateSelector(telephony.SelectionAttributes{
		SlotID:         0,
		SubscriptionID: 1,
		Type:           telephony.SelectorTypeCalling,
		Emergency:      true,
		CallID:         "call-1",
		Number:         "911",
		RegistrationResult: &telephony.RegistrationResult{
			AccessNetwork: telephony.AccessNetworkUTRAN,
			State:         telephony.RegistrationHome,
			Domain:        telephony.DomainCS,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, r.ActiveSelectors())

	cb := make(chanCallback, 4)
	sel.SelectDomain(telephony.SelectionAttributes{
		SlotID:         0,
		SubscriptionID: 1,
		Type:           telephony.SelectorTypeCalling,
		Emergency:      true,
		CallID:         "call-1",
		Number:         "911",
		RegistrationResult: &telephony.RegistrationResult{
			AccessNetwork: telephony.AccessNetworkUTRAN,
			State:         telephony.RegistrationHome,
			Domain:        telephony.DomainCS,
		},
	}, cb)
	require.Equal(t, "domain:CS:false", await(t, cb))

	sel.FinishSelection()
	require.Eventually(t, func() bool { return r.ActiveSelectors() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_CrossStackExpiryTerminatesSelection(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := carrier.DefaultPolicy(1)
	p.NormalCrossStackTimeout = 50 * time.Millisecond
	r, auditRepo, _ := newTestRegistry(t, p)
	defer closeRegistry(t, r)
	require.NoError(t, r.BindSubscription(0, 1))

	sel, err := r.NewEmergencySelector(0, 1)
	require.NoError(t, err)
	cb := make(chanCallback, 4)
	sel.SelectDomain(telephony.SelectionAttributes{
		SlotID:         0,
		SubscriptionID: 1,
		Type:           telephony.SelectorTypeCalling,
		Emergency:      true,
		CallID:         "call-7",
		Number:         "911",
	}, cb)

	require.Equal(t, "terminated:EMERGENCY_TEMP_FAILURE", await(t, cb))
	require.Eventually(t, func() bool { return r.ActiveSelectors() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, r.Controller().Snapshot().Expiries)

	require.Eventually(t, func() bool {
		var expired, terminated bool
		for _, e := range auditRepo.Events() {
			expired = expired || e.Type == audit.EventTypeCrossStackExpired
			terminated = terminated || e.Type == audit.EventTypeTerminated
		}
		return expired && terminated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_CloseFinishesSelectors(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, _, _ := newTestRegistry(t)

	sel, err := r.NewNormalSelector(1, 2)
	require.NoError(t, err)
	sel.SelectDomain(telephony.SelectionAttributes{
		SlotID:         1,
		SubscriptionID: 2,
		Type:           telephony.SelectorTypeCalling,
		Number:         "5551234",
	}, make(chanCallback, 4))

	closeRegistry(t, r)
	require.Zero(t, r.ActiveSelectors())

	_, err = r.NewNormalSelector(1, 2)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, r.Close(context.Background()), ErrClosed)
}
