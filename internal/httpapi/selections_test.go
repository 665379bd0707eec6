package httpapi

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telecom-domainselection/internal/selection"
	"telecom-domainselection/internal/telephony"
)

type fakeSelector struct {
	mu       sync.Mutex
	finished int
}

func (f *fakeSelector) SlotID() int                                                    { return 0 }
func (f *fakeSelector) SubID() int                                                     { return 1 }
func (f *fakeSelector) Kind() string                                                   { return "normal" }
func (f *fakeSelector) SelectDomain(telephony.SelectionAttributes, selection.Callback) {}
func (f *fakeSelector) ReselectDomain(telephony.SelectionAttributes)                   {}
func (f *fakeSelector) CancelSelection()                                               {}
func (f *fakeSelector) FinishSelection() {
	f.mu.Lock()
	f.finished++
	f.mu.Unlock()
}

func (f *fakeSelector) finishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSessions(clock *fakeClock) *Sessions {
	s := NewSessions()
	s.Now = clock.Now
	s.EndedRetention = time.Minute
	s.IdleTimeout = 10 * time.Minute
	return s
}

func TestSessions_TerminatedEvictedAfterRetention(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newTestSessions(clock)
	sel := &fakeSelector{}
	sess := s.newSession(sel, telephony.SelectionAttributes{CallID: "c1"})
	s.put(sess)

	sess.OnSelectionTerminated(telephony.CauseOutOfService)
	clock.Advance(30 * time.Second)
	got, ok := s.get(sess.id)
	require.True(t, ok)
	require.True(t, got.view().Ended)

	clock.Advance(31 * time.Second)
	require.Equal(t, 1, s.Prune())
	_, ok = s.get(sess.id)
	require.False(t, ok)
	require.Zero(t, s.Len())
	// A terminated selector already destroyed itself.
	require.Zero(t, sel.finishCount())
}

func TestSessions_IdleSessionFinished(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newTestSessions(clock)
	idle := &fakeSelector{}
	busy := &fakeSelector{}
	idleSess := s.newSession(idle, telephony.SelectionAttributes{CallID: "idle"})
	busySess := s.newSession(busy, telephony.SelectionAttributes{CallID: "busy"})
	s.put(idleSess)
	s.put(busySess)

	clock.Advance(6 * time.Minute)
	busySess.OnDomainSelected(telephony.DomainPS, false)
	clock.Advance(5 * time.Minute)

	require.Equal(t, 1, s.Prune())
	require.Equal(t, 1, idle.finishCount())
	require.Zero(t, busy.finishCount())
	_, ok := s.get(idleSess.id)
	require.False(t, ok)
	_, ok = s.get(busySess.id)
	require.True(t, ok)
}

func TestSessions_ZeroIdleTimeoutKeepsOpenSessions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newTestSessions(clock)
	s.IdleTimeout = 0
	sel := &fakeSelector{}
	s.put(s.newSession(sel, telephony.SelectionAttributes{}))

	clock.Advance(24 * time.Hour)
	require.Zero(t, s.Prune())
	require.Equal(t, 1, s.Len())
	require.Zero(t, sel.finishCount())
}
