package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"telecom-domainselection/internal/selection"
	"telecom-domainselection/internal/telephony"
)

// SelectionEvent is one outcome reported by a selector.
type SelectionEvent struct {
	Type            string    `json:"type"`
	Domain          string    `json:"domain,omitempty"`
	UseEmergencyPdn bool      `json:"use_emergency_pdn"`
	Cause           string    `json:"cause,omitempty"`
	At              time.Time `json:"at"`
}

const (
	EventDomainSelected = "domain_selected"
	EventWlanSelected   = "wlan_selected"
	EventTerminated     = "terminated"
)

// session binds a selector to the outcomes it reported. It is the
// selection.Callback handed to SelectDomain.
type session struct {
	id    string
	sel   selection.DomainSelector
	attrs telephony.SelectionAttributes
	now   func() time.Time

	mu      sync.Mutex
	events  []SelectionEvent
	touched time.Time
	// ended is set once the selector terminated; a terminated selector is destroyed.
	ended time.Time
}

func (s *session) add(e SelectionEvent) {
	now := s.now()
	e.At = now.UTC()
	s.mu.Lock()
	s.events = append(s.events, e)
	s.touched = now
	if e.Type == EventTerminated {
		s.ended = now
	}
	s.mu.Unlock()
}

func (s *session) touch() {
	s.mu.Lock()
	s.touched = s.now()
	s.mu.Unlock()
}

func (s *session) OnDomainSelected(d telephony.Domain, useEmergencyPdn bool) {
	s.add(SelectionEvent{Type: EventDomainSelected, Domain: d.String(), UseEmergencyPdn: useEmergencyPdn})
}

func (s *session) OnWlanSelected(useEmergencyPdn bool) {
	s.add(SelectionEvent{Type: EventWlanSelected, Domain: "WLAN", UseEmergencyPdn: useEmergencyPdn})
}

func (s *session) OnSelectionTerminated(cause telephony.DisconnectCause) {
	s.add(SelectionEvent{Type: EventTerminated, Cause: cause.String()})
}

type sessionView struct {
	ID        string           `json:"id"`
	SlotID    int              `json:"slot_id"`
	SubID     int              `json:"subscription_id"`
	Kind      string           `json:"kind"`
	CallID    string           `json:"call_id"`
	Emergency bool             `json:"emergency"`
	Ended     bool             `json:"ended"`
	Events    []SelectionEvent `json:"events"`
}

func (s *session) view() sessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionView{
		ID:        s.id,
		SlotID:    s.attrs.SlotID,
		SubID:     s.attrs.SubscriptionID,
		Kind:      s.sel.Kind(),
		CallID:    s.attrs.CallID,
		Emergency: s.attrs.Emergency,
		Ended:     !s.ended.IsZero(),
		Events:    append([]SelectionEvent(nil), s.events...),
	}
}

const (
	// DefaultEndedRetention keeps terminated sessions readable for a while.
	DefaultEndedRetention = time.Minute
	// DefaultIdleTimeout finishes sessions nobody touched for this long.
	DefaultIdleTimeout = 30 * time.Minute
)

// Sessions holds the selectors driven over HTTP until they are finished,
// terminated and past retention, or idle for too long.
type Sessions struct {
	EndedRetention time.Duration
	IdleTimeout    time.Duration
	Now            func() time.Time

	mu sync.Mutex
	m  map[string]*session
}

func NewSessions() *Sessions {
	return &Sessions{
		EndedRetention: DefaultEndedRetention,
		IdleTimeout:    DefaultIdleTimeout,
		Now:            time.Now,
		m:              map[string]*session{},
	}
}

func (s *Sessions) newSession(sel selection.DomainSelector, attrs telephony.SelectionAttributes) *session {
	return &session{id: uuid.NewString(), sel: sel, attrs: attrs, now: s.Now, touched: s.Now()}
}

func (s *Sessions) put(sess *session) {
	s.Prune()
	s.mu.Lock()
	s.m[sess.id] = sess
	s.mu.Unlock()
}

func (s *Sessions) get(id string) (*session, bool) {
	s.Prune()
	s.mu.Lock()
	sess, ok := s.m[id]
	s.mu.Unlock()
	if ok {
		sess.touch()
	}
	return sess, ok
}

func (s *Sessions) remove(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	delete(s.m, id)
	return sess, ok
}

// Prune drops terminated sessions past retention and finishes idle ones.
// It returns the number of sessions removed.
func (s *Sessions) Prune() int {
	now := s.Now()
	var idle []*session
	s.mu.Lock()
	removed := 0
	for id, sess := range s.m {
		sess.mu.Lock()
		ended, touched := sess.ended, sess.touched
		sess.mu.Unlock()
		switch {
		case !ended.IsZero():
			if now.Sub(ended) < s.EndedRetention {
				continue
			}
		case s.IdleTimeout > 0 && now.Sub(touched) >= s.IdleTimeout:
			idle = append(idle, sess)
		default:
			continue
		}
		delete(s.m, id)
		removed++
	}
	s.mu.Unlock()

	for _, sess := range idle {
		sess.sel.FinishSelection()
	}
	return removed
}

// Len is the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

type selectionRequest struct {
	SlotID         int    `json:"slot_id"`
	SubscriptionID *int   `json:"subscription_id"`
	Emergency      *bool  `json:"emergency"`
	Video          bool   `json:"video"`
	CallID         string `json:"call_id"`
	Number         string `json:"number" binding:"required"`

	RegistrationResult *telephony.RegistrationResult `json:"registration_result"`
}

// StartSelection creates a selector for a dialed call and starts the first
// decision cycle. Emergency is derived from the number list when omitted and
// the subscription defaults to the one bound to the slot.
func (h Handlers) StartSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "number required")
		return
	}

	sub := telephony.InvalidSubscriptionID
	if req.SubscriptionID != nil {
		sub = *req.SubscriptionID
	} else if bound, err := h.Registry.SubscriptionID(req.SlotID); err == nil {
		sub = bound
	}
	emergency := h.Bridge != nil && h.Bridge.IsEmergencyNumber(req.SlotID, req.Number)
	if req.Emergency != nil {
		emergency = *req.Emergency
	}
	callID := req.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	attrs := telephony.SelectionAttributes{
		SlotID:             req.SlotID,
		SubscriptionID:     sub,
		Type:               telephony.SelectorTypeCalling,
		Emergency:          emergency,
		Video:              req.Video,
		CallID:             callID,
		Number:             req.Number,
		RegistrationResult: req.RegistrationResult,
	}
	sel, err := h.Registry.CreateSelector(attrs)
	if err != nil {
		h.registryError(c, err)
		return
	}

	sess := h.Sessions.newSession(sel, attrs)
	h.Sessions.put(sess)
	sel.SelectDomain(attrs, sess)
	c.JSON(http.StatusAccepted, sess.view())
}

// GetSelection returns the outcomes reported so far.
func (h Handlers) GetSelection(c *gin.Context) {
	sess, ok := h.Sessions.get(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "unknown selection")
		return
	}
	c.JSON(http.StatusOK, sess.view())
}

type reselectRequest struct {
	CSDisconnectCause  string                        `json:"cs_disconnect_cause"`
	PSDisconnectCause  *telephony.ImsReasonInfo      `json:"ps_disconnect_cause"`
	RegistrationResult *telephony.RegistrationResult `json:"registration_result"`
}

// ReselectSelection reports a failed attempt and asks for another domain.
func (h Handlers) ReselectSelection(c *gin.Context) {
	sess, ok := h.Sessions.get(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "unknown selection")
		return
	}
	var req reselectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	cause := telephony.ParseDisconnectCause(req.CSDisconnectCause)
	if req.CSDisconnectCause != "" && cause == telephony.CauseNotValid {
		abort(c, http.StatusBadRequest, "unknown cs_disconnect_cause")
		return
	}
	if cause == telephony.CauseNotValid && req.PSDisconnectCause == nil {
		abort(c, http.StatusBadRequest, "a cs or ps disconnect cause is required")
		return
	}

	attrs := sess.attrs
	attrs.CSDisconnectCause = cause
	attrs.PSDisconnectCause = req.PSDisconnectCause
	if req.RegistrationResult != nil {
		attrs.RegistrationResult = req.RegistrationResult
	}
	sess.sel.ReselectDomain(attrs)
	c.JSON(http.StatusAccepted, sess.view())
}

// CancelSelection aborts the pending decision cycle; the selector stays reusable.
func (h Handlers) CancelSelection(c *gin.Context) {
	sess, ok := h.Sessions.get(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "unknown selection")
		return
	}
	sess.sel.CancelSelection()
	c.Status(http.StatusNoContent)
}

// FinishSelection destroys the selector once the call is connected or abandoned.
func (h Handlers) FinishSelection(c *gin.Context) {
	sess, ok := h.Sessions.remove(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "unknown selection")
		return
	}
	sess.sel.FinishSelection()
	c.Status(http.StatusNoContent)
}
