// Package crosssim arbitrates the cross-stack redial window of emergency calls across SIM
// slots. Only the most recently started attempt owns the window.
package crosssim

import (
	"log/slog"
	"sync"
	"time"

	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
	"telecom-domainselection/pkg/logger"
)

// Expirer is notified when the owning attempt's cross-stack timer expires.
// Implementations re-post onto their own queue.
type Expirer interface {
	NotifyCrossStackTimerExpired()
}

type TimerKind string

const (
	TimerNone   TimerKind = ""
	TimerQuick  TimerKind = "quick"
	TimerNormal TimerKind = "normal"
)

// TimerRequest carries everything StartTimer needs from the starting attempt.
type TimerRequest struct {
	Selector Expirer
	SlotID   int
	SubID    int
	CallID   string
	Number   string

	InService bool
	Roaming   bool
	// RetryCount is the number of redials already made for the call.
	RetryCount int

	QuickTimeout             time.Duration
	NormalTimeout            time.Duration
	StartQuickWhenRegistered bool
}

// ChooseTimer picks the timer kind and duration for req. TimerNone means no timer.
func ChooseTimer(req TimerRequest) (TimerKind, time.Duration) {
	if req.QuickTimeout > 0 && !req.Roaming && (req.InService || req.StartQuickWhenRegistered) {
		return TimerQuick, req.QuickTimeout
	}
	if req.NormalTimeout > 0 {
		return TimerNormal, req.NormalTimeout
	}
	return TimerNone, 0
}

// Expiry describes the outcome of an expired timer.
type Expiry struct {
	SlotID     int       `json:"slot_id"`
	SubID      int       `json:"sub_id"`
	CallID     string    `json:"call_id"`
	Kind       TimerKind `json:"kind"`
	Suppressed bool      `json:"suppressed"`
	Reason     string    `json:"reason,omitempty"`
}

// Snapshot is the externally visible controller state.
type Snapshot struct {
	Armed       bool                   `json:"armed"`
	Kind        TimerKind              `json:"kind,omitempty"`
	SlotID      int                    `json:"slot_id"`
	SubID       int                    `json:"sub_id"`
	CallID      string                 `json:"call_id,omitempty"`
	Deadline    time.Time              `json:"deadline,omitempty"`
	LastFailure telephony.FailureClass `json:"last_failure"`
	Expiries    int                    `json:"expiries"`
}

type owner struct {
	req      TimerRequest
	kind     TimerKind
	timer    *taskqueue.Timer
	gen      uint64
	deadline time.Time
}

type Controller struct {
	exec    taskqueue.Executor
	sims    telephony.SimStates
	numbers telephony.EmergencyNumbers
	log     *slog.Logger

	// OnExpired, if set, observes every expiry including suppressed ones. Runs on the controller queue.
	OnExpired func(Expiry)
	// OnOwnerChanged, if set, observes ownership transfers. Runs on the controller queue.
	OnOwnerChanged func(from, to int)

	// Queue-confined.
	current     *owner
	gen         uint64
	lastFailure telephony.FailureClass
	// failedCall is the call the recorded failure belongs to.
	failedCall string
	expiries   int

	mu        sync.RWMutex
	published Snapshot
}

func NewController(exec taskqueue.Executor, sims telephony.SimStates, numbers telephony.EmergencyNumbers, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		exec:    exec,
		sims:    sims,
		numbers: numbers,
		log:     logger.Component(log, "cross_sim_controller"),
	}
	c.published = Snapshot{SlotID: -1, SubID: telephony.InvalidSubscriptionID}
	return c
}

// StartTimer arms a quick or normal timer for req, taking over any window owned by another attempt.
func (c *Controller) StartTimer(req TimerRequest) {
	c.exec.Post(func() { c.startTimer(req) })
}

// StopTimer cancels the armed timer, if any.
func (c *Controller) StopTimer() {
	c.exec.Post(func() {
		if c.current == nil {
			return
		}
		c.log.Info("cross stack timer stopped", "slot", c.current.req.SlotID, "call_id", c.current.req.CallID)
		c.clear()
	})
}

// Release cancels the armed timer only if sel owns it.
func (c *Controller) Release(sel Expirer) {
	c.exec.Post(func() {
		if c.current == nil || c.current.req.Selector != sel {
			return
		}
		c.log.Info("cross stack timer released", "slot", c.current.req.SlotID, "call_id", c.current.req.CallID)
		c.clear()
	})
}

// NotifyCallFailure records the failure class used by the next expiry decision.
// A permanent failure keeps suppressing expiries for the same call on every slot.
func (c *Controller) NotifyCallFailure(callID string, cause telephony.DisconnectCause) {
	class := telephony.ClassifyCSFailure(cause)
	c.exec.Post(func() {
		c.lastFailure = class
		c.failedCall = callID
		c.log.Info("call failure recorded", "call_id", callID, "cause", cause.String(), "class", class.String())
		c.publish()
	})
}

func (c *Controller) startTimer(req TimerRequest) {
	if c.current != nil && c.current.req.Selector == req.Selector && c.current.timer.Pending() {
		return
	}
	kind, d := ChooseTimer(req)

	prevSlot := -1
	if c.current != nil {
		prevSlot = c.current.req.SlotID
		c.log.Info("cross stack ownership transferred", "from_slot", prevSlot, "to_slot", req.SlotID)
		c.clear()
	}
	if req.CallID != c.failedCall {
		c.lastFailure = telephony.FailureNone
		c.failedCall = ""
	}
	if kind == TimerNone {
		c.publish()
		return
	}

	c.gen++
	gen := c.gen
	o := &owner{req: req, kind: kind, gen: gen, deadline: c.exec.Now().Add(d)}
	o.timer = c.exec.PostDelayed(d, func() { c.onExpired(gen) })
	c.current = o
	c.log.Info("cross stack timer started",
		"slot", req.SlotID,
		"sub", req.SubID,
		"call_id", req.CallID,
		"kind", string(kind),
		"timeout", d.String(),
		"retry", req.RetryCount,
	)
	c.publish()
	if c.OnOwnerChanged != nil && prevSlot != req.SlotID {
		c.OnOwnerChanged(prevSlot, req.SlotID)
	}
}

func (c *Controller) onExpired(gen uint64) {
	o := c.current
	if o == nil || o.gen != gen {
		return
	}
	c.current = nil
	c.expiries++

	ex := Expiry{SlotID: o.req.SlotID, SubID: o.req.SubID, CallID: o.req.CallID, Kind: o.kind}
	switch {
	case c.lastFailure == telephony.FailurePermanent:
		ex.Suppressed, ex.Reason = true, "permanent_failure"
	case c.numbers != nil && !c.numbers.IsEmergencyNumber(o.req.SlotID, o.req.Number):
		ex.Suppressed, ex.Reason = true, "not_emergency_number"
	case c.sims != nil && c.sims.SimState(o.req.SlotID).IsLocked():
		ex.Suppressed, ex.Reason = true, "sim_locked"
	}
	if c.lastFailure != telephony.FailurePermanent {
		c.lastFailure = telephony.FailureNone
	}
	c.publish()

	c.log.Info("cross stack timer expired",
		"slot", ex.SlotID,
		"call_id", ex.CallID,
		"kind", string(ex.Kind),
		"suppressed", ex.Suppressed,
		"reason", ex.Reason,
	)
	if c.OnExpired != nil {
		c.OnExpired(ex)
	}
	if !ex.Suppressed && o.req.Selector != nil {
		o.req.Selector.NotifyCrossStackTimerExpired()
	}
}

func (c *Controller) clear() {
	if c.current != nil {
		c.current.timer.Stop()
	}
	c.current = nil
	c.publish()
}

func (c *Controller) publish() {
	s := Snapshot{SlotID: -1, SubID: telephony.InvalidSubscriptionID, LastFailure: c.lastFailure, Expiries: c.expiries}
	if o := c.current; o != nil {
		s.Armed = true
		s.Kind = o.kind
		s.SlotID = o.req.SlotID
		s.SubID = o.req.SubID
		s.CallID = o.req.CallID
		s.Deadline = o.deadline
	}
	c.mu.Lock()
	c.published = s
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}
