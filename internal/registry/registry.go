// Package registry owns the per-slot engine instances: one task queue and IMS state tracker
// per SIM slot, the shared cross-SIM controller, the VoNR config helper and the selector
// factory. It is built once by the daemon and torn down with Close.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telecom-domainselection/internal/audit"
	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/carrierconfig"
	"telecom-domainselection/internal/crosssim"
	"telecom-domainselection/internal/imsstate"
	"telecom-domainselection/internal/metrics"
	"telecom-domainselection/internal/selection"
	"telecom-domainselection/internal/taskqueue"
	"telecom-domainselection/internal/telephony"
	"telecom-domainselection/pkg/logger"
)

var (
	ErrUnknownSlot = errors.New("registry: unknown slot")
	ErrClosed      = errors.New("registry: closed")
)

// Deps are the external collaborators shared by every slot.
type Deps struct {
	Ims      telephony.ImsService
	Scanner  telephony.NetworkScanner
	Sims     telephony.SimStates
	Numbers  telephony.EmergencyNumbers
	Settings telephony.DeviceSettings

	Carrier   *carrier.Service
	VoNrStore carrierconfig.Store
	Audit     *audit.Service
}

type Options struct {
	SlotCount              int
	WaitForImsStateTimeout time.Duration
	ImsUnavailableGrace    time.Duration

	// NewQueue builds the queue of a slot or of the controller. Nil starts a Looper.
	NewQueue func(name string) taskqueue.Queue
}

type slot struct {
	id      int
	queue   taskqueue.Queue
	tracker *imsstate.Tracker
	imsSub  *imsstate.Subscription
}

// configAware is implemented by both selectors.
type configAware interface {
	OnCarrierConfigChanged()
}

type Registry struct {
	deps Deps
	opts Options
	log  *slog.Logger
	root *slog.Logger

	slots      []*slot
	ctrlQueue  taskqueue.Queue
	controller *crosssim.Controller
	helper     *carrierconfig.Helper
	carrier    *carrier.Service
	recorder   selection.Recorder

	mu     sync.Mutex
	subIDs []int
	active map[selection.DomainSelector]struct{}
	closed bool
}

func New(ctx context.Context, deps Deps, opts Options, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.SlotCount < 1 {
		return nil, fmt.Errorf("registry: slot count must be positive, got %d", opts.SlotCount)
	}
	if opts.NewQueue == nil {
		opts.NewQueue = func(name string) taskqueue.Queue { return taskqueue.NewLooper(name, log) }
	}
	svc := deps.Carrier
	if svc == nil {
		svc = carrier.NewService(nil, log)
	}

	r := &Registry{
		deps:    deps,
		opts:    opts,
		log:     logger.Component(log, "registry"),
		root:    log,
		carrier: svc,
		helper:  carrierconfig.NewHelper(ctx, deps.VoNrStore, opts.SlotCount, log),
		subIDs:  make([]int, opts.SlotCount),
		active:  make(map[selection.DomainSelector]struct{}),
	}

	recorders := selection.Recorders{selection.MetricsRecorder{}}
	if deps.Audit != nil {
		recorders = append(recorders, selection.AuditRecorder{Audit: deps.Audit, Log: log})
	}
	r.recorder = recorders

	r.ctrlQueue = opts.NewQueue("cross_sim")
	r.controller = crosssim.NewController(r.ctrlQueue, deps.Sims, deps.Numbers, log)
	r.controller.OnExpired = r.onCrossStackExpired
	r.controller.OnOwnerChanged = func(_, to int) { metrics.SetCrossStackOwner(to) }

	for i := 0; i < opts.SlotCount; i++ {
		q := opts.NewQueue(fmt.Sprintf("slot%d", i))
		tr := imsstate.NewTracker(i, q, deps.Ims, imsstate.Options{UnavailableGrace: opts.ImsUnavailableGrace}, log)
		id := i
		s := &slot{id: i, queue: q, tracker: tr}
		s.imsSub = tr.SubscribeImsState(nil, func(st imsstate.State) {
			metrics.SetImsRegistered(id, st.Registered, st.AccessNetwork.String())
		})
		r.slots = append(r.slots, s)
		r.subIDs[i] = telephony.InvalidSubscriptionID
	}

	svc.OnChange(r.onCarrierConfigChanged)
	return r, nil
}

func (r *Registry) SlotCount() int { return len(r.slots) }

func (r *Registry) Controller() *crosssim.Controller { return r.controller }

func (r *Registry) Helper() *carrierconfig.Helper { return r.helper }

func (r *Registry) Carrier() *carrier.Service { return r.carrier }

func (r *Registry) slot(id int) (*slot, error) {
	if id < 0 || id >= len(r.slots) {
		return nil, ErrUnknownSlot
	}
	return r.slots[id], nil
}

// Tracker returns the IMS state tracker of slot.
func (r *Registry) Tracker(slotID int) (*imsstate.Tracker, error) {
	s, err := r.slot(slotID)
	if err != nil {
		return nil, err
	}
	return s.tracker, nil
}

// BindSubscription binds slot to subID. An invalid subID marks the slot as having no SIM.
func (r *Registry) BindSubscription(slotID, subID int) error {
	s, err := r.slot(slotID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.subIDs[slotID] = subID
	r.mu.Unlock()

	if err := s.tracker.Start(subID); err != nil && !errors.Is(err, imsstate.ErrInvalidSubscription) {
		return err
	}
	if subID >= 0 {
		if err := r.helper.OnCarrierConfigChanged(slotID, r.carrier.Policy(subID)); err != nil {
			r.log.Warn("record vonr support failed", "slot", slotID, "sub", subID, "err", err)
		}
	}
	r.log.Info("slot bound", "slot", slotID, "sub", subID)
	return nil
}

// SubscriptionID returns the subscription bound to slot.
func (r *Registry) SubscriptionID(slotID int) (int, error) {
	if _, err := r.slot(slotID); err != nil {
		return telephony.InvalidSubscriptionID, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subIDs[slotID], nil
}

func (r *Registry) UpdateServiceState(slotID int, ss telephony.ServiceState) error {
	s, err := r.slot(slotID)
	if err != nil {
		return err
	}
	s.tracker.UpdateServiceState(ss)
	return nil
}

func (r *Registry) UpdateBarringInfo(slotID int, b telephony.BarringInfo) error {
	s, err := r.slot(slotID)
	if err != nil {
		return err
	}
	s.tracker.UpdateBarringInfo(b)
	return nil
}

// NewEmergencySelector creates an emergency selector on slot's queue.
func (r *Registry) NewEmergencySelector(slotID, subID int) (*selection.EmergencyCallDomainSelector, error) {
	s, err := r.slot(slotID)
	if err != nil {
		return nil, err
	}
	sel := selection.NewEmergencyCallDomainSelector(slotID, subID, s.queue, selection.EmergencyConfig{
		Tracker:                s.tracker,
		Policies:               r.carrier,
		VoNr:                   r.helper,
		Controller:             r.controller,
		Scanner:                r.deps.Scanner,
		Sims:                   r.deps.Sims,
		Settings:               r.deps.Settings,
		Recorder:               r.recorder,
		Log:                    r.root,
		WaitForImsStateTimeout: r.opts.WaitForImsStateTimeout,
	})
	if err := r.track(sel, sel.SetDestroyListener); err != nil {
		return nil, err
	}
	return sel, nil
}

// NewNormalSelector creates a normal call selector on slot's queue.
func (r *Registry) NewNormalSelector(slotID, subID int) (*selection.NormalCallDomainSelector, error) {
	s, err := r.slot(slotID)
	if err != nil {
		return nil, err
	}
	sel := selection.NewNormalCallDomainSelector(slotID, subID, s.queue, selection.NormalConfig{
		Tracker:                s.tracker,
		Policies:               r.carrier,
		Settings:               r.deps.Settings,
		Recorder:               r.recorder,
		Log:                    r.root,
		WaitForImsStateTimeout: r.opts.WaitForImsStateTimeout,
	})
	if err := r.track(sel, sel.SetDestroyListener); err != nil {
		return nil, err
	}
	return sel, nil
}

// CreateSelector picks the selector variant for attrs.
func (r *Registry) CreateSelector(attrs telephony.SelectionAttributes) (selection.DomainSelector, error) {
	if attrs.Emergency {
		return r.NewEmergencySelector(attrs.SlotID, attrs.SubscriptionID)
	}
	return r.NewNormalSelector(attrs.SlotID, attrs.SubscriptionID)
}

func (r *Registry) track(sel selection.DomainSelector, setListener func(func())) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.active[sel] = struct{}{}
	setListener(func() {
		r.mu.Lock()
		delete(r.active, sel)
		r.mu.Unlock()
		metrics.SelectorDestroyed(sel.SlotID(), sel.Kind())
	})
	metrics.SelectorStarted(sel.SlotID(), sel.Kind())
	return nil
}

// ActiveSelectors is the number of selectors not yet destroyed.
func (r *Registry) ActiveSelectors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) onCarrierConfigChanged(subID int, p carrier.Policy) {
	r.mu.Lock()
	var slots []int
	for i, id := range r.subIDs {
		if id == subID {
			slots = append(slots, i)
		}
	}
	var notify []configAware
	for sel := range r.active {
		if c, ok := sel.(configAware); ok && sel.SubID() == subID {
			notify = append(notify, c)
		}
	}
	r.mu.Unlock()

	for _, slotID := range slots {
		if err := r.helper.OnCarrierConfigChanged(slotID, p); err != nil {
			r.log.Warn("record vonr support failed", "slot", slotID, "sub", subID, "err", err)
		}
	}
	for _, c := range notify {
		c.OnCarrierConfigChanged()
	}
}

func (r *Registry) onCrossStackExpired(e crosssim.Expiry) {
	metrics.RecordCrossStackExpiry(string(e.Kind), e.Suppressed, e.Reason)
	if r.deps.Audit == nil {
		return
	}
	ev := audit.Event{
		Type:      audit.EventTypeCrossStackExpired,
		SlotID:    e.SlotID,
		SubID:     e.SubID,
		CallID:    e.CallID,
		Emergency: true,
		Reason:    e.Reason,
		Message:   string(e.Kind),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.deps.Audit.Append(ctx, ev); err != nil {
			r.log.Warn("audit cross stack expiry failed", "call_id", ev.CallID, "err", err)
		}
	}()
}

// Close finishes every active selector, unbinds the trackers and stops all queues.
// Pending teardown work is drained until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	sels := make([]selection.DomainSelector, 0, len(r.active))
	for sel := range r.active {
		sels = append(sels, sel)
	}
	r.mu.Unlock()

	for _, sel := range sels {
		sel.FinishSelection()
	}
	for _, s := range r.slots {
		s.imsSub.Cancel()
		s.tracker.Stop()
	}

	var errs []error
	for _, s := range r.slots {
		drain(ctx, s.queue)
		if err := s.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close slot %d queue: %w", s.id, err))
		}
	}
	r.controller.StopTimer()
	drain(ctx, r.ctrlQueue)
	if err := r.ctrlQueue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cross sim queue: %w", err))
	}
	r.log.Info("registry closed", "selectors_finished", len(sels))
	return errors.Join(errs...)
}

// drain waits until every task posted to q so far has run.
func drain(ctx context.Context, q taskqueue.Executor) {
	done := make(chan struct{})
	if !q.Post(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}
