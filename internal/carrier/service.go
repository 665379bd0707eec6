package carrier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"telecom-domainselection/internal/telephony"
	"telecom-domainselection/pkg/logger"
)

var (
	ErrPolicyNotFound = errors.New("carrier: policy not found")
	ErrInvalidPolicy  = errors.New("carrier: invalid policy")
)

// Repository abstracts carrier policy persistence.
type Repository interface {
	FindPolicy(ctx context.Context, subID int) (Policy, bool, error)
	UpsertPolicy(ctx context.Context, p Policy) error
}

// ChangeListener is notified after a carrier-config-changed event has been applied.
// p.Live is false when the subscription has no loaded carrier config.
type ChangeListener func(subID int, p Policy)

// Service hands out cached policy snapshots.
//
// Contract:
// - One snapshot per subscription, fetched on first use.
// - NotifyCarrierConfigChanged drops the snapshot, re-fetches it and notifies listeners.
// - Lookups never fail: a missing or unreadable policy yields DefaultPolicy.
type Service struct {
	repo Repository
	log  *slog.Logger

	// lookupTimeout bounds a repository read on cache miss.
	lookupTimeout time.Duration

	mu        sync.RWMutex
	cache     map[int]Policy
	listeners []ChangeListener
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:          repo,
		log:           logger.Component(log, "carrier_policy"),
		lookupTimeout: 2 * time.Second,
		cache:         make(map[int]Policy),
	}
}

// Policy returns the snapshot for subID.
func (s *Service) Policy(subID int) Policy {
	if subID == telephony.InvalidSubscriptionID || subID < 0 {
		return DefaultPolicy(subID)
	}
	s.mu.RLock()
	p, ok := s.cache[subID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	p = s.load(subID)
	s.mu.Lock()
	s.cache[subID] = p
	s.mu.Unlock()
	return p
}

func (s *Service) load(subID int) Policy {
	if s.repo == nil {
		return DefaultPolicy(subID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.lookupTimeout)
	defer cancel()

	p, ok, err := s.repo.FindPolicy(ctx, subID)
	if err != nil {
		s.log.Warn("policy lookup failed, using defaults", "sub", subID, "err", err)
		return DefaultPolicy(subID)
	}
	if !ok {
		return DefaultPolicy(subID)
	}
	p.SubscriptionID = subID
	p.Live = true
	return p
}

// Upsert stores a policy and applies it as a carrier-config-changed event.
func (s *Service) Upsert(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.repo == nil {
		return errors.New("carrier: repository not configured")
	}
	if err := s.repo.UpsertPolicy(ctx, p); err != nil {
		return err
	}
	s.NotifyCarrierConfigChanged(p.SubscriptionID)
	return nil
}

// NotifyCarrierConfigChanged invalidates the cached snapshot for subID.
func (s *Service) NotifyCarrierConfigChanged(subID int) {
	s.mu.Lock()
	delete(s.cache, subID)
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.Unlock()

	p := s.Policy(subID)
	s.log.Info("carrier config changed", "sub", subID, "live", p.Live)
	for _, l := range listeners {
		l(subID, p)
	}
}

// OnChange registers a listener for carrier-config-changed events.
func (s *Service) OnChange(l ChangeListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
