package carrier

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
//
// NOTE: This is not intended for production; use PostgresRepo.
type MemoryRepo struct {
	mu       sync.Mutex
	policies map[int]Policy
}

func NewMemoryRepo(policies ...Policy) *MemoryRepo {
	r := &MemoryRepo{policies: make(map[int]Policy)}
	for _, p := range policies {
		r.policies[p.SubscriptionID] = p
	}
	return r
}

func (r *MemoryRepo) FindPolicy(ctx context.Context, subID int) (Policy, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[subID]
	return p, ok, nil
}

func (r *MemoryRepo) UpsertPolicy(ctx context.Context, p Policy) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.SubscriptionID] = p
	return nil
}
