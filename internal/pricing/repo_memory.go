package pricing

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
//
// NOTE: This is not intended for production; use PostgresRepo.
type MemoryRepo struct {
	mu    sync.RWMutex
	rates map[string]RateEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rates: map[string]RateEntry{}}
}

func rateKey(scope Scope, owner, providerID, itemID string) string {
	return string(scope) + "|" + owner + "|" + providerID + "|" + itemID
}

func (r *MemoryRepo) FindRate(ctx context.Context, scope Scope, ownerAccountID, providerID, itemID string) (RateEntry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rates[rateKey(scope, ownerAccountID, providerID, itemID)]
	return e, ok, nil
}

func (r *MemoryRepo) ListRates(ctx context.Context, scope Scope, ownerAccountID string) ([]RateEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RateEntry, 0)
	for _, e := range r.rates {
		if e.Scope == scope && e.owner() == ownerAccountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (r *MemoryRepo) UpsertRates(ctx context.Context, entries []RateEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.rates[rateKey(e.Scope, e.owner(), e.ProviderID, e.ItemID)] = e
	}
	return nil
}

func (r *MemoryRepo) CountRates(ctx context.Context, scope Scope) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.rates {
		if e.Scope == scope {
			n++
		}
	}
	return n, nil
}
