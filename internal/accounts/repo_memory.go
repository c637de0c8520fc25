package accounts

import (
	"context"
	"sort"
	"sync"

	"agency-billing/internal/apperr"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory account store for tests and local development.
// Balance mutation goes through AdjustBalance so callers can compose it into
// their own atomic sections.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryRepo(accs ...Account) *MemoryRepo {
	r := &MemoryRepo{accounts: make(map[string]Account, len(accs))}
	for _, a := range accs {
		r.accounts[a.ID] = a
	}
	return r
}

// Put inserts or replaces an account.
func (r *MemoryRepo) Put(a Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
}

func (r *MemoryRepo) GetAccount(ctx context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, apperr.New(apperr.KindNotFound, "account %s not found", id)
	}
	return a, nil
}

func (r *MemoryRepo) ListChildren(ctx context.Context, parentID string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0)
	for _, a := range r.accounts {
		if a.ParentAccountID != nil && *a.ParentAccountID == parentID {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (r *MemoryRepo) ListByRoles(ctx context.Context, roles ...Role) ([]Account, error) {
	want := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		want[role] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0)
	for _, a := range r.accounts {
		if _, ok := want[a.Role]; ok {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

// AdjustBalance applies fn to the current balance under the repo lock and
// stores the result. If fn fails the balance is left untouched.
func (r *MemoryRepo) AdjustBalance(id string, fn func(current decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return decimal.Zero, apperr.New(apperr.KindNotFound, "account %s not found", id)
	}
	next, err := fn(a.CreditBalance)
	if err != nil {
		return decimal.Zero, err
	}
	a.CreditBalance = next
	r.accounts[id] = a
	return next, nil
}

func sortAccounts(accs []Account) {
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].Role != accs[j].Role {
			return accs[i].Role < accs[j].Role
		}
		if accs[i].Name != accs[j].Name {
			return accs[i].Name < accs[j].Name
		}
		return accs[i].ID < accs[j].ID
	})
}
