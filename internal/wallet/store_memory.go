package wallet

import (
	"context"
	"sort"
	"sync"

	"agency-billing/internal/accounts"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps balances on an accounts.MemoryRepo and the ledger in a
// slice. Useful for tests and early development; use PostgresStore in production.
type MemoryStore struct {
	accs *accounts.MemoryRepo

	mu     sync.Mutex
	ledger []LedgerEntry
}

func NewMemoryStore(accs *accounts.MemoryRepo) *MemoryStore {
	return &MemoryStore{accs: accs}
}

func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	a, err := s.accs.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.CreditBalance, nil
}

func (s *MemoryStore) Post(ctx context.Context, e LedgerEntry, m Mutation) (LedgerEntry, error) {
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	_, err := s.accs.AdjustBalance(e.AccountID, func(cur decimal.Decimal) (decimal.Decimal, error) {
		delta, err := m(cur)
		if err != nil {
			return decimal.Zero, err
		}
		e.Amount = delta
		e.BalanceAfter = cur.Add(delta)

		// Appended while the balance is still locked so the two never diverge.
		s.mu.Lock()
		s.ledger = append(s.ledger, e)
		s.mu.Unlock()
		return e.BalanceAfter, nil
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return e, nil
}

func (s *MemoryStore) ListLedger(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedgerEntry, 0)
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
