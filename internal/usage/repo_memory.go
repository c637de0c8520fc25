package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"agency-billing/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory repository for tests and early development.
// Claims debit through a wallet.Store, so balances and ledger behave as in
// production. A record being claimed is marked in flight; a concurrent claim
// of the same record loses with ErrAlreadyBilled, claims of other records
// proceed in parallel.
type MemoryRepo struct {
	ledger wallet.Store

	mu       sync.Mutex
	records  map[string]Record
	inFlight map[string]struct{}
}

func NewMemoryRepo(ledger wallet.Store) *MemoryRepo {
	return &MemoryRepo{ledger: ledger, records: map[string]Record{}, inFlight: map[string]struct{}{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Same as ON CONFLICT DO NOTHING: a re-import never resets billing state.
	if existing, ok := r.records[rec.ID]; ok {
		return existing, nil
	}
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepo) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *MemoryRepo) ListUnbilled(ctx context.Context, accountIDs []string, after *Cursor, limit int) ([]Record, error) {
	var scope map[string]struct{}
	if accountIDs != nil {
		scope = make(map[string]struct{}, len(accountIDs))
		for _, id := range accountIDs {
			scope[id] = struct{}{}
		}
	}

	r.mu.Lock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.Billed() || !after.precedes(rec) {
			continue
		}
		if scope != nil {
			if _, ok := scope[rec.AccountID]; !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	r.mu.Unlock()

	sortRecords(out)
	if n := pageSize(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryRepo) Claim(ctx context.Context, c Claim) (decimal.Decimal, error) {
	r.mu.Lock()
	rec, ok := r.records[c.RecordID]
	if !ok {
		r.mu.Unlock()
		return decimal.Zero, ErrInvalidRecord
	}
	_, busy := r.inFlight[c.RecordID]
	if rec.Billed() || busy {
		r.mu.Unlock()
		return decimal.Zero, ErrAlreadyBilled
	}
	r.inFlight[c.RecordID] = struct{}{}
	r.mu.Unlock()

	recordID := c.RecordID
	entry, err := r.ledger.Post(ctx, wallet.LedgerEntry{
		AccountID:     c.AccountID,
		Type:          wallet.LedgerEntryTypeUsageDebit,
		UsageRecordID: &recordID,
		CreatedAt:     c.BilledAt,
	}, func(decimal.Decimal) (decimal.Decimal, error) {
		return c.Amount.Neg(), nil
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, c.RecordID)
	if err != nil {
		return decimal.Zero, err
	}
	billedAt := c.BilledAt
	amount := c.Amount
	rec = r.records[c.RecordID]
	rec.BilledAt = &billedAt
	rec.BilledAmount = &amount
	r.records[c.RecordID] = rec
	return entry.BalanceAfter, nil
}

func (r *MemoryRepo) ListForAccount(ctx context.Context, accountID string, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.AccountID != accountID {
			continue
		}
		if !from.IsZero() && rec.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	r.mu.Unlock()
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
