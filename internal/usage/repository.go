package usage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyBilled means another sync claimed the record first. It is
	// not a failure: the record has been billed exactly once.
	ErrAlreadyBilled = errors.New("usage: record already billed")
	ErrInvalidRecord = errors.New("usage: invalid record")
)

// DefaultPageSize caps one ListUnbilled page in every backend.
const DefaultPageSize = 1000

// Cursor is a position in the unbilled ordering. Callers page by passing the
// last record of the previous page, so records that stay unbilled never hide
// the ones behind them.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor that continues after rec.
func CursorAfter(rec Record) *Cursor {
	return &Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
}

// precedes reports whether rec sorts after c. A nil cursor precedes everything.
func (c *Cursor) precedes(rec Record) bool {
	if c == nil {
		return true
	}
	if !rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.CreatedAt.After(c.CreatedAt)
	}
	return rec.ID > c.ID
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

// Repository stores usage records.
type Repository interface {
	Insert(ctx context.Context, r Record) (Record, error)
	// ListUnbilled returns up to limit records with no billed_at, ordered by
	// (created_at, id) and strictly after the cursor when one is given. A nil
	// accountIDs means every account; limit <= 0 means DefaultPageSize.
	ListUnbilled(ctx context.Context, accountIDs []string, after *Cursor, limit int) ([]Record, error)
	// Claim marks the record billed and debits the account in one
	// transaction, returning the balance after the debit. ErrAlreadyBilled
	// if the record was billed already.
	Claim(ctx context.Context, c Claim) (decimal.Decimal, error)
	// ListForAccount returns records created in [from, to).
	ListForAccount(ctx context.Context, accountID string, from, to time.Time) ([]Record, error)
}
