package wallet

import (
	"context"
	"database/sql"
	"errors"

	"agency-billing/internal/apperr"
	"agency-billing/pkg/utils"

	"github.com/shopspring/decimal"
)

// NOTE: This store assumes the accounts and credit_ledger tables from
// migrations/001_init.up.sql, including the partial unique index on
// credit_ledger(usage_record_id).

// Mutation returns the signed delta to post, given the locked current balance.
type Mutation func(current decimal.Decimal) (decimal.Decimal, error)

// Store persists balances and their ledger.
type Store interface {
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	// Post locks the balance, asks m for the delta and writes balance and
	// ledger entry atomically. e supplies everything except Amount and
	// BalanceAfter.
	Post(ctx context.Context, e LedgerEntry, m Mutation) (LedgerEntry, error)
	ListLedger(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var b decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT credit_balance FROM accounts WHERE id = $1`, accountID).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, notFound(accountID)
		}
		return decimal.Zero, err
	}
	return b, nil
}

func (s *PostgresStore) Post(ctx context.Context, e LedgerEntry, m Mutation) (LedgerEntry, error) {
	var out LedgerEntry
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockBalance(ctx, tx, e.AccountID)
		if err != nil {
			return err
		}
		delta, err := m(cur)
		if err != nil {
			return err
		}
		e.Amount = delta
		out, err = PostDeltaTx(ctx, tx, e)
		return err
	})
	return out, err
}

func (s *PostgresStore) ListLedger(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	const q = `
SELECT id, account_id, type, amount, balance_after, usage_record_id, actor_account_id, note, created_at
FROM credit_ledger
WHERE account_id = $1
ORDER BY id DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LedgerEntry, 0)
	for rows.Next() {
		var (
			e            LedgerEntry
			usage, actor sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.BalanceAfter, &usage, &actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UsageRecordID = nullableString(usage)
		e.ActorAccountID = nullableString(actor)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PostDeltaTx applies e.Amount to the account balance and appends e to the
// ledger inside tx. It lets other packages (usage claims) debit in the same
// transaction as their own writes. e.ID is generated when empty.
func PostDeltaTx(ctx context.Context, tx *sql.Tx, e LedgerEntry) (LedgerEntry, error) {
	if e.AccountID == "" || e.Type == "" {
		return LedgerEntry{}, apperr.New(apperr.KindInvalidArgument, "ledger entry needs account and type")
	}
	if e.ID == "" {
		e.ID = NewEntryID()
	}

	after, err := applyBalanceDelta(ctx, tx, e.AccountID, e.Amount)
	if err != nil {
		return LedgerEntry{}, err
	}
	e.BalanceAfter = after
	if err := insertLedger(ctx, tx, e); err != nil {
		return LedgerEntry{}, err
	}
	return e, nil
}

func lockBalance(ctx context.Context, tx *sql.Tx, accountID string) (decimal.Decimal, error) {
	// Lock the account row to serialize manual money operations per account.
	var b decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, notFound(accountID)
		}
		return decimal.Zero, err
	}
	return b, nil
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	// Relative update: concurrent debits on the same account never lose each other.
	const q = `
UPDATE accounts
SET credit_balance = credit_balance + $2
WHERE id = $1
RETURNING credit_balance
`
	var b decimal.Decimal
	if err := tx.QueryRowContext(ctx, q, accountID, delta).Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, notFound(accountID)
		}
		return decimal.Zero, err
	}
	return b, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO credit_ledger (
  id, account_id, type, amount, balance_after, usage_record_id, actor_account_id, note, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.AccountID,
		e.Type,
		e.Amount,
		e.BalanceAfter,
		nullString(e.UsageRecordID),
		nullString(e.ActorAccountID),
		e.Note,
		e.CreatedAt,
	)
	return err
}

func notFound(accountID string) error {
	return apperr.New(apperr.KindNotFound, "account %s not found", accountID)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullableString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}
