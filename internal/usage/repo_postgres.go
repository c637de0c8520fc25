package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"agency-billing/internal/wallet"
	"agency-billing/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NOTE: This repository assumes the usage_records table from
// internal/migrate/sql/001_init.up.sql and debits through wallet.PostDeltaTx so the
// claim, the balance change and the ledger entry share one transaction.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const recordColumns = `id, account_id, direction, duration_seconds, billing_mode, provider_id, item_id,
       transcriber_id, external_ref, billed_at, billed_amount, created_at`

func (r *PostgresRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO usage_records (id, account_id, direction, duration_seconds, billing_mode, provider_id, item_id, transcriber_id, external_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.AccountID, rec.Direction, rec.DurationSeconds, rec.BillingMode,
		rec.ProviderID, rec.ItemID, rec.TranscriberID, rec.ExternalRef, rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) ListUnbilled(ctx context.Context, accountIDs []string, after *Cursor, limit int) ([]Record, error) {
	var (
		where = []string{"billed_at IS NULL"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if accountIDs != nil {
		where = append(where, "account_id = ANY("+arg(accountIDs)+")")
	}
	if after != nil {
		where = append(where, "(created_at, id) > ("+arg(after.CreatedAt)+", "+arg(after.ID)+")")
	}
	q := `SELECT ` + recordColumns + `
FROM usage_records
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY created_at, id
LIMIT ` + arg(pageSize(limit))
	return r.list(ctx, q, args...)
}

func (r *PostgresRepo) Claim(ctx context.Context, c Claim) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// The WHERE billed_at IS NULL guard is the exactly-once point: of two
		// concurrent claims only one sees a row to update.
		res, err := tx.ExecContext(ctx, `
UPDATE usage_records
SET billed_at = $2, billed_amount = $3
WHERE id = $1 AND billed_at IS NULL
`, c.RecordID, c.BilledAt, c.Amount)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyBilled
		}

		recordID := c.RecordID
		entry, err := wallet.PostDeltaTx(ctx, tx, wallet.LedgerEntry{
			AccountID:     c.AccountID,
			Type:          wallet.LedgerEntryTypeUsageDebit,
			Amount:        c.Amount.Neg(),
			UsageRecordID: &recordID,
			CreatedAt:     c.BilledAt,
		})
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return nil
	})
	return balance, err
}

// ListForAccount treats a zero from or to as an open bound.
func (r *PostgresRepo) ListForAccount(ctx context.Context, accountID string, from, to time.Time) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+`
FROM usage_records
WHERE account_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at, id`, accountID, nullTime(from), nullTime(to))
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec    Record
			billed sql.NullTime
			amount decimal.NullDecimal
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.Direction,
			&rec.DurationSeconds,
			&rec.BillingMode,
			&rec.ProviderID,
			&rec.ItemID,
			&rec.TranscriberID,
			&rec.ExternalRef,
			&billed,
			&amount,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if billed.Valid {
			t := billed.Time
			rec.BilledAt = &t
		}
		if amount.Valid {
			d := amount.Decimal
			rec.BilledAmount = &d
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
