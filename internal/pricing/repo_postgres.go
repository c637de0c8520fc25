package pricing

import (
	"context"
	"database/sql"
	"errors"

	"agency-billing/pkg/utils"
)

// NOTE: This repository assumes the rate_entries table from
// migrations/001_init.up.sql, in particular the generated owner_key column
// and UNIQUE (scope, owner_key, provider_id, item_id).

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindRate(ctx context.Context, scope Scope, ownerAccountID, providerID, itemID string) (RateEntry, bool, error) {
	const q = `
SELECT scope, owner_account_id, provider_id, item_id, rate, updated_at
FROM rate_entries
WHERE scope = $1 AND owner_key = $2 AND provider_id = $3 AND item_id = $4
`
	e, err := scanRate(r.db.QueryRowContext(ctx, q, scope, ownerAccountID, providerID, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RateEntry{}, false, nil
		}
		return RateEntry{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) ListRates(ctx context.Context, scope Scope, ownerAccountID string) ([]RateEntry, error) {
	const q = `
SELECT scope, owner_account_id, provider_id, item_id, rate, updated_at
FROM rate_entries
WHERE scope = $1 AND owner_key = $2
ORDER BY provider_id, item_id
`
	rows, err := r.db.QueryContext(ctx, q, scope, ownerAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RateEntry, 0)
	for rows.Next() {
		e, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpsertRates(ctx context.Context, entries []RateEntry) error {
	const q = `
INSERT INTO rate_entries (scope, owner_account_id, provider_id, item_id, rate, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (scope, owner_key, provider_id, item_id)
DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at
`
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for _, e := range entries {
			var owner sql.NullString
			if e.OwnerAccountID != nil {
				owner = sql.NullString{String: *e.OwnerAccountID, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, q, e.Scope, owner, e.ProviderID, e.ItemID, e.Rate, e.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) CountRates(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_entries WHERE scope = $1`, scope).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRate(s rowScanner) (RateEntry, error) {
	var (
		e     RateEntry
		owner sql.NullString
	)
	if err := s.Scan(&e.Scope, &owner, &e.ProviderID, &e.ItemID, &e.Rate, &e.UpdatedAt); err != nil {
		return RateEntry{}, err
	}
	if owner.Valid {
		o := owner.String
		e.OwnerAccountID = &o
	}
	return e, nil
}
