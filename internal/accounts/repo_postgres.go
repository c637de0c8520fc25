package accounts

import (
	"context"
	"database/sql"
	"errors"

	"agency-billing/internal/apperr"
)

// NOTE: This repository assumes the accounts table from migrations/001_init.up.sql.

const accountColumns = `id, role, parent_account_id, name, email, credit_balance,
       outbound_rate_per_minute, inbound_rate_per_minute, disabled, created_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetAccount(ctx context.Context, id string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, apperr.New(apperr.KindNotFound, "account %s not found", id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *PostgresRepo) ListChildren(ctx context.Context, parentID string) ([]Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE parent_account_id = $1 ORDER BY role, name, id`
	return r.list(ctx, q, parentID)
}

func (r *PostgresRepo) ListByRoles(ctx context.Context, roles ...Role) ([]Account, error) {
	if len(roles) == 0 {
		return []Account{}, nil
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE role = ANY($1) ORDER BY role, name, id`
	return r.list(ctx, q, names)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(s rowScanner) (Account, error) {
	var (
		a      Account
		role   string
		parent sql.NullString
		email  sql.NullString
	)
	if err := s.Scan(
		&a.ID,
		&role,
		&parent,
		&a.Name,
		&email,
		&a.CreditBalance,
		&a.OutboundRatePerMinute,
		&a.InboundRatePerMinute,
		&a.Disabled,
		&a.CreatedAt,
	); err != nil {
		return Account{}, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return Account{}, err
	}
	a.Role = parsed
	if parent.Valid {
		p := parent.String
		a.ParentAccountID = &p
	}
	a.Email = email.String
	return a, nil
}
