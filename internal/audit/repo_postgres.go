package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table has no UPDATE/DELETE path in code.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, acting_account_id, effective_account_id, target_account_id, ip_address, message, metadata, created_at)
VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7,NULLIF($8,'')::jsonb,$9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Type, e.ActingAccountID, e.EffectiveAccountID, e.TargetAccountID,
		e.IPAddress, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
