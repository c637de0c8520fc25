// Package migrate applies the schema embedded in the binary.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"agency-billing/pkg/logger"
	"agency-billing/pkg/utils"
)

//go:embed sql/*.sql
var embedded embed.FS

const defaultMigrationsTable = "schema_migrations"

// Manager executes SQL migrations from an fs.FS. Each migration and its
// bookkeeping row commit in one transaction.
type Manager struct {
	db    *sql.DB
	files fs.FS
	table string
}

// NewManager uses the embedded schema.
func NewManager(db *sql.DB) *Manager {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return NewManagerFS(db, sub)
}

// NewManagerFS reads *.up.sql files from the root of files.
func NewManagerFS(db *sql.DB, files fs.FS) *Manager {
	return &Manager{db: db, files: files, table: defaultMigrationsTable}
}

// Up applies all pending migrations in name order and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	names, err := m.pending(executed)
	if err != nil {
		return nil, err
	}

	log := logger.From(ctx)
	applied := make([]string, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(m.files, name)
		if err != nil {
			return applied, err
		}
		err = utils.WithTx(ctx, m.db, nil, func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range splitStatements(string(body)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, m.table), name, time.Now().UTC())
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		log.Info("migration applied", "name", name)
		applied = append(applied, name)
	}
	return applied, nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`create table if not exists %s (
  name text primary key,
  applied_at timestamptz not null default now()
)`, m.table)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (m *Manager) pending(executed map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") || executed[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits on semicolons outside single-quoted strings and
// drops empty and comment-only statements.
func splitStatements(body string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" && !commentOnly(s) {
			stmts = append(stmts, s)
		}
	}
	for _, r := range body {
		switch {
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ';' && !inString:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}

func commentOnly(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
