package migrate

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements(`
create table a (x text default 'a;b');
-- comment only;
insert into a values ('it''s');

`)
	require.Len(t, got, 2)
	assert.Equal(t, `create table a (x text default 'a;b')`, got[0])
	assert.Equal(t, `insert into a values ('it''s')`, got[1])
}

func TestEmbeddedSchemaIsPresent(t *testing.T) {
	sub, err := fs.Sub(embedded, "sql")
	require.NoError(t, err)
	body, err := fs.ReadFile(sub, "001_init.up.sql")
	require.NoError(t, err)

	stmts := splitStatements(string(body))
	assert.NotEmpty(t, stmts)
	for _, table := range []string{"accounts", "rate_entries", "usage_records", "credit_ledger", "audit_events"} {
		assert.Contains(t, string(body), "create table if not exists "+table+" (")
	}
}

func TestUp_AppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	files := fstest.MapFS{
		"001_init.up.sql":   {Data: []byte("create table a (id text);")},
		"001_init.down.sql": {Data: []byte("drop table a;")},
		"002_more.up.sql":   {Data: []byte("create table b (id text); create index b_idx on b (id);")},
	}
	m := NewManagerFS(db, files)

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`create table b \(id text\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create index b_idx on b \(id\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"002_more.up.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUp_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewManagerFS(db, fstest.MapFS{"001_init.up.sql": {Data: []byte("create table a (id text);")}})

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
