package migrate

import (
	"context"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"sitekeeper.io/internal/store/pg"
)

func TestSplitStatementsDollarQuoted(t *testing.T) {
	sql := `create table t (v text default 'a;b');
create function f() returns trigger as $$
begin
    raise exception 'nope; never';
end;
$$ language plpgsql;
select 1`

	stmts := splitStatements(sql)
	require.Len(t, stmts, 3)
	require.Contains(t, stmts[0], "'a;b'")
	require.True(t, strings.HasSuffix(strings.TrimSpace(stmts[1]), "language plpgsql;"))
	require.Contains(t, stmts[1], "raise exception 'nope; never';")
	require.Equal(t, "select 1", strings.TrimSpace(stmts[2]))
}

func TestCollectSQLOrdersByName(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_b.up.sql":   {Data: []byte("select 2;")},
		"migrations/0001_a.up.sql":   {Data: []byte("select 1;")},
		"migrations/0001_a.down.sql": {Data: []byte("select 0;")},
	}
	files, err := collectSQL(fsys, ".up.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "0001_a.up.sql", files[0].Base)
	require.Equal(t, "migrations/0001_a.up.sql", files[0].Path)
}

func TestUpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a (id int);")},
		"0002_b.up.sql": {Data: []byte("create table b (id int); create index b_idx on b (id);")},
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b (id int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create index b_idx on b (id);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewManager(db, fsys).Up(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("select 1;")}}
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	err = NewManager(db, fsys).Down(context.Background())
	require.ErrorContains(t, err, "missing down migration")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedWithoutSourceIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewManager(db, fstest.MapFS{}).Seed(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedSchemaSplitsCleanly(t *testing.T) {
	schema, err := fs.Sub(pg.Migrations, "migrations")
	require.NoError(t, err)

	ups, err := collectSQL(schema, ".up.sql")
	require.NoError(t, err)
	require.Len(t, ups, 2)
	require.Equal(t, "0001_audit_events.up.sql", ups[0].Base)

	raw, err := fs.ReadFile(schema, ups[0].Path)
	require.NoError(t, err)
	stmts := splitStatements(string(raw))
	require.Len(t, stmts, 5)
	require.Contains(t, stmts[3], "raise exception 'audit_events is append-only';")
	require.Contains(t, stmts[3], "language plpgsql;")

	downs, err := collectSQL(schema, ".down.sql")
	require.NoError(t, err)
	require.Len(t, downs, 2)
}
