package migrate

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/0001_init.up.sql":   {Data: []byte("create table a (id text);\n-- comment; ignored\ncreate table b (id text);")},
		"migrations/0001_init.down.sql": {Data: []byte("drop table b; drop table a;")},
		"migrations/0002_more.up.sql":   {Data: []byte("insert into a values ('x;y');")},
		"migrations/0002_more.down.sql": {Data: []byte("delete from a;")},
		"seeds/0001_themes.sql":         {Data: []byte("insert into a values ('seed');")},
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`insert into a values \('x;y'\);`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into schema_migrations\(name, applied_at\)`).
		WithArgs("0002_more.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, testFS(), "migrations", "seeds", WithClock(func() time.Time { return fixedNow }))
	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_more.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table b").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	m := NewManager(db, testFS(), "migrations", "")
	applied, err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_init.up.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRevertsLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql").AddRow("0002_more.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("delete from a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, testFS(), "migrations", "seeds")
	name, err := m.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0002_more.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err = NewManager(db, testFS(), "migrations", "seeds").Down(context.Background())
	require.EqualError(t, err, "no migrations applied")
}

func TestStatusAndSeed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`insert into a values \('seed'\)`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_seeds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, testFS(), "migrations", "seeds")
	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []MigrationStatus{
		{Name: "0001_init.up.sql", Applied: true},
		{Name: "0002_more.up.sql", Applied: false},
	}, status)

	seeded, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_themes.sql"}, seeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a;\n-- b; c\n'd;e';f")
	require.Len(t, got, 3)
	assert.Equal(t, "a;", got[0])
	assert.Equal(t, "\n\n'd;e';", got[1])
	assert.Equal(t, "f", got[2])
}
