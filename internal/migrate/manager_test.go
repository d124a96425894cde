package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func migrationsFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_users.up.sql": &fstest.MapFile{
			Data: []byte("create table users (id text primary key);"),
		},
		"0001_users.down.sql": &fstest.MapFile{
			Data: []byte("drop table users;"),
		},
		"0002_roles.up.sql": &fstest.MapFile{
			Data: []byte("create table roles (id text primary key);\ncreate table user_roles (user_id text);"),
		},
	}
}

func expectBookkeeping(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))

	// Only 0002 is pending; its two statements run in one transaction.
	mock.ExpectBegin()
	mock.ExpectExec("create table roles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table user_roles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_roles.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, migrationsFS(), nil)
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations order by").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("drop table users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0001_users.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, migrationsFS(), nil)
	if err := mgr.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	seeds := fstest.MapFS{
		"0001_roles.sql": &fstest.MapFile{Data: []byte("insert into roles values ('r1');")},
	}

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_roles.sql"))

	mgr := NewManager(db, migrationsFS(), seeds)
	if err := mgr.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); create table x (id text);")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
}
