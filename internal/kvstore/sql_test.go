package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dvilelaf/tsunami/pkg/database"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Kind: KindSQLite, SQLitePath: filepath.Join(t.TempDir(), "store.db")}, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Write(ctx, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, map[string]string{"a": "3"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.Read(ctx, "a", "b", "c")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got["a"] != "3" || got["b"] != "2" {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestPostgresBackendUsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kv_store`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT key, value FROM kv_store WHERE key IN \(\$1, \$2\)`).
		WithArgs("tweets", "repos").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("tweets", "[]"))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO kv_store \(key, value\) VALUES \(\$1, \$2\) ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("a", "1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("b", "2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	backend, err := NewSQLBackend(context.Background(), db, database.DriverPostgres)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	got, err := backend.Read(context.Background(), []string{"tweets", "repos"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["tweets"] != "[]" || len(got) != 1 {
		t.Fatalf("unexpected read %v", got)
	}
	if err := backend.Upsert(context.Background(), map[string]string{"b": "2", "a": "1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLBackendRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO kv_store`).WithArgs("a", "1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO kv_store`).WithArgs("b", "2").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	backend, err := NewSQLBackend(context.Background(), db, database.DriverPostgres)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	s := NewStore(NewConnection(backend, testLogger()))
	if err := s.Write(context.Background(), map[string]string{"a": "1", "b": "2"}); err == nil {
		t.Fatalf("expected write error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
