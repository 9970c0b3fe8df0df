package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestConnectSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	db, err := Connect(context.Background(), DefaultConfig(DriverSQLite, path), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if db.Stats().MaxOpenConnections != 1 {
		t.Fatalf("expected a single sqlite connection, got %d", db.Stats().MaxOpenConnections)
	}
	if _, err := db.Exec(`CREATE TABLE t (k TEXT)`); err != nil {
		t.Fatalf("exec: %v", err)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
