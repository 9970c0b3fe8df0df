package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dvilelaf/tsunami/pkg/database"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS kv_store (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLBackend keeps the map in a single two-column table. It works with both
// the SQLite and PostgreSQL drivers; only the placeholder style differs.
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// NewSQLBackend wraps an open handle and creates the table when missing.
func NewSQLBackend(ctx context.Context, db *sql.DB, driver string) (*SQLBackend, error) {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create kv_store table: %w", err)
	}
	return &SQLBackend{db: db, driver: driver}, nil
}

func (b *SQLBackend) placeholder(i int) string {
	if b.driver == database.DriverPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (b *SQLBackend) Read(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = b.placeholder(i + 1)
		args[i] = k
	}
	query := "SELECT key, value FROM kv_store WHERE key IN (" + strings.Join(marks, ", ") + ")"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query kv_store: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan kv_store row: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv_store: %w", err)
	}
	return out, nil
}

func (b *SQLBackend) Upsert(ctx context.Context, data map[string]string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := fmt.Sprintf(
		"INSERT INTO kv_store (key, value) VALUES (%s, %s) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		b.placeholder(1), b.placeholder(2),
	)
	for _, k := range sortedKeys(data) {
		if _, err := tx.ExecContext(ctx, stmt, k, data[k]); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *SQLBackend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b *SQLBackend) Close() error { return b.db.Close() }
