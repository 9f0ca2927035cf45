// Package repotest opens throwaway SQLite-backed stores for tests.
package repotest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/repo"
)

// Open returns a migrated store backed by a temp-file database that is
// removed when the test finishes.
func Open(t testing.TB) (*repo.SQLStore, *sqlx.DB) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "router.db") + "?_foreign_keys=on&_busy_timeout=5000"

	ctx := context.Background()
	db, err := repo.Open(ctx, "sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := repo.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.NewSQLStore(db), db
}

// Connection creates (or reuses) a connection for backend/identity.
func Connection(t testing.TB, store *repo.SQLStore, backend, identity string) model.Connection {
	t.Helper()

	c, err := store.GetOrCreateConnection(context.Background(), backend, identity)
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return c
}

// Outgoing persists an outgoing message in the given status.
func Outgoing(t testing.TB, store *repo.SQLStore, conn model.Connection, text string, status model.Status) *model.Message {
	t.Helper()

	m := &model.Message{
		Connection: conn,
		Text:       text,
		Direction:  model.Outgoing,
		Status:     status,
	}
	if err := store.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("create message: %v", err)
	}
	return m
}

// CountRows returns the row count of table.
func CountRows(t testing.TB, db *sqlx.DB, table string) int {
	t.Helper()

	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
