package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/easyjob/db"
)

// CreateTestDB creates an in-memory SQLite test database with all
// migrations applied. Automatically registers cleanup via t.Cleanup().
//
// Every pooled connection to ":memory:" would get its own empty database,
// so the pool is pinned to a single connection. Callers must close rows
// before issuing the next query.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// CreateFileTestDB creates a migrated SQLite database under t.TempDir().
// Use it when a test needs several concurrent connections.
func CreateFileTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(t.TempDir()+"/easyjob.db", nil)
	if err != nil {
		t.Fatalf("Failed to create file test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
