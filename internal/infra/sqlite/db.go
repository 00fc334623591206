// Package sqlite provides the SQLite connection factories for the CPS data
// server. Uses modernc.org/sqlite — a pure-Go SQLite driver (no CGO required).
//
// Two openers with very different lifetimes:
//   - OpenVector: the chunk store, opened once at startup and shared read-mostly
//   - OpenReadOnly: the school database, opened per tool invocation and closed
//     before the invocation returns
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Register the modernc sqlite driver under the name "sqlite"
	_ "modernc.org/sqlite"
)

// OpenVector opens (or creates) the vector store at path and configures it
// for long-lived use:
//   - WAL journal mode (allows concurrent reads during ingest writes)
//   - 5-second busy timeout (prevents SQLITE_BUSY errors under burst writes)
//   - Synchronous=NORMAL (safe + faster than FULL for WAL mode)
//
// Use ":memory:" as path for in-memory databases in tests.
// Returns an error if the parent directory does not exist (will not create it).
func OpenVector(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("sqlite.OpenVector: parent directory %q does not exist", dir)
		}
	}

	// DSN with PRAGMAs applied at connection time via query parameters.
	// modernc.org/sqlite supports _pragma=... params in the DSN.
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" + // 64MB page cache (negative = KB)
		"&_pragma=temp_store(MEMORY)"   // temp tables in RAM

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.OpenVector: open %q: %w", path, err)
	}

	// WAL allows concurrent readers but serializes writers. The server only
	// reads after startup; ingest is the single writer.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// Verify the connection is alive and PRAGMAs were applied.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.OpenVector: ping %q: %w", path, err)
	}

	return db, nil
}

// OpenReadOnly opens the school database for a single guarded query.
// query_only rejects any write that slips past the statement guard, and the
// single-connection pool keeps the scoped open/close cheap and predictable.
// The caller must Close the handle on every exit path.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite.OpenReadOnly: stat %q: %w", path, err)
	}

	dsn := path +
		"?_pragma=query_only(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.OpenReadOnly: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.OpenReadOnly: ping %q: %w", path, err)
	}

	return db, nil
}
