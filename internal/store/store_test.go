package store

import (
	"os"
	"path/filepath"
	"testing"
)

// openTestStore creates a store backed by a temp-dir database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return st
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.sqlite")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	// Verify file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	// Verify WAL mode
	journalMode, err := st.journalMode()
	if err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}
}

func TestOpen_MigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.sqlite")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	st.Close()

	// Re-opening an existing database must not fail on existing tables.
	st, err = Open(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	st.Close()
}
