// Package testutil provides shared test helpers for setting up stores and content directories.
package testutil

import (
	"os"
	"testing"

	"github.com/hallvard/depot/internal/storage"
	"github.com/hallvard/depot/internal/store"
)

// TestStore creates a temporary SQLite store that is automatically cleaned up.
func TestStore(t *testing.T) *store.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "depot-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestContent creates a temporary content directory with a storage.Provider.
func TestContent(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	content, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, content
}
