// Package testutil provides shared test helpers for setting up document
// directories and ledgers.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/unitlens/internal/index"
	"github.com/starford/unitlens/internal/storage"
)

// TestDB creates a temporary SQLite ledger that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "unitlens-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDocuments creates a temporary documents directory with a storage.Provider.
func TestDocuments(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return dir, store
}

// UnitPage returns a minimal XHTML page holding one unconverted unit tag.
func UnitPage(value, label string) []byte {
	return []byte(`<html><body><p id="stat">` + value +
		`<abbr class="unit" title="` + label + `">` + label + `</abbr></p></body></html>`)
}
