// Package storetest opens throwaway record stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/novacare/clinic-intake/pkg/common/database"
	"github.com/novacare/clinic-intake/pkg/store"
)

// New returns a migrated store backed by a SQLite file in t's temp dir.
func New(t testing.TB) *store.Store {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "intake.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	s := store.New(db)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}
