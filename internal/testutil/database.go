package testutil

import (
	"testing"

	"chatvault/internal/database"
)

// NewTestRunStore creates a migrated in-memory run store using FixedClock.
// The store is automatically closed when the test completes.
func NewTestRunStore(t *testing.T) *database.SQLiteRunStore {
	t.Helper()

	store, err := database.NewSQLiteRunStore(":memory:", FixedClock())
	if err != nil {
		t.Fatalf("failed to open run store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
