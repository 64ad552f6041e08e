package testutil

import (
	"testing"

	"chatvault/internal/arc"
	"chatvault/internal/storage"
)

// NewTestStore creates a content store in a fresh temp directory using
// FixedClock. opts.BaseDir is overridden when empty.
func NewTestStore(t *testing.T, opts storage.Options) *storage.Store {
	t.Helper()
	if opts.BaseDir == "" {
		opts.BaseDir = t.TempDir()
	}
	s, err := storage.New(opts, arc.NewNopLogger(), FixedClock())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}
