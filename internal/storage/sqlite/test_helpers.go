package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore creates a file-backed store in a per-test temp dir.
// File-based databases behave like production under the connection pool;
// shared in-memory databases do not.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := New(ctx, filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})
	return store
}
