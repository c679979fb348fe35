// Package testutil holds shared test helpers.
package testutil

import (
	"testing"

	"github.com/xiaot623/gogo/eyes/internal/repository"
)

// NewTestStore returns an in-memory SQLite store closed at test cleanup.
func NewTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
