package testutil

import (
	"context"
	"testing"

	"github.com/HerbHall/keepalive/internal/services"
	"github.com/HerbHall/keepalive/internal/store"
)

// NewStore creates an in-memory SQLiteStore for testing.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewSettings returns a migrated settings repository on a fresh in-memory store.
func NewSettings(t *testing.T) *services.SQLiteSettingsRepository {
	t.Helper()
	repo, err := services.NewSQLiteSettingsRepository(context.Background(), NewStore(t))
	if err != nil {
		t.Fatalf("testutil.NewSettings: %v", err)
	}
	return repo
}
