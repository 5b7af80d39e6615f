package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/keepalive/internal/services"
	"github.com/HerbHall/keepalive/internal/testutil"
)

func newSettingsRepo(t *testing.T) services.SettingsRepository {
	t.Helper()
	store := testutil.NewStore(t)
	repo, err := services.NewSQLiteSettingsRepository(context.Background(), store)
	if err != nil {
		t.Fatalf("NewSQLiteSettingsRepository: %v", err)
	}
	return repo
}

func TestSQLiteSettingsRepository_SetAndGet(t *testing.T) {
	repo := newSettingsRepo(t)
	ctx := context.Background()

	if err := repo.Set(ctx, "keepalive.callback_handle", "sync-job"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s, err := repo.Get(ctx, "keepalive.callback_handle")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Value != "sync-job" {
		t.Errorf("Value = %q, want %q", s.Value, "sync-job")
	}
	if s.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero")
	}
}

func TestSQLiteSettingsRepository_SetOverwrite(t *testing.T) {
	repo := newSettingsRepo(t)
	ctx := context.Background()

	if err := repo.Set(ctx, "keepalive.is_foreground", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := repo.Set(ctx, "keepalive.is_foreground", "false"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	s, err := repo.Get(ctx, "keepalive.is_foreground")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Value != "false" {
		t.Errorf("Value = %q, want %q", s.Value, "false")
	}
}

func TestSQLiteSettingsRepository_GetNotFound(t *testing.T) {
	repo := newSettingsRepo(t)

	_, err := repo.Get(context.Background(), "nonexistent")
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Get nonexistent = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSettingsRepository_SetManyAndPrefix(t *testing.T) {
	repo := newSettingsRepo(t)
	ctx := context.Background()

	err := repo.SetMany(ctx, map[string]string{
		"keepalive.callback_handle": "h1",
		"keepalive.is_foreground":   "true",
		"alarm.next_wake":           "2025-01-01T00:00:05Z",
		"keepalive_other":           "not-under-prefix",
	})
	if err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	got, err := repo.GetAll(ctx, "keepalive.")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAll(keepalive.) = %d items, want 2", len(got))
	}
	// Results are ordered by key.
	if got[0].Key != "keepalive.callback_handle" || got[1].Key != "keepalive.is_foreground" {
		t.Errorf("GetAll order = [%s, %s]", got[0].Key, got[1].Key)
	}

	all, err := repo.GetAll(ctx, "")
	if err != nil {
		t.Fatalf("GetAll all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("GetAll(\"\") = %d items, want 4", len(all))
	}
}

func TestSQLiteSettingsRepository_Delete(t *testing.T) {
	repo := newSettingsRepo(t)
	ctx := context.Background()

	if err := repo.SetMany(ctx, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}
	if err := repo.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, k := range []string{"a", "b"} {
		if _, err := repo.Get(ctx, k); !errors.Is(err, services.ErrNotFound) {
			t.Errorf("Get(%q) after delete = %v, want ErrNotFound", k, err)
		}
	}
}

func TestSQLiteSettingsRepository_DeleteNotFound(t *testing.T) {
	repo := newSettingsRepo(t)

	err := repo.Delete(context.Background(), "nonexistent")
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Delete nonexistent = %v, want ErrNotFound", err)
	}
}
