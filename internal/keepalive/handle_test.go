package keepalive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/keepalive/internal/keepalive"
	"github.com/HerbHall/keepalive/internal/testutil"
)

func TestSettingsHandleStore_RoundTrip(t *testing.T) {
	store := keepalive.NewSettingsHandleStore(testutil.NewSettings(t))
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, keepalive.ErrNoHandle) {
		t.Fatalf("Load() on empty store error = %v, want ErrNoHandle", err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC)
	want := testutil.NewHandle(testutil.WithHandleID("sync"), testutil.WithForeground(false), testutil.WithRegisteredAt(at))
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != want.ID || got.Foreground != want.Foreground || !got.RegisteredAt.Equal(want.RegisteredAt) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, keepalive.ErrNoHandle) {
		t.Errorf("Load() after Clear error = %v, want ErrNoHandle", err)
	}
}

func TestSettingsHandleStore_ForegroundDefaultsTrue(t *testing.T) {
	settings := testutil.NewSettings(t)
	ctx := context.Background()
	// A handle written without a mode flag, as an older version would.
	if err := settings.Set(ctx, "keepalive.callback_handle", "legacy"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := keepalive.NewSettingsHandleStore(settings).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != "legacy" || !got.Foreground {
		t.Errorf("Load() = %+v, want legacy in foreground mode", got)
	}
}

func TestSettingsHandleStore_CorruptFlag(t *testing.T) {
	settings := testutil.NewSettings(t)
	ctx := context.Background()
	if err := settings.SetMany(ctx, map[string]string{
		"keepalive.callback_handle": "sync",
		"keepalive.is_foreground":   "maybe",
	}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	_, err := keepalive.NewSettingsHandleStore(settings).Load(ctx)
	if err == nil {
		t.Fatal("Load() with a corrupt flag: expected error")
	}
	if errors.Is(err, keepalive.ErrNoHandle) {
		t.Error("corrupt flag reported as ErrNoHandle")
	}
}

func TestSettingsHandleStore_LookupFailureOutcome(t *testing.T) {
	settings := testutil.NewSettings(t)
	ctx := context.Background()
	if err := settings.SetMany(ctx, map[string]string{
		"keepalive.callback_handle": "sync",
		"keepalive.is_foreground":   "maybe",
	}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}
	h := newHarnessWithStore(t, keepalive.NewSettingsHandleStore(settings))

	if got := h.sup.RequestRun(ctx); got != keepalive.OutcomeLookupFailed {
		t.Errorf("RequestRun() = %v, want %v", got, keepalive.OutcomeLookupFailed)
	}
	if n := h.exec.Starts(); n != 0 {
		t.Errorf("executor starts = %d, want 0", n)
	}
}
