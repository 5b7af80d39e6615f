package backup_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HerbHall/keepalive/internal/backup"
	"github.com/HerbHall/keepalive/internal/services"
	"github.com/HerbHall/keepalive/internal/store"
)

func openSettings(t *testing.T, path string) (*store.SQLiteStore, *services.SQLiteSettingsRepository) {
	t.Helper()
	db, err := store.New(path)
	if err != nil {
		t.Fatalf("store.New(%q): %v", path, err)
	}
	repo, err := services.NewSQLiteSettingsRepository(context.Background(), db)
	if err != nil {
		db.Close()
		t.Fatalf("NewSQLiteSettingsRepository: %v", err)
	}
	return db, repo
}

// seedDB creates a database file with a registered handle in it.
func seedDB(t *testing.T, dir, handle string) string {
	t.Helper()
	path := filepath.Join(dir, "keepalive.db")
	db, repo := openSettings(t, path)
	defer db.Close()

	if err := repo.Set(context.Background(), "keepalive.callback_handle", handle); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return path
}

func readHandle(t *testing.T, path string) string {
	t.Helper()
	db, repo := openSettings(t, path)
	defer db.Close()

	s, err := repo.Get(context.Background(), "keepalive.callback_handle")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return s.Value
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dbPath := seedDB(t, src, "sync-job")
	cfgPath := filepath.Join(src, "keepalived.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 8470\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	m, err := backup.Backup(ctx, dbPath, cfgPath, archive)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if m.Database != "keepalive.db" || m.Config != "keepalived.yaml" {
		t.Errorf("manifest = %+v", m)
	}

	dst := t.TempDir()
	got, err := backup.Restore(ctx, archive, dst, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got.Database != m.Database {
		t.Errorf("restored manifest database = %q, want %q", got.Database, m.Database)
	}
	if h := readHandle(t, filepath.Join(dst, "keepalive.db")); h != "sync-job" {
		t.Errorf("restored handle = %q, want sync-job", h)
	}

	cfg, err := os.ReadFile(filepath.Join(dst, "keepalived.yaml"))
	if err != nil {
		t.Fatalf("read restored config: %v", err)
	}
	if !strings.Contains(string(cfg), "8470") {
		t.Errorf("restored config = %q", cfg)
	}
}

func TestBackup_MissingConfigSkipped(t *testing.T) {
	src := t.TempDir()
	dbPath := seedDB(t, src, "h")

	m, err := backup.Backup(context.Background(), dbPath, filepath.Join(src, "nope.yaml"), filepath.Join(src, "b.tar.gz"))
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if m.Config != "" {
		t.Errorf("manifest config = %q, want empty", m.Config)
	}
}

func TestBackup_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	if _, err := backup.Backup(context.Background(), filepath.Join(dir, "missing.db"), "", filepath.Join(dir, "b.tar.gz")); err == nil {
		t.Error("Backup of a missing database: expected error")
	}
}

func TestRestore_RefusesOverwriteWithoutForce(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	if _, err := backup.Backup(ctx, seedDB(t, src, "from-backup"), "", archive); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	dst := t.TempDir()
	seedDB(t, dst, "current")

	if _, err := backup.Restore(ctx, archive, dst, false); !errors.Is(err, backup.ErrExists) {
		t.Fatalf("Restore without force error = %v, want ErrExists", err)
	}
	if h := readHandle(t, filepath.Join(dst, "keepalive.db")); h != "current" {
		t.Errorf("handle after refused restore = %q, want current", h)
	}

	if _, err := backup.Restore(ctx, archive, dst, true); err != nil {
		t.Fatalf("Restore with force: %v", err)
	}
	if h := readHandle(t, filepath.Join(dst, "keepalive.db")); h != "from-backup" {
		t.Errorf("handle after forced restore = %q, want from-backup", h)
	}
}

func TestRestore_RejectsUnsafeEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	body := []byte("x")
	if err := tw.WriteHeader(&tar.Header{Name: "../escape.db", Mode: 0o600, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	for _, c := range []interface{ Close() error }{tw, gw, f} {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}

	dst := t.TempDir()
	if _, err := backup.Restore(context.Background(), archive, dst, true); err == nil {
		t.Fatal("Restore of a traversal entry: expected error")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dst), "escape.db")); !os.IsNotExist(err) {
		t.Errorf("escape.db was written outside the target (stat err = %v)", err)
	}
}
