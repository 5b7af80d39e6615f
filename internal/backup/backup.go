// Package backup provides tar.gz-based backup and restore for keepalived
// data: the SQLite database holding the task handle and alarm state, plus
// an optional config file.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/keepalive/internal/store"
	"github.com/HerbHall/keepalive/internal/version"
)

// ManifestName is the archive entry describing the backup.
const ManifestName = "manifest.json"

// maxEntrySize bounds a single restored file.
const maxEntrySize = 1 << 30

// Manifest records what a backup contains.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
	Config    string    `json:"config,omitempty"`
}

// ErrExists is returned by Restore when a target file exists and force is off.
var ErrExists = errors.New("backup: target file exists")

// Backup writes a tar.gz archive with the database, the config file (when
// configPath names an existing file) and a manifest. The WAL is checkpointed
// first so the database file is consistent on its own.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) (Manifest, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return Manifest{}, fmt.Errorf("database file not found: %w", err)
	}
	if err := checkpoint(ctx, dbPath); err != nil {
		return Manifest{}, fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	m := Manifest{
		CreatedAt: time.Now().UTC(),
		Version:   version.Short(),
		Database:  filepath.Base(dbPath),
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			m.Config = filepath.Base(configPath)
		}
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := writeManifest(tw, m); err != nil {
		return Manifest{}, err
	}
	if err := addFileToTar(tw, dbPath, m.Database); err != nil {
		return Manifest{}, fmt.Errorf("adding database to archive: %w", err)
	}
	if m.Config != "" {
		if err := addFileToTar(tw, configPath, m.Config); err != nil {
			return Manifest{}, fmt.Errorf("adding config to archive: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return Manifest{}, fmt.Errorf("finishing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return Manifest{}, fmt.Errorf("finishing archive: %w", err)
	}
	return m, outFile.Close()
}

// Restore extracts an archive made by Backup into dir. Existing files are
// only replaced when force is set. The daemon must not be running.
func Restore(ctx context.Context, archivePath, dir string, force bool) (Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return Manifest{}, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading gzip: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Manifest{}, fmt.Errorf("creating target directory: %w", err)
	}

	var m Manifest
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(filepath.Clean(hdr.Name))
		if name != hdr.Name || name == "." || name == ".." {
			return Manifest{}, fmt.Errorf("unsafe archive entry %q", hdr.Name)
		}

		if name == ManifestName {
			if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&m); err != nil {
				return Manifest{}, fmt.Errorf("decoding manifest: %w", err)
			}
			continue
		}
		if err := extract(tr, filepath.Join(dir, name), hdr.Size, force); err != nil {
			return Manifest{}, err
		}
	}

	if m.Database == "" {
		return Manifest{}, errors.New("archive has no manifest")
	}
	// A stale WAL from the replaced database must not be replayed over the
	// restored file.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(filepath.Join(dir, m.Database+suffix))
	}
	return m, nil
}

func extract(r io.Reader, target string, size int64, force bool) error {
	if size > maxEntrySize {
		return fmt.Errorf("archive entry %s too large", filepath.Base(target))
	}
	if _, err := os.Stat(target); err == nil && !force {
		return fmt.Errorf("%w: %s (use --force to overwrite)", ErrExists, target)
	}

	tmp := target + ".restore"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := io.CopyN(out, r, size); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

func checkpoint(ctx context.Context, dbPath string) error {
	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Checkpoint(ctx)
}

func writeManifest(tw *tar.Writer, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    ManifestName,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: m.CreatedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	_, err = tw.Write(data)
	return err
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
