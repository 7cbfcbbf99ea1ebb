// Package fsstore persists artifacts as plain directories on the local
// filesystem. Each slot lives at root/<name>/ holding a manifest.json and
// the file payloads under files/. Replacing a slot builds the new copy in
// a temp directory first and swaps it in with renames, so a reader never
// sees a half-written snapshot.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/security"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	manifestName = "manifest.json"
	filesDir     = "files"
)

// manifest is the slot metadata written next to the payload files.
type manifest struct {
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Files     []entry   `json:"files"`
}

type entry struct {
	Name    string      `json:"name"`
	Size    int64       `json:"size"`
	Mode    fs.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
}

func (m manifest) info(name string) artifact.Info {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return artifact.Info{
		Name:      name,
		Files:     len(m.Files),
		Bytes:     total,
		SavedAt:   m.SavedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// Store keeps artifact slots under a single root directory.
type Store struct {
	root string
	now  func() time.Time
}

var _ artifact.Store = (*Store)(nil)

// New opens the store rooted at dir, creating the directory when missing.
// Dot-prefixed leftovers from an interrupted swap are swept on open.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	s := &Store{root: dir, now: time.Now}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) sweep() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read artifact root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("sweep %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Restore returns the files saved under name, or artifact.ErrNotFound
// when the slot is missing or past its expiry.
func (s *Store) Restore(ctx context.Context, name string) ([]artifact.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := security.ValidateName(name); err != nil {
		return nil, err
	}
	m, err := s.readManifest(name)
	if err != nil {
		return nil, err
	}
	if expired(m.ExpiresAt, s.now()) {
		return nil, fmt.Errorf("%w: %s expired %s", artifact.ErrNotFound, name, m.ExpiresAt.Format(time.RFC3339))
	}
	files := make([]artifact.File, 0, len(m.Files))
	for _, e := range m.Files {
		if err := security.ValidateRelativePath(e.Name); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", name, err)
		}
		data, err := os.ReadFile(filepath.Join(s.root, name, filesDir, filepath.FromSlash(e.Name))) //nolint:gosec // name and path are validated above
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", name, err)
		}
		files = append(files, artifact.File{Name: e.Name, Data: data, Mode: e.Mode, ModTime: e.ModTime})
	}
	return files, nil
}

// Persist replaces the slot under name with files. An empty files slice
// keeps the previous snapshot and returns nil.
func (s *Store) Persist(ctx context.Context, name string, files []artifact.File, retention time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := security.ValidateName(name); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if err := security.ValidateRelativePath(f.Name); err != nil {
			return err
		}
	}

	tmp, err := os.MkdirTemp(s.root, ".tmp-")
	if err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	saved := s.now().UTC()
	m := manifest{SavedAt: saved, Files: make([]entry, 0, len(files))}
	if retention > 0 {
		m.ExpiresAt = saved.Add(retention)
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(tmp, filesDir, filepath.FromSlash(f.Name)), f.Data, f.Mode); err != nil {
			return fmt.Errorf("artifact %s: %w", name, err)
		}
		m.Files = append(m.Files, entry{Name: f.Name, Size: int64(len(f.Data)), Mode: f.Mode, ModTime: f.ModTime})
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact %s: encode manifest: %w", name, err)
	}
	if err := writeFile(filepath.Join(tmp, manifestName), data, filePerm); err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}

	return s.swap(name, tmp)
}

// swap moves tmp into place as the slot for name. The previous slot is
// parked under a dot-prefixed name before the new one moves in; a crash
// between the renames costs the old snapshot but never exposes a
// half-written one.
func (s *Store) swap(name, tmp string) error {
	slot := filepath.Join(s.root, name)
	old := filepath.Join(s.root, ".old-"+name)
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := os.Rename(slot, old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp, slot); err != nil {
		_ = os.Rename(old, slot)
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	return nil
}

// List returns summaries of every readable slot. Slots whose manifest is
// missing or damaged are skipped rather than failing the listing.
func (s *Store) List(ctx context.Context) ([]artifact.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}
	// ReadDir sorts by filename, which is the order List promises.
	infos := make([]artifact.Info, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := s.readManifest(e.Name())
		if err != nil {
			continue
		}
		infos = append(infos, m.info(e.Name()))
	}
	return infos, nil
}

// Delete drops the slot under name. The slot is renamed aside before
// removal so an interrupted delete never leaves a partially emptied slot
// for Restore to trip over.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := security.ValidateName(name); err != nil {
		return err
	}
	slot := filepath.Join(s.root, name)
	old := filepath.Join(s.root, ".old-"+name)
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := os.Rename(slot, old); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", artifact.ErrNotFound, name)
		}
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	return nil
}

// Prune removes every slot whose expiry has passed and sweeps swap
// leftovers on the way. Slots without an expiry are never pruned.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read artifact root: %w", err)
	}
	pruned := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			_ = os.RemoveAll(filepath.Join(s.root, e.Name()))
			continue
		}
		m, err := s.readManifest(e.Name())
		if err != nil {
			continue
		}
		if !expired(m.ExpiresAt, now) {
			continue
		}
		if err := s.Delete(ctx, e.Name()); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (s *Store) readManifest(name string) (manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name, manifestName)) //nolint:gosec // name is a validated slot name
	if errors.Is(err, fs.ErrNotExist) {
		return manifest{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, name)
	}
	if err != nil {
		return manifest{}, fmt.Errorf("artifact %s: %w", name, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("artifact %s: decode manifest: %w", name, err)
	}
	return m, nil
}

// writeFile writes data with the recorded permissions, syncing before
// close so the payload is durable once the slot swaps in.
func writeFile(path string, data []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = filePerm
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) //nolint:gosec // callers validate path components
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
