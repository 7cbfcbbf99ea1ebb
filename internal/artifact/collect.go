package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flemzord/baton/internal/security"
)

// ValidGlob reports whether pattern is a well-formed glob.
func ValidGlob(pattern string) bool {
	return doublestar.ValidatePattern(pattern)
}

// Collect gathers the regular files under dir whose dir-relative path
// matches the glob pattern. A plain `*x.json` matches only the top
// level; use `**/` to reach into subdirectories. Results are sorted by
// name so snapshots are deterministic.
func Collect(dir, pattern string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return fmt.Errorf("match %q: %w", pattern, err)
		}
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) //nolint:gosec // path comes from walking the job workdir
		if err != nil {
			return err
		}
		files = append(files, File{
			Name:    rel,
			Data:    data,
			Mode:    info.Mode().Perm(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", pattern, err)
	}

	slices.SortFunc(files, func(a, b File) int {
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

// Materialize writes files into dir, creating parent directories as
// needed and overwriting whatever is there. Names are validated so a
// tampered store cannot write outside dir.
func Materialize(dir string, files []File) error {
	for _, f := range files {
		if err := security.ValidateRelativePath(f.Name); err != nil {
			return fmt.Errorf("materialize: %w", err)
		}

		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if parent := filepath.Dir(target); parent != dir {
			if err := os.MkdirAll(parent, 0o750); err != nil {
				return fmt.Errorf("materialize %s: %w", f.Name, err)
			}
		}

		mode := f.Mode.Perm()
		if mode == 0 {
			mode = 0o600
		}
		if err := os.WriteFile(target, f.Data, mode); err != nil {
			return fmt.Errorf("materialize %s: %w", f.Name, err)
		}
		if !f.ModTime.IsZero() {
			// Best effort: some tools compare session freshness by mtime.
			_ = os.Chtimes(target, f.ModTime, f.ModTime)
		}
	}
	return nil
}
