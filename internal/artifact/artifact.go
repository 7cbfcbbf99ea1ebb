// Package artifact defines session artifact storage. An artifact is a
// named slot holding the files a job needs to resume where it left off,
// like login session state. Jobs restore the slot before executing and
// persist a fresh snapshot afterwards.
package artifact

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotFound is returned by Restore and Delete when no artifact exists
// under the requested name. On restore it means a cold start, not a
// failure.
var ErrNotFound = errors.New("artifact not found")

// File is one stored file. Name is relative to the job working
// directory, forward-slash separated regardless of platform.
type File struct {
	Name    string      `json:"name"`
	Data    []byte      `json:"-"`
	Mode    fs.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
}

// Info summarizes a stored artifact for listings. Values never include
// file contents; session state stays out of status surfaces.
type Info struct {
	Name      string    `json:"name"`
	Files     int       `json:"files"`
	Bytes     int64     `json:"bytes"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Store persists artifact slots. Implementations must make Persist
// atomic: a reader never sees a half-replaced slot.
type Store interface {
	// Restore returns the files saved under name. ErrNotFound means no
	// usable snapshot exists, including one past its expiry.
	Restore(ctx context.Context, name string) ([]File, error)

	// Persist replaces the whole slot under name with files. An empty
	// files slice is a no-op, never an error: the previous snapshot, if
	// any, survives. A retention of zero or less means the slot never
	// expires.
	Persist(ctx context.Context, name string, files []File, retention time.Duration) error

	// List returns summaries of all stored artifacts, sorted by name.
	List(ctx context.Context) ([]Info, error)

	// Delete drops the slot, forcing the next run to cold start.
	// Deleting a missing slot returns ErrNotFound.
	Delete(ctx context.Context, name string) error

	// Prune removes slots whose expiry has passed, returning how many
	// were dropped.
	Prune(ctx context.Context, now time.Time) (int, error)
}

// TotalBytes sums the payload sizes of a file set.
func TotalBytes(files []File) int64 {
	var n int64
	for _, f := range files {
		n += int64(len(f.Data))
	}
	return n
}
