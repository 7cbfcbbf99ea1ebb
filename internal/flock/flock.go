// Package flock provides cross-platform advisory file locking. Locks
// guard against concurrent runs of the same job and against two daemons
// sharing one data directory.
package flock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked is returned when a lock is already held elsewhere. Holding
// includes another descriptor within the same process, so a job can never
// overlap itself regardless of which process triggered it.
var ErrLocked = errors.New("lock is held elsewhere")

// Lock is a held exclusive file lock. The zero value is released.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive non-blocking lock on path, creating the file
// if needed. Returns ErrLocked immediately when the lock cannot be
// acquired; there is no waiting, because callers skip rather than queue.
// The holder's PID is written into the file for inspection.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := Exclusive(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	// Best effort: the PID helps an operator see who holds a stale-looking
	// lock. The lock itself does not depend on the contents.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the lock file. Calling Release on a nil or
// already-released lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := Unlock(l.file.Fd())
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
