// Package lockfile provides an advisory flock-based lock enforcing
// producer singularity: spec.md requires at most one producer process
// polling the tracker and enqueuing tasks at a time, and flock is the
// direct, non-debatable way to express that on a single host/volume.
package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds an open, exclusively-locked file. The lock is released, and
// the underlying file descriptor closed, by calling Unlock (or Close).
type Lock struct {
	f *os.File
}

// TryAcquire attempts a non-blocking exclusive lock on path, creating it
// if necessary. Returns ErrLocked if another process already holds it.
func TryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// ErrLocked is returned by TryAcquire when another process holds the lock.
var ErrLocked = fmt.Errorf("lockfile: already locked by another process")

// Unlock releases the lock and closes the underlying file.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return l.f.Close()
}
