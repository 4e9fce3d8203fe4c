// Package lock guards a data directory against being opened by more
// than one process at a time, using an advisory exclusive flock on a
// sentinel file.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/mrkeg/bitkv/errs"
)

const fileName = "lock"

// Lock holds an open, flocked file. Release drops the lock.
type Lock struct {
	f *os.File
}

// Acquire takes an exclusive, non-blocking flock on dir/lock. It fails
// with errs.ErrLocked if another process already holds it.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", errs.ErrLocked, dir)
	}

	return &Lock{f: f}, nil
}

// Release drops the flock and closes the underlying file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.f.Close()
}
