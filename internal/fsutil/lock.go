// Package fsutil holds the small file primitives shared by the file-backed
// stores: an advisory cross-process lock and atomic replacement of a file.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// LockFileName is the lock file created inside a locked directory.
const LockFileName = ".sightline.lock"

// DirLock is an exclusive flock(2) on a lock file inside a directory. It
// serializes read-modify-write cycles between processes sharing the
// directory, such as a CLI mutation racing a watcher's writer.
type DirLock struct {
	path string
	file *os.File
}

// NewDirLock returns an unlocked lock for dir.
func NewDirLock(dir string) *DirLock {
	return &DirLock{path: filepath.Join(dir, LockFileName)}
}

// Lock blocks until the lock is held. dir is created if missing.
func (l *DirLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return nil
}

// TryLock acquires the lock without blocking and reports whether it did.
func (l *DirLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return true, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *DirLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}

// WithLock runs fn while holding the lock on dir.
func WithLock(dir string, fn func() error) error {
	l := NewDirLock(dir)
	if err := l.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = l.Unlock() }()
	return fn()
}
