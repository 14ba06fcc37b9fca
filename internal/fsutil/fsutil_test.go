package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirLock_LockUnlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	l := NewDirLock(dir)

	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Errorf("lock file should exist: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	// Second unlock is a no-op.
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock() twice error = %v", err)
	}
}

func TestDirLock_TryLockAfterUnlock(t *testing.T) {
	dir := t.TempDir()
	l := NewDirLock(dir)
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	other := NewDirLock(dir)
	ok, err := other.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !ok {
		t.Error("TryLock() = false after the lock was released, want true")
	}
	_ = other.Unlock()
}

func TestWithLock_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	if err := WithLock(t.TempDir(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("WithLock() error = %v, want %v", err, want)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "graph.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "two" {
		t.Errorf("contents = %q, want %q", data, "two")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the target (no temp files)", len(entries))
	}
}
