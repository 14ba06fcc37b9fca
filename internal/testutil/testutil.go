// Package testutil provides fixtures for tests that need a project directory
// on disk.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DataDirName is the per-project state directory created by SetupTestProject.
const DataDirName = ".sightline"

// SetupTestProject creates a temporary project directory with an empty state
// directory. It is removed when the test completes.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, DataDirName), 0o755); err != nil {
		t.Fatalf("failed to create state dir: %v", err)
	}
	return dir
}

// SetupTestProjectWithContent creates a test project with the given files.
// Keys are slash-separated paths relative to the project root.
func SetupTestProjectWithContent(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := SetupTestProject(t)
	for path, content := range files {
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(path)), content)
	}
	return dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// ReadFile returns the contents of path, failing the test if it cannot be read.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(data)
}

// FileExists reports whether path exists.
func FileExists(t *testing.T, path string) bool {
	t.Helper()

	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	return false
}
