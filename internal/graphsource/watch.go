package graphsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange whenever the snapshot file of project is written,
// created, renamed over, or removed. It blocks until ctx is done. Bursts are
// not coalesced here; callers feed onChange into a debouncer.
func (s *FileSource) Watch(ctx context.Context, project string, onChange func()) error {
	dir := Dir(project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: atomic writes replace the inode.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debug("watching graph snapshot", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSnapshotFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("graph snapshot watch error", "error", err)
		}
	}
}

func isSnapshotFile(path string) bool {
	switch filepath.Base(path) {
	case JSONFile, YAMLFile, YMLFile:
		return true
	default:
		return false
	}
}
