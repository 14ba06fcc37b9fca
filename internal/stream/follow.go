package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/sightline/internal/logging"
)

// Follower tails a growing NDJSON file. A file that shrinks below the read
// offset was truncated or replaced, and is re-read from the start. A trailing
// line without its newline is held back until it is completed, up to
// MaxLineBytes; a longer line is dropped as malformed.
type Follower struct {
	path    string
	logger  *logging.Logger
	maxLine int

	mu      sync.Mutex
	handler *lineHandler
	offset  int64
	partial []byte
	// skipping is set while the rest of an oversized line is discarded.
	skipping bool
}

// NewFollower creates a follower for path. The file need not exist yet.
func NewFollower(path string, apply ApplyFunc, logger *logging.Logger) *Follower {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("stream")
	return &Follower{
		path:    filepath.Clean(path),
		logger:  logger,
		maxLine: MaxLineBytes,
		handler: &lineHandler{apply: apply, logger: logger},
	}
}

// Stats returns the counters so far.
func (f *Follower) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler.stats
}

// Offset returns the byte offset consumed so far.
func (f *Follower) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Run reads what the file already holds, then follows it until ctx is done.
func (f *Follower) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so creation and replacement of the file are seen.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if err := f.ReadNew(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				f.restart("file removed")
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if err := f.ReadNew(); err != nil {
					f.logger.Warn("event stream read failed", "path", f.path, "error", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("event stream watch error", "error", err)
		}
	}
}

// ReadNew consumes everything appended since the last read. A missing file
// is not an error.
func (f *Follower) ReadNew() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat event stream: %w", err)
	}
	if info.Size() < f.offset {
		f.logger.Info("event stream truncated, restarting", "path", f.path, "offset", f.offset, "size", info.Size())
		f.offset = 0
		f.partial = nil
		f.skipping = false
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek event stream: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		switch {
		case f.skipping:
			f.skipping = false
		case i > f.maxLine:
			f.handler.oversized(i)
		default:
			f.handler.handle(buf[:i])
		}
		buf = buf[i+1:]
	}

	switch {
	case f.skipping:
		f.partial = nil
	case len(buf) > f.maxLine:
		f.handler.oversized(len(buf))
		f.skipping = true
		f.partial = nil
	default:
		f.partial = bytes.Clone(buf)
	}
	return nil
}

func (f *Follower) restart(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger.Debug("event stream reset", "path", f.path, "reason", reason)
	f.offset = 0
	f.partial = nil
	f.skipping = false
}
