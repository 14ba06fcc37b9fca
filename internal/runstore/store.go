// Package runstore keeps the history of finished runs on the local
// filesystem.
//
// Each run is one JSON file, <dir>/<run_id>.json, holding a summary and the
// run's raw event log. The event log is the source of truth: Snapshot
// rebuilds the full projection by replaying it through the reducer, so
// stored runs stay readable when the projection gains fields.
package runstore

import (
	"cmp"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/fsutil"
	"github.com/Iron-Ham/sightline/internal/logging"
	"github.com/Iron-Ham/sightline/internal/run"
)

const (
	storeName   = "runs"
	fileExt     = ".json"
	formatV1    = 1
	loadWorkers = 8
)

// Summary is the listing view of a stored run.
type Summary struct {
	ID         string          `json:"id"`
	Goal       string          `json:"goal,omitempty"`
	Status     run.Status      `json:"status"`
	Stopped    bool            `json:"stopped,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitzero"`
	EndedAt    time.Time       `json:"ended_at,omitzero"`
	Tasks      run.TaskMetrics `json:"tasks"`
	Candidates int             `json:"candidates,omitempty"`
	Events     int             `json:"events"`
}

// Duration returns the wall time of the run, or zero when either bound is
// unknown.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Record is the stored form of one run.
type Record struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Summary Summary           `json:"summary"`
	Events  []json.RawMessage `json:"events"`
}

// NewRecord builds a record from a run projection and the events that
// produced it.
func NewRecord(snap run.Snapshot, events []event.Event) (Record, error) {
	raw := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		data, err := event.Encode(ev)
		if err != nil {
			return Record{}, err
		}
		raw = append(raw, data)
	}
	return Record{
		Version: formatV1,
		Summary: Summary{
			ID:         snap.RunID,
			Goal:       snap.Goal,
			Status:     snap.Status,
			Stopped:    snap.Stopped,
			Error:      snap.Error,
			StartedAt:  snap.StartedAt,
			EndedAt:    snap.EndedAt,
			Tasks:      snap.Metrics,
			Candidates: len(snap.Candidates),
			Events:     len(raw),
		},
		Events: raw,
	}, nil
}

// DecodeEvents decodes the stored event log. Records that no longer decode
// are skipped, matching how a live stream treats them.
func (r Record) DecodeEvents() []event.Event {
	out := make([]event.Event, 0, len(r.Events))
	for _, raw := range r.Events {
		if ev, err := event.Decode(raw); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Store is a directory of run records. It is safe for concurrent use within
// one process.
type Store struct {
	dir    string
	logger *logging.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStoreError(storeName, "create directory", err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{dir: dir, logger: logger.WithComponent("runstore"), now: time.Now}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// Save writes rec atomically, replacing any earlier record with the same id.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := rec.Summary.ID
	if !validID(id) {
		return errors.NewStoreError(storeName, "save: invalid run id", errors.ErrMissingEntityID).WithKey(id)
	}
	if rec.Version == 0 {
		rec.Version = formatV1
	}
	rec.SavedAt = s.now().UTC()
	if rec.Events == nil {
		rec.Events = []json.RawMessage{}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.NewStoreError(storeName, "encode", err).WithKey(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(s.path(id), data, 0o644); err != nil {
		return errors.NewStoreError(storeName, "save", err).WithKey(id)
	}
	s.logger.Info("run saved", logging.KeyRunID, id, "status", rec.Summary.Status, "events", len(rec.Events))
	return nil
}

// Load reads the record of run id.
func (s *Store) Load(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !validID(id) {
		return Record{}, errors.NewStoreError(storeName, "load", errors.ErrRunNotFound).WithKey(id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *Store) load(id string) (Record, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return Record{}, errors.NewStoreError(storeName, "load", errors.ErrRunNotFound).WithKey(id)
	}
	if err != nil {
		return Record{}, errors.NewStoreError(storeName, "load", err).WithKey(id)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errors.NewStoreError(storeName, "decode", err).WithKey(id)
	}
	return rec, nil
}

// Delete removes the record of run id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return errors.NewStoreError(storeName, "delete", errors.ErrRunNotFound).WithKey(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.NewStoreError(storeName, "delete", errors.ErrRunNotFound).WithKey(id)
		}
		return errors.NewStoreError(storeName, "delete", err).WithKey(id)
	}
	return nil
}

// List returns run summaries, newest first by start time. limit <= 0 means
// all runs. Records that cannot be read are logged and skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewStoreError(storeName, "list", err)
	}

	p := pool.NewWithResults[*Summary]().WithContext(ctx).WithMaxGoroutines(loadWorkers)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != fileExt || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		p.Go(func(ctx context.Context) (*Summary, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, err := s.load(id)
			if err != nil {
				s.logger.Warn("skipping unreadable run", logging.KeyRunID, id, "error", err)
				return nil, nil
			}
			return &rec.Summary, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(results))
	for _, r := range results {
		if r != nil {
			summaries = append(summaries, *r)
		}
	}
	slices.SortFunc(summaries, func(a, b Summary) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Snapshot rebuilds the projection of run id by replaying its event log.
func (s *Store) Snapshot(ctx context.Context, id string) (run.Snapshot, error) {
	rec, err := s.Load(ctx, id)
	if err != nil {
		return run.Snapshot{}, err
	}
	return run.Replay(s.logger, rec.Summary.ID, rec.Summary.Goal, rec.DecodeEvents()), nil
}
