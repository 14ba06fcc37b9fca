// Package cache persists artifact execution records in SQLite so incremental
// plans can be computed across process restarts.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/incremental/cache/migrations"
	"github.com/Iron-Ham/sightline/internal/logging"
	"github.com/Iron-Ham/sightline/internal/registry"
)

const storeName = "cache"

// Config is the configuration for the execution cache.
type Config struct {
	// Path is the SQLite database file.
	Path   string
	Logger *logging.Logger
}

func (c *Config) defaults() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if c.Logger == nil {
		c.Logger = logging.NopLogger()
	}
	c.Logger = c.Logger.WithComponent("cache")
	return nil
}

// Cache is the SQLite-backed execution record store.
type Cache struct {
	db       *sql.DB
	migrator *migrations.Migrator
	logger   *logging.Logger
	now      func() time.Time
}

// Open opens (creating if needed) the cache database and applies migrations.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.NewStoreError(storeName, "could not create directory", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewStoreError(storeName, "could not open database", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.NewStoreError(storeName, "could not ping database", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		_ = db.Close()
		return nil, errors.NewStoreError(storeName, "could not create migrator", err)
	}
	if err := migrator.Up(ctx); err != nil {
		_ = db.Close()
		return nil, errors.NewStoreError(storeName, "could not run migrations", err)
	}

	cfg.Logger.Debug("cache opened", "path", cfg.Path)
	return &Cache{db: db, migrator: migrator, logger: cfg.Logger, now: time.Now}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the execution record for id.
func (c *Cache) Get(ctx context.Context, id string) (incremental.Execution, error) {
	id = registry.Normalize(id)
	row := c.db.QueryRowContext(ctx, `
		SELECT id, input_hash, status, error, executed_at, duration_ms, skip_count
		FROM artifacts WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return incremental.Execution{}, errors.NewStoreError(storeName, "get", errors.ErrCacheEntryNotFound).WithKey(id)
	}
	if err != nil {
		return incremental.Execution{}, errors.NewStoreError(storeName, "get", err).WithKey(id)
	}
	return exec, nil
}

// Set records an execution. An existing record is replaced, except that its
// skip count carries over.
func (c *Cache) Set(ctx context.Context, exec incremental.Execution) error {
	id := registry.Normalize(exec.ArtifactID)
	if id == "" {
		return errors.NewStoreError(storeName, "set", errors.ErrMissingEntityID)
	}
	if !exec.Status.Valid() {
		return errors.NewStoreError(storeName, fmt.Sprintf("set: invalid status %q", exec.Status), nil).WithKey(id)
	}

	now := c.now()
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = now
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, input_hash, status, error, executed_at, duration_ms, skip_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			input_hash = excluded.input_hash,
			status = excluded.status,
			error = excluded.error,
			executed_at = excluded.executed_at,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`,
		id, exec.InputHash, string(exec.Status), exec.Error,
		exec.ExecutedAt.UnixMilli(), exec.DurationMs, exec.SkipCount, now.UnixMilli(),
	)
	if err != nil {
		return errors.NewStoreError(storeName, "set", err).WithKey(id)
	}

	c.logger.Debug("execution recorded", "artifact_id", id, "status", exec.Status)
	return nil
}

// RecordSkip increments the skip counter of an existing record.
func (c *Cache) RecordSkip(ctx context.Context, id string) error {
	id = registry.Normalize(id)
	res, err := c.db.ExecContext(ctx,
		`UPDATE artifacts SET skip_count = skip_count + 1, updated_at = ? WHERE id = ?`,
		c.now().UnixMilli(), id)
	if err != nil {
		return errors.NewStoreError(storeName, "record skip", err).WithKey(id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewStoreError(storeName, "record skip", errors.ErrCacheEntryNotFound).WithKey(id)
	}
	return nil
}

// RecordPlan bumps the skip counter of every skipped artifact in plan.
// Artifacts without a record are ignored.
func (c *Cache) RecordPlan(ctx context.Context, plan incremental.IncrementalPlan) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(storeName, "record plan", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := c.now().UnixMilli()
	for _, id := range plan.ToSkip {
		if _, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET skip_count = skip_count + 1, updated_at = ? WHERE id = ?`,
			now, id); err != nil {
			return errors.NewStoreError(storeName, "record plan", err).WithKey(id)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreError(storeName, "record plan", err)
	}
	return nil
}

// Delete removes the record for id. It reports whether a record existed.
func (c *Cache) Delete(ctx context.Context, id string) (bool, error) {
	id = registry.Normalize(id)
	res, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return false, errors.NewStoreError(storeName, "delete", err).WithKey(id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStoreError(storeName, "delete", err).WithKey(id)
	}
	return n > 0, nil
}

// Clear removes every execution record and run. It returns the number of
// artifact records removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewStoreError(storeName, "clear", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM artifacts`)
	if err != nil {
		return 0, errors.NewStoreError(storeName, "clear", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_runs`); err != nil {
		return 0, errors.NewStoreError(storeName, "clear", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.NewStoreError(storeName, "clear", err)
	}

	n, _ := res.RowsAffected()
	c.logger.Info("cache cleared", "artifacts", n)
	return n, nil
}

// ResetSchema reverts every migration and re-applies them, dropping all
// records. It recovers a cache whose schema was left dirty.
func (c *Cache) ResetSchema(ctx context.Context) error {
	if err := c.migrator.Reset(ctx); err != nil {
		return errors.NewStoreError(storeName, "reset schema", err)
	}
	c.logger.Info("cache schema reset")
	return nil
}

// All returns every record keyed by artifact id, the shape incremental.Plan
// consumes.
func (c *Cache) All(ctx context.Context) (map[string]incremental.Execution, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, input_hash, status, error, executed_at, duration_ms, skip_count
		FROM artifacts ORDER BY id`)
	if err != nil {
		return nil, errors.NewStoreError(storeName, "list", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]incremental.Execution)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.NewStoreError(storeName, "list", err)
		}
		out[exec.ArtifactID] = exec
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(storeName, "list", err)
	}
	return out, nil
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalArtifacts   int                                 `json:"totalArtifacts"`
	ByStatus         map[incremental.ExecutionStatus]int `json:"byStatus"`
	TotalSkips       int                                 `json:"totalSkips"`
	AvgDurationMs    float64                             `json:"avgDurationMs"`
	EstimatedSavedMs int64                               `json:"estimatedSavedMs"`
	Runs             int                                 `json:"runs"`
	LastRun          *RunRecord                          `json:"lastRun,omitempty"`
	Schema           migrations.Version                  `json:"schema"`
}

// Stats returns aggregate counters. EstimatedSavedMs is the sum over
// artifacts of skip count times recorded duration.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[incremental.ExecutionStatus]int)}

	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM artifacts GROUP BY status`)
	if err != nil {
		return Stats{}, errors.NewStoreError(storeName, "stats", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return Stats{}, errors.NewStoreError(storeName, "stats", err)
		}
		stats.ByStatus[incremental.ExecutionStatus(status)] = n
		stats.TotalArtifacts += n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, errors.NewStoreError(storeName, "stats", err)
	}

	var avg sql.NullFloat64
	err = c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(skip_count), 0),
		       AVG(CASE WHEN duration_ms > 0 THEN duration_ms END),
		       COALESCE(SUM(skip_count * duration_ms), 0)
		FROM artifacts`).Scan(&stats.TotalSkips, &avg, &stats.EstimatedSavedMs)
	if err != nil {
		return Stats{}, errors.NewStoreError(storeName, "stats", err)
	}
	if avg.Valid {
		stats.AvgDurationMs = avg.Float64
	}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_runs`).Scan(&stats.Runs); err != nil {
		return Stats{}, errors.NewStoreError(storeName, "stats", err)
	}
	if stats.Runs > 0 {
		last, err := c.lastRun(ctx)
		if err != nil {
			return Stats{}, err
		}
		stats.LastRun = &last
	}

	schema, err := c.migrator.Version(ctx)
	if err != nil {
		return Stats{}, errors.NewStoreError(storeName, "stats", err)
	}
	stats.Schema = schema
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (incremental.Execution, error) {
	var (
		exec       incremental.Execution
		status     string
		executedAt int64
	)
	if err := s.Scan(&exec.ArtifactID, &exec.InputHash, &status, &exec.Error,
		&executedAt, &exec.DurationMs, &exec.SkipCount); err != nil {
		return incremental.Execution{}, err
	}
	exec.Status = incremental.ExecutionStatus(status)
	exec.ExecutedAt = time.UnixMilli(executedAt).UTC()
	return exec, nil
}
