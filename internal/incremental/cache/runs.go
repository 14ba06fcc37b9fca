package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/incremental"
)

// RunStatus is the state of one recorded incremental execution pass.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunRecord is one incremental execution pass.
type RunRecord struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	TotalArtifacts int        `json:"totalArtifacts"`
	Executed       int        `json:"executed"`
	Skipped        int        `json:"skipped"`
	Failed         int        `json:"failed"`
	Status         RunStatus  `json:"status"`
}

// RunCounts are the outcome counters written when a pass finishes.
type RunCounts struct {
	Executed int
	Skipped  int
	Failed   int
}

// StartRun records the start of a pass over plan.
func (c *Cache) StartRun(ctx context.Context, id string, plan incremental.IncrementalPlan) error {
	if id == "" {
		return errors.NewStoreError(storeName, "start run", errors.ErrMissingEntityID)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO execution_runs (id, started_at, total_artifacts, skipped, status)
		VALUES (?, ?, ?, ?, ?)`,
		id, c.now().UnixMilli(), plan.Total(), len(plan.ToSkip), string(RunRunning))
	if err != nil {
		return errors.NewStoreError(storeName, "start run", err).WithKey(id)
	}
	c.logger.Info("incremental run started",
		"run_id", id,
		"total", plan.Total(),
		"skipping", len(plan.ToSkip),
	)
	return nil
}

// FinishRun records the outcome of a pass.
func (c *Cache) FinishRun(ctx context.Context, id string, status RunStatus, counts RunCounts) error {
	if status == RunRunning {
		return errors.NewStoreError(storeName, fmt.Sprintf("finish run: %q is not a final status", status), nil).WithKey(id)
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE execution_runs
		SET finished_at = ?, executed = ?, skipped = ?, failed = ?, status = ?
		WHERE id = ?`,
		c.now().UnixMilli(), counts.Executed, counts.Skipped, counts.Failed, string(status), id)
	if err != nil {
		return errors.NewStoreError(storeName, "finish run", err).WithKey(id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewStoreError(storeName, "finish run", errors.ErrRunNotFound).WithKey(id)
	}
	c.logger.Info("incremental run finished", "run_id", id, "status", status)
	return nil
}

// GetRun returns the record of pass id.
func (c *Cache) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := c.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, errors.NewStoreError(storeName, "get run", errors.ErrRunNotFound).WithKey(id)
	}
	if err != nil {
		return RunRecord{}, errors.NewStoreError(storeName, "get run", err).WithKey(id)
	}
	return rec, nil
}

func (c *Cache) lastRun(ctx context.Context) (RunRecord, error) {
	row := c.db.QueryRowContext(ctx, runColumns+` ORDER BY started_at DESC, id DESC LIMIT 1`)
	rec, err := scanRun(row)
	if err != nil {
		return RunRecord{}, errors.NewStoreError(storeName, "last run", err)
	}
	return rec, nil
}

const runColumns = `
	SELECT id, started_at, finished_at, total_artifacts, executed, skipped, failed, status
	FROM execution_runs`

func scanRun(s scanner) (RunRecord, error) {
	var (
		rec      RunRecord
		started  int64
		finished sql.NullInt64
		status   string
	)
	if err := s.Scan(&rec.ID, &started, &finished, &rec.TotalArtifacts,
		&rec.Executed, &rec.Skipped, &rec.Failed, &status); err != nil {
		return RunRecord{}, err
	}
	rec.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		rec.FinishedAt = &t
	}
	rec.Status = RunStatus(status)
	return rec, nil
}
