package cache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/incremental/cache"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(context.Background(), cache.Config{
		Path: filepath.Join(t.TempDir(), "nested", "cache.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func execution(id, hash string, status incremental.ExecutionStatus, durationMs int64) incremental.Execution {
	return incremental.Execution{
		ArtifactID: id,
		InputHash:  hash,
		Status:     status,
		ExecutedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DurationMs: durationMs,
	}
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, execution("parse", "h1", incremental.ExecutionCompleted, 1200)))

	got, err := c.Get(ctx, " parse ")
	require.NoError(t, err)
	assert.Equal(t, "parse", got.ArtifactID)
	assert.Equal(t, "h1", got.InputHash)
	assert.Equal(t, incremental.ExecutionCompleted, got.Status)
	assert.Equal(t, int64(1200), got.DurationMs)
	assert.True(t, got.ExecutedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	_, err = c.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheEntryNotFound))
}

func TestCacheSetUpsertKeepsSkipCount(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, execution("a", "h1", incremental.ExecutionCompleted, 10)))
	require.NoError(t, c.RecordSkip(ctx, "a"))
	require.NoError(t, c.RecordSkip(ctx, "a"))

	failed := execution("a", "h2", incremental.ExecutionFailed, 5)
	failed.Error = "exit status 1"
	require.NoError(t, c.Set(ctx, failed))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.InputHash)
	assert.Equal(t, incremental.ExecutionFailed, got.Status)
	assert.Equal(t, "exit status 1", got.Error)
	assert.Equal(t, 2, got.SkipCount)
}

func TestCacheSetRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	err := c.Set(ctx, execution("  ", "h", incremental.ExecutionCompleted, 0))
	assert.True(t, errors.Is(err, errors.ErrMissingEntityID))

	err = c.Set(ctx, execution("a", "h", "exploded", 0))
	assert.Error(t, err)
}

func TestCacheRecordSkipMissing(t *testing.T) {
	c := newCache(t)
	err := c.RecordSkip(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrCacheEntryNotFound))
}

func TestCacheDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, execution("a", "h", incremental.ExecutionCompleted, 0)))
	require.NoError(t, c.Set(ctx, execution("b", "h", incremental.ExecutionCompleted, 0)))
	require.NoError(t, c.Set(ctx, execution("c", "h", incremental.ExecutionCompleted, 0)))

	deleted, err := c.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCacheFeedsPlan(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	g, err := dag.FromSnapshot(dag.Snapshot{Nodes: []dag.Node{
		{ID: "fetch", ContentHash: "f1"},
		{ID: "build", ContentHash: "b2", DependsOn: []string{"fetch"}},
		{ID: "docs", ContentHash: "d1"},
	}})
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, execution("fetch", "f1", incremental.ExecutionCompleted, 300)))
	require.NoError(t, c.Set(ctx, execution("build", "b1", incremental.ExecutionCompleted, 900)))
	require.NoError(t, c.Set(ctx, execution("docs", "d1", incremental.ExecutionSkipped, 100)))

	prior, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, prior, 3)

	plan := incremental.Plan(g, prior)
	assert.Equal(t, []string{"fetch", "docs"}, plan.ToSkip)
	assert.Equal(t, []string{"build"}, plan.ToExecute)

	require.NoError(t, c.RecordPlan(ctx, plan))

	fetch, err := c.Get(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, 1, fetch.SkipCount)
	build, err := c.Get(ctx, "build")
	require.NoError(t, err)
	assert.Equal(t, 0, build.SkipCount)
}

func TestCacheStats(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalArtifacts)
	assert.Nil(t, stats.LastRun)
	assert.Equal(t, uint(1), stats.Schema.Number)
	assert.False(t, stats.Schema.Dirty)

	require.NoError(t, c.Set(ctx, execution("a", "h", incremental.ExecutionCompleted, 100)))
	require.NoError(t, c.Set(ctx, execution("b", "h", incremental.ExecutionCompleted, 300)))
	require.NoError(t, c.Set(ctx, execution("c", "h", incremental.ExecutionFailed, 0)))
	require.NoError(t, c.RecordSkip(ctx, "a"))
	require.NoError(t, c.RecordSkip(ctx, "a"))
	require.NoError(t, c.RecordSkip(ctx, "b"))

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalArtifacts)
	assert.Equal(t, 2, stats.ByStatus[incremental.ExecutionCompleted])
	assert.Equal(t, 1, stats.ByStatus[incremental.ExecutionFailed])
	assert.Equal(t, 3, stats.TotalSkips)
	assert.InDelta(t, 200.0, stats.AvgDurationMs, 0.001)
	assert.Equal(t, int64(2*100+1*300), stats.EstimatedSavedMs)
}

func TestCacheRuns(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	plan := incremental.IncrementalPlan{ToSkip: []string{"a"}, ToExecute: []string{"b", "c"}}
	require.NoError(t, c.StartRun(ctx, "run-1", plan))

	rec, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, cache.RunRunning, rec.Status)
	assert.Equal(t, 3, rec.TotalArtifacts)
	assert.Equal(t, 1, rec.Skipped)
	assert.Nil(t, rec.FinishedAt)

	require.NoError(t, c.FinishRun(ctx, "run-1", cache.RunCompleted, cache.RunCounts{Executed: 1, Skipped: 1, Failed: 1}))

	rec, err = c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, cache.RunCompleted, rec.Status)
	assert.Equal(t, 1, rec.Failed)
	assert.NotNil(t, rec.FinishedAt)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Runs)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, "run-1", stats.LastRun.ID)

	err = c.FinishRun(ctx, "run-404", cache.RunFailed, cache.RunCounts{})
	assert.True(t, errors.Is(err, errors.ErrRunNotFound))

	err = c.FinishRun(ctx, "run-1", cache.RunRunning, cache.RunCounts{})
	assert.Error(t, err)

	_, err = c.GetRun(ctx, "run-404")
	assert.True(t, errors.Is(err, errors.ErrRunNotFound))
}

func TestCacheResetSchema(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, execution("a", "h", incremental.ExecutionCompleted, 10)))
	require.NoError(t, c.StartRun(ctx, "run-1", incremental.IncrementalPlan{ToExecute: []string{"a"}}))

	require.NoError(t, c.ResetSchema(ctx))

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Runs)
	assert.Equal(t, uint(1), stats.Schema.Number)

	// The schema is usable again right away.
	require.NoError(t, c.Set(ctx, execution("b", "h", incremental.ExecutionCompleted, 10)))
}

func TestCacheReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := cache.Open(ctx, cache.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, execution("a", "h1", incremental.ExecutionCompleted, 1)))
	require.NoError(t, c.Close())

	c, err = cache.Open(ctx, cache.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.InputHash)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := cache.Open(context.Background(), cache.Config{})
	assert.Error(t, err)
}
