package observability

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/config"
)

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	assert.Empty(t, r.Items())

	r.Add(1)
	r.Add(2)
	assert.Equal(t, []int{1, 2}, r.Items())

	r.Add(3)
	r.Add(4)
	r.Add(5)
	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, 5, r.Total())
}

func TestCollectorSummary(t *testing.T) {
	c := NewCollector(2)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.RecordSync(SyncMetrics{Repo: "a", FilesProcessed: 10, ChunksCreated: 40})
	c.RecordSync(SyncMetrics{Repo: "b", FilesProcessed: 5, ChunksCreated: 12})
	c.RecordQuery(QueryMetrics{StartTime: start, EndTime: start.Add(100 * time.Millisecond), CostUSD: 0.014})
	c.RecordQuery(QueryMetrics{StartTime: start, EndTime: start.Add(300 * time.Millisecond), CostUSD: 0.013})

	s := c.Summary()
	assert.Equal(t, Summary{
		TotalSyncs:          2,
		TotalQueries:        2,
		TotalFilesProcessed: 15,
		TotalChunksCreated:  52,
		AvgQueryLatencyMS:   200,
		TotalCostUSD:        0.03,
	}, s)

	c.RecordSync(SyncMetrics{Repo: "c", FilesProcessed: 1})
	s = c.Summary()
	assert.Equal(t, 3, s.TotalSyncs)
	assert.Equal(t, 6, s.TotalFilesProcessed)
	assert.Len(t, c.Syncs(), 2)
}

func TestCollectorSummary_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, NewCollector(10).Summary())
}

func TestSetupLoggerAndOperation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "app.log")
	closer, err := SetupLogger(config.LogConfig{Level: "debug", File: file})
	require.NoError(t, err)

	op := StartOperation("index_repo", map[string]any{"repo": "acme/widgets"})
	assert.NotEmpty(t, op.ID())
	op.End(errors.New("boom"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"operation":"index_repo"`)
	assert.Contains(t, string(data), "Failed index_repo")
	assert.Contains(t, string(data), `"repo":"acme/widgets"`)

	_, err = SetupLogger(config.LogConfig{Level: "info"})
	require.NoError(t, err)
}
