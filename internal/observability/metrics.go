package observability

import (
	"math"
	"time"
)

// SyncMetrics describes one repository indexing run.
type SyncMetrics struct {
	Repo           string    `json:"repo"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	FilesProcessed int       `json:"files_processed"`
	FilesSkipped   int       `json:"files_skipped"`
	ChunksCreated  int       `json:"chunks_created"`
	Errors         []string  `json:"errors,omitempty"`
}

func (m SyncMetrics) Duration() time.Duration { return m.EndTime.Sub(m.StartTime) }

// QueryMetrics describes one answered question.
type QueryMetrics struct {
	Query           string    `json:"query"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	ChunksRetrieved int       `json:"chunks_retrieved"`
	LLMModel        string    `json:"llm_model"`
	TokensUsed      int       `json:"tokens_used"`
	CostUSD         float64   `json:"cost_usd"`
	Citations       []string  `json:"citations"`
}

func (m QueryMetrics) Duration() time.Duration { return m.EndTime.Sub(m.StartTime) }

type Summary struct {
	TotalSyncs          int     `json:"total_syncs"`
	TotalQueries        int     `json:"total_queries"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalChunksCreated  int     `json:"total_chunks_created"`
	AvgQueryLatencyMS   int64   `json:"avg_query_latency_ms"`
	TotalCostUSD        float64 `json:"total_cost_usd"`
}

// Collector retains recent metrics in bounded buffers. Totals cover every record
// ever added; sums and averages cover the retained window.
type Collector struct {
	syncs   *Ring[SyncMetrics]
	queries *Ring[QueryMetrics]
}

func NewCollector(capacity int) *Collector {
	return &Collector{
		syncs:   NewRing[SyncMetrics](capacity),
		queries: NewRing[QueryMetrics](capacity),
	}
}

func (c *Collector) RecordSync(m SyncMetrics)   { c.syncs.Add(m) }
func (c *Collector) RecordQuery(m QueryMetrics) { c.queries.Add(m) }

func (c *Collector) Syncs() []SyncMetrics    { return c.syncs.Items() }
func (c *Collector) Queries() []QueryMetrics { return c.queries.Items() }

func (c *Collector) Summary() Summary {
	s := Summary{
		TotalSyncs:   c.syncs.Total(),
		TotalQueries: c.queries.Total(),
	}
	for _, m := range c.syncs.Items() {
		s.TotalFilesProcessed += m.FilesProcessed
		s.TotalChunksCreated += m.ChunksCreated
	}

	queries := c.queries.Items()
	var latency time.Duration
	for _, m := range queries {
		latency += m.Duration()
		s.TotalCostUSD += m.CostUSD
	}
	if len(queries) > 0 {
		s.AvgQueryLatencyMS = (latency / time.Duration(len(queries))).Milliseconds()
	}
	s.TotalCostUSD = math.Round(s.TotalCostUSD*100) / 100
	return s
}
