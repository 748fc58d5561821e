package middleware

import (
	"context"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

// Metrics increments crawl counters around every fetch. Registered last so
// that requests dropped earlier in the chain are not counted as issued.
type Metrics struct {
	stats *Stats
}

// NewMetrics creates the metrics middleware.
func NewMetrics(stats *Stats) *Metrics {
	return &Metrics{stats: stats}
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) BeforeRequest(ctx context.Context, req *frontier.Request) Verdict {
	m.stats.RecordRequest()
	return Proceed
}

func (m *Metrics) AfterResponse(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *fetcher.Response {
	m.stats.RecordResponse(resp)
	return resp
}
