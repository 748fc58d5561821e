package middleware

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
)

// Stats accumulates crawl counters. All methods are safe for concurrent use.
type Stats struct {
	requestsIssued    atomic.Int64
	responsesReceived atomic.Int64
	bytesDownloaded   atomic.Int64
	requestsRetried   atomic.Int64
	requestsDropped   atomic.Int64

	mu          sync.Mutex
	errorCounts map[fetcher.ErrorType]int64
}

// NewStats creates a zeroed Stats.
func NewStats() *Stats {
	return &Stats{errorCounts: make(map[fetcher.ErrorType]int64)}
}

// RecordRequest counts one issued request.
func (s *Stats) RecordRequest() { s.requestsIssued.Add(1) }

// RecordDropped counts one request dropped before fetching.
func (s *Stats) RecordDropped() { s.requestsDropped.Add(1) }

// RecordRetry counts one re-enqueued retry.
func (s *Stats) RecordRetry() { s.requestsRetried.Add(1) }

// RecordResponse counts one received response and its body size.
func (s *Stats) RecordResponse(resp *fetcher.Response) {
	s.responsesReceived.Add(1)
	s.bytesDownloaded.Add(int64(len(resp.Body)))

	if resp.ErrorType != fetcher.ErrorNone {
		s.mu.Lock()
		s.errorCounts[resp.ErrorType]++
		s.mu.Unlock()
	}
}

// Snapshot is a point-in-time copy of the counters, JSON-serializable.
type Snapshot struct {
	RequestsIssued    int64            `json:"requests_issued"`
	ResponsesReceived int64            `json:"responses_received"`
	BytesDownloaded   int64            `json:"bytes_downloaded"`
	RequestsRetried   int64            `json:"requests_retried"`
	RequestsDropped   int64            `json:"requests_dropped"`
	Duration          time.Duration    `json:"duration_ns"`
	ErrorCounts       map[string]int64 `json:"error_counts"`
}

// Snapshot returns a copy of the counters with the given crawl duration.
func (s *Stats) Snapshot(duration time.Duration) *Snapshot {
	snap := &Snapshot{
		RequestsIssued:    s.requestsIssued.Load(),
		ResponsesReceived: s.responsesReceived.Load(),
		BytesDownloaded:   s.bytesDownloaded.Load(),
		RequestsRetried:   s.requestsRetried.Load(),
		RequestsDropped:   s.requestsDropped.Load(),
		Duration:          duration,
		ErrorCounts:       make(map[string]int64),
	}

	s.mu.Lock()
	for k, v := range s.errorCounts {
		snap.ErrorCounts[string(k)] = v
	}
	s.mu.Unlock()

	return snap
}
