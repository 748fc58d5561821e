package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedsearch-crawler/feedsearch/internal/config"
	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

// Statuses worth retrying. Other 4xx statuses are final.
var retryStatuses = map[int]struct{}{
	429: {},
	502: {},
	503: {},
	504: {},
}

// Retry re-enqueues transient failures with exponential backoff, honoring
// the remaining global budget.
type Retry struct {
	maxRetries int
	enqueue    Enqueuer
	stats      *Stats
	log        *logrus.Logger

	mu       sync.Mutex
	deadline time.Time
}

// NewRetry creates the retry middleware.
func NewRetry(maxRetries int, enqueue Enqueuer, stats *Stats, log *logrus.Logger) *Retry {
	return &Retry{
		maxRetries: maxRetries,
		enqueue:    enqueue,
		stats:      stats,
		log:        log,
	}
}

func (m *Retry) Name() string { return "retry" }

// SetDeadline records the global crawl deadline. A retry whose backoff would
// overrun it is skipped.
func (m *Retry) SetDeadline(deadline time.Time) {
	m.mu.Lock()
	m.deadline = deadline
	m.mu.Unlock()
}

// AfterResponse consumes retriable failures by re-enqueueing the request at
// the same priority.
func (m *Retry) AfterResponse(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *fetcher.Response {
	if !retriable(resp) {
		return resp
	}
	if req.Retries >= m.maxRetries {
		return resp
	}

	backoff := config.RetryBaseDelay << uint(req.Retries)
	if backoff > config.RetryMaxDelay {
		backoff = config.RetryMaxDelay
	}

	m.mu.Lock()
	deadline := m.deadline
	m.mu.Unlock()
	if !deadline.IsZero() && time.Now().Add(backoff).After(deadline) {
		m.log.WithField("url", req.URL).Debug("retry skipped, would exceed deadline")
		return resp
	}

	req.Retries++
	req.Delay = backoff

	if !m.enqueue.EnqueueRetry(req) {
		return resp
	}

	m.stats.RecordRetry()
	m.log.WithFields(logrus.Fields{
		"url":     req.URL,
		"attempt": req.Retries,
		"backoff": backoff,
	}).Debug("retrying request")

	// The response is consumed; the retry produces a fresh one.
	return nil
}

func retriable(resp *fetcher.Response) bool {
	switch resp.ErrorType {
	case fetcher.ErrorTimeout, fetcher.ErrorConnection:
		return true
	}
	_, ok := retryStatuses[resp.StatusCode]
	return ok
}
