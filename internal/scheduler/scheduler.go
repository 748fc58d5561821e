package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedsearch-crawler/feedsearch/internal/config"
	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
	"github.com/feedsearch-crawler/feedsearch/internal/middleware"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// ParseResult is what a parse callback produces from one response: follow-up
// requests for the queue and parsed items for the result collector.
type ParseResult struct {
	Requests []*frontier.Request
	Items    []any
}

// ParseFunc dispatches a response to the parser registered on its Request.
type ParseFunc func(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *ParseResult

// ItemFunc receives parsed items (FeedInfo, SiteMeta, Favicon).
type ItemFunc func(item any)

// Scheduler orchestrates the crawl. A fixed pool of workers pops requests
// in priority order, runs the middleware chain and the downloader, and feeds
// callback output back into the queue. The crawl ends at quiescence (empty
// queue, no worker busy) or when the context deadline fires.
type Scheduler struct {
	opts       *config.Options
	queue      *frontier.Queue
	dupe       *frontier.DupeFilter
	throttle   *HostThrottle
	downloader *fetcher.Downloader
	chain      *middleware.Chain
	stats      *middleware.Stats
	log        *logrus.Logger

	parse ParseFunc
	items ItemFunc

	// In-flight fetch cap. Sized to Concurrency.
	sem chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	active int
	done   bool
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(opts *config.Options, downloader *fetcher.Downloader, chain *middleware.Chain, stats *middleware.Stats, log *logrus.Logger) *Scheduler {
	s := &Scheduler{
		opts:       opts,
		queue:      frontier.NewQueue(),
		dupe:       frontier.NewDupeFilter(),
		throttle:   NewHostThrottle(opts.Delay, opts.GlobalRPS),
		downloader: downloader,
		chain:      chain,
		stats:      stats,
		log:        log,
		sem:        make(chan struct{}, opts.Concurrency),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetParseFunc registers the response dispatch function.
func (s *Scheduler) SetParseFunc(fn ParseFunc) { s.parse = fn }

// SetItemFunc registers the parsed-item collector.
func (s *Scheduler) SetItemFunc(fn ItemFunc) { s.items = fn }

// Enqueue adds a request to the queue, subject to the depth cap and the
// duplicate filter. Returns false when the request was suppressed.
func (s *Scheduler) Enqueue(req *frontier.Request) bool {
	if req == nil || req.URL == "" {
		return false
	}
	if s.opts.MaxDepth > 0 && req.Depth > s.opts.MaxDepth {
		s.log.WithField("url", req.URL).Debug("dropped, max depth exceeded")
		return false
	}
	if !s.dupe.CheckAndAdd(req.URL) {
		return false
	}

	s.push(req)
	return true
}

// EnqueueRetry re-adds an already-fetched request, bypassing the duplicate
// filter. The request keeps its identity and priority.
func (s *Scheduler) EnqueueRetry(req *frontier.Request) bool {
	if req == nil {
		return false
	}
	s.push(req)
	return true
}

func (s *Scheduler) push(req *frontier.Request) {
	s.queue.Push(req)

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Run starts the worker pool and blocks until quiescence or context
// cancellation. Partial results collected before cancellation are kept.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.done = false
	s.mu.Unlock()

	// Wake all workers when the deadline fires so they observe done.
	watchdog := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.queue.Clear()
			s.mu.Lock()
			s.done = true
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-watchdog:
		}
	}()

	for i := 0; i < s.opts.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Wait()
	close(watchdog)
}

// SeenURLs returns the number of distinct URLs seen by the duplicate filter.
func (s *Scheduler) SeenURLs() int { return s.dupe.Len() }

// MarkParsed records that a response body has been examined by a callback.
// Returns false if it was already examined.
func (s *Scheduler) MarkParsed(url string) bool { return s.dupe.CheckAndAddParsed(url) }

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.done {
			if s.active == 0 {
				// Quiescence: nothing queued, nobody busy.
				s.done = true
				s.cond.Broadcast()
				break
			}
			s.cond.Wait()
		}
		if s.done {
			s.mu.Unlock()
			return
		}
		req := s.queue.Pop()
		if req == nil {
			s.mu.Unlock()
			continue
		}
		s.active++
		s.mu.Unlock()

		s.process(ctx, req)

		s.mu.Lock()
		s.active--
		if s.queue.Len() == 0 && s.active == 0 {
			s.done = true
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}
}

// process runs one request through throttle, middleware, downloader, and
// parse callback.
func (s *Scheduler) process(ctx context.Context, req *frontier.Request) {
	if ctx.Err() != nil {
		return
	}

	// Retry backoff requested by the retry middleware.
	if req.Delay > 0 {
		if !sleepCtx(ctx, req.Delay) {
			return
		}
		req.Delay = 0
	}

	host, err := urlutil.HostPort(req.URL)
	if err != nil {
		return
	}
	if err := s.throttle.Wait(ctx, host); err != nil {
		return
	}

	// Pre-request hooks run before a fetch slot is held: the robots
	// middleware may stall here waiting for the host's robots.txt, and that
	// must not starve the robots fetch itself of a slot.
	if s.chain.BeforeRequest(ctx, req) == middleware.Drop {
		s.stats.RecordDropped()
		return
	}
	if ctx.Err() != nil {
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	resp := s.downloader.Fetch(ctx, req)

	s.log.WithFields(logrus.Fields{
		"url":     resp.URL,
		"status":  resp.StatusCode,
		"error":   resp.ErrorType,
		"elapsed": resp.Elapsed,
	}).Debug("fetched")

	resp = s.chain.AfterResponse(ctx, req, resp)
	if resp == nil {
		// Consumed by a middleware (e.g. queued for retry).
		return
	}

	// The final URL may differ from the request URL after redirects. Mark
	// it seen so other paths to the same page are not fetched again.
	if resp.URL != req.URL {
		s.dupe.MarkSeen(resp.URL)
	}

	if s.parse == nil {
		return
	}
	result := s.parse(ctx, req, resp)
	if result == nil {
		return
	}
	for _, followUp := range result.Requests {
		s.Enqueue(followUp)
	}
	if s.items != nil {
		for _, item := range result.Items {
			s.items(item)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
